package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer produces the signature of an identity packet.
type Signer interface {
	Sign(payload, key []byte) ([]byte, error)
}

// Verifier checks a signature produced by the matching Signer.
type Verifier interface {
	Verify(payload, signature, publicKey []byte) bool
}

// Ed25519Signer signs with an ed25519 key given either as a 32 byte seed
// or a 64 byte private key.
type Ed25519Signer struct{}

func (Ed25519Signer) Sign(payload, key []byte) ([]byte, error) {
	priv, err := ed25519PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, payload), nil
}

func (Ed25519Signer) Verify(payload, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature)
}

// PublicKey derives the ed25519 public key for key.
func (Ed25519Signer) PublicKey(key []byte) ([]byte, error) {
	priv, err := ed25519PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func ed25519PrivateKey(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	default:
		return nil, fmt.Errorf("invalid ed25519 key length %d", len(key))
	}
}

// Builder assembles and signs identity packets on behalf of a sender.
type Builder struct {
	sender string
	signer Signer
	key    []byte
	now    func() time.Time
}

func NewBuilder(sender string, signer Signer, key []byte) *Builder {
	return &Builder{
		sender: sender,
		signer: signer,
		key:    key,
		now:    time.Now,
	}
}

// Sender is the identity that signs packets produced by b.
func (b *Builder) Sender() string {
	return b.sender
}

// Build returns a signed packet of type t carrying data.
func (b *Builder) Build(t PacketType, data Data) (IdentityPacket, error) {
	if !t.Valid() {
		return IdentityPacket{}, fmt.Errorf("%w: %q", ErrInvalidPacketType, t)
	}

	nonce, err := newNonce()
	if err != nil {
		return IdentityPacket{}, err
	}

	p := IdentityPacket{
		Type:      t,
		Version:   Version,
		Sender:    b.sender,
		Data:      data,
		Timestamp: b.now().UnixMilli(),
		Nonce:     nonce,
	}

	bz, err := p.SignBytes()
	if err != nil {
		return IdentityPacket{}, err
	}
	if p.Signature, err = b.signer.Sign(bz, b.key); err != nil {
		return IdentityPacket{}, fmt.Errorf("failed to sign %s packet: %w", t, err)
	}
	return p, nil
}

// Verify checks the signature of p against publicKey.
func Verify(p IdentityPacket, v Verifier, publicKey []byte) error {
	bz, err := p.SignBytes()
	if err != nil {
		return err
	}
	if !v.Verify(bz, p.Signature, publicKey) {
		return ErrInvalidSignature
	}
	return nil
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
