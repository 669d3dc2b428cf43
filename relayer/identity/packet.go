// Package identity defines the identity packets carried inside relayer packets.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PacketType tags the body of an IdentityPacket.
type PacketType string

const (
	DIDResolution         PacketType = "DID_RESOLUTION"
	CredentialAttestation PacketType = "CREDENTIAL_ATTESTATION"
	ZKProofVerification   PacketType = "ZK_PROOF_VERIFICATION"
	IdentityRegistration  PacketType = "IDENTITY_REGISTRATION"
)

// Version is the identity packet format version.
const Version = "1.0"

var (
	ErrInvalidPacketType = errors.New("invalid identity packet type")
	ErrMissingField      = errors.New("identity packet missing field")
	ErrInvalidSignature  = errors.New("invalid identity packet signature")
)

// Valid reports whether t is a known packet type.
func (t PacketType) Valid() bool {
	switch t {
	case DIDResolution, CredentialAttestation, ZKProofVerification, IdentityRegistration:
		return true
	}
	return false
}

// Data is the union of the bodies of all packet types.
// Which fields are required depends on the packet type.
type Data struct {
	DID         string          `json:"did,omitempty"`
	DIDDocument json.RawMessage `json:"didDocument,omitempty"`
	Credential  json.RawMessage `json:"credential,omitempty"`
	ZKProof     json.RawMessage `json:"zkProof,omitempty"`
	Challenge   string          `json:"challenge,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// IdentityPacket is the signed payload carried in relayer.Packet.Data.
type IdentityPacket struct {
	Type      PacketType `json:"type"`
	Version   string     `json:"version"`
	Sender    string     `json:"sender"`
	Data      Data       `json:"data"`
	Timestamp int64      `json:"timestamp"`
	Nonce     string     `json:"nonce"`
	Signature []byte     `json:"signature"`
}

// SignBytes is the canonical encoding covered by the signature.
func (p IdentityPacket) SignBytes() ([]byte, error) {
	p.Signature = nil
	return json.Marshal(p)
}

// Time returns the packet timestamp.
func (p IdentityPacket) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Validate checks that the packet is well formed for its type.
func (p IdentityPacket) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPacketType, p.Type)
	}
	switch {
	case p.Sender == "":
		return fmt.Errorf("%w: sender", ErrMissingField)
	case p.Nonce == "":
		return fmt.Errorf("%w: nonce", ErrMissingField)
	case len(p.Signature) == 0:
		return fmt.Errorf("%w: signature", ErrMissingField)
	case p.Timestamp == 0:
		return fmt.Errorf("%w: timestamp", ErrMissingField)
	}

	switch p.Type {
	case DIDResolution:
		if p.Data.DID == "" {
			return fmt.Errorf("%w: did", ErrMissingField)
		}
	case CredentialAttestation:
		if len(p.Data.Credential) == 0 {
			return fmt.Errorf("%w: credential", ErrMissingField)
		}
	case ZKProofVerification:
		if len(p.Data.ZKProof) == 0 {
			return fmt.Errorf("%w: zkProof", ErrMissingField)
		}
	case IdentityRegistration:
		if p.Data.DID == "" || len(p.Data.DIDDocument) == 0 {
			return fmt.Errorf("%w: did and didDocument", ErrMissingField)
		}
	}
	return nil
}

// Encode serializes the packet to its JSON wire format.
func Encode(p IdentityPacket) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses and validates a packet in JSON wire format.
func Decode(bz []byte) (IdentityPacket, error) {
	var p IdentityPacket
	if err := json.Unmarshal(bz, &p); err != nil {
		return IdentityPacket{}, fmt.Errorf("failed to decode identity packet: %w", err)
	}
	if err := p.Validate(); err != nil {
		return IdentityPacket{}, err
	}
	return p, nil
}
