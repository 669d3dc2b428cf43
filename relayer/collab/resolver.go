// Package collab holds the collaborators the cross-chain service depends on
// for DID resolution and zero-knowledge proofs, with local implementations.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrDIDNotFound = errors.New("did not found")

// Resolution is the result of resolving a DID.
type Resolution struct {
	DIDDocument json.RawMessage `json:"didDocument"`
	Metadata    map[string]any  `json:"didDocumentMetadata,omitempty"`
}

// DIDResolver resolves a DID to its document.
type DIDResolver interface {
	ResolveDID(ctx context.Context, did string) (Resolution, error)
}

// DIDResolverFunc adapts a function to the DIDResolver interface.
type DIDResolverFunc func(ctx context.Context, did string) (Resolution, error)

func (f DIDResolverFunc) ResolveDID(ctx context.Context, did string) (Resolution, error) {
	return f(ctx, did)
}

// DocumentRegistrar accepts DID documents registered through the relayer.
type DocumentRegistrar interface {
	Register(did string, doc json.RawMessage)
}

// LocalResolver resolves DIDs from an in-memory registry.
// DIDs under the synthesized method resolve to a minimal document even when unregistered.
type LocalResolver struct {
	method string

	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

// NewLocalResolver returns a resolver that synthesizes documents for did:<method>: DIDs.
// An empty method disables synthesis.
func NewLocalResolver(method string) *LocalResolver {
	return &LocalResolver{
		method: method,
		docs:   make(map[string]json.RawMessage),
	}
}

// Register stores doc as the document of did.
func (r *LocalResolver) Register(did string, doc json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[did] = append(json.RawMessage(nil), doc...)
}

func (r *LocalResolver) ResolveDID(ctx context.Context, did string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	r.mu.RLock()
	doc, ok := r.docs[did]
	r.mu.RUnlock()
	if ok {
		return Resolution{
			DIDDocument: doc,
			Metadata:    map[string]any{"source": "registry"},
		}, nil
	}

	if r.method == "" || !strings.HasPrefix(did, "did:"+r.method+":") {
		return Resolution{}, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}

	bz, err := json.Marshal(synthesizedDocument(did))
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		DIDDocument: bz,
		Metadata: map[string]any{
			"source":  "synthesized",
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

type verificationMethod struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Controller string `json:"controller"`
}

type didDocument struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller"`
	VerificationMethod []verificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
}

func synthesizedDocument(did string) didDocument {
	keyID := did + "#key-1"
	return didDocument{
		Context:    []string{"https://www.w3.org/ns/did/v1"},
		ID:         did,
		Controller: did,
		VerificationMethod: []verificationMethod{{
			ID:         keyID,
			Type:       "Ed25519VerificationKey2020",
			Controller: did,
		}},
		Authentication: []string{keyID},
	}
}
