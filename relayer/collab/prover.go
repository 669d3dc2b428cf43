package collab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrFieldNotDisclosable = errors.New("credential field not present")

// DisclosureSpec selects the credential fields revealed by a proof.
type DisclosureSpec struct {
	Fields []string `json:"fields"`
}

// ProofOptions tune proof generation.
type ProofOptions struct {
	ProofType string `json:"proofType"`
}

// Proof is a selective disclosure proof over a credential.
type Proof struct {
	ProofType       string         `json:"proofType"`
	Commitment      string         `json:"commitment"`
	PublicSignals   []string       `json:"publicSignals"`
	DisclosedFields []string       `json:"disclosedFields"`
	Disclosed       map[string]any `json:"disclosed"`
	Challenge       string         `json:"challenge"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// ZKProver generates and verifies zero-knowledge proofs.
type ZKProver interface {
	GenerateProof(ctx context.Context, credential json.RawMessage, disclosure DisclosureSpec, challenge string, opts ProofOptions) (Proof, error)
	VerifyProof(ctx context.Context, proof Proof) (bool, error)
}

// DefaultProofType is used when ProofOptions leaves the type empty.
const DefaultProofType = "commitment-sha256"

// CommitmentProver binds the disclosed fields and the challenge into a hash commitment.
// It has the shape of a selective disclosure prover without any zero-knowledge guarantees,
// for use where no proving backend is deployed.
type CommitmentProver struct{}

func (CommitmentProver) GenerateProof(ctx context.Context, credential json.RawMessage, disclosure DisclosureSpec, challenge string, opts ProofOptions) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}

	subject, err := credentialSubject(credential)
	if err != nil {
		return Proof{}, err
	}

	fields := append([]string(nil), disclosure.Fields...)
	if len(fields) == 0 {
		for f := range subject {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	disclosed := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := subject[f]
		if !ok {
			return Proof{}, fmt.Errorf("%w: %s", ErrFieldNotDisclosable, f)
		}
		disclosed[f] = v
	}

	commitment, err := commit(disclosed, challenge)
	if err != nil {
		return Proof{}, err
	}

	proofType := opts.ProofType
	if proofType == "" {
		proofType = DefaultProofType
	}
	return Proof{
		ProofType:       proofType,
		Commitment:      commitment,
		PublicSignals:   []string{commitment},
		DisclosedFields: fields,
		Disclosed:       disclosed,
		Challenge:       challenge,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (CommitmentProver) VerifyProof(ctx context.Context, proof Proof) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if proof.Commitment == "" {
		return false, nil
	}
	commitment, err := commit(proof.Disclosed, proof.Challenge)
	if err != nil {
		return false, err
	}
	if commitment != proof.Commitment {
		return false, nil
	}
	for _, s := range proof.PublicSignals {
		if s == commitment {
			return true, nil
		}
	}
	return false, nil
}

// credentialSubject returns the claims of a verifiable credential,
// or the top level object when it has no credentialSubject.
func credentialSubject(credential json.RawMessage) (map[string]any, error) {
	var vc map[string]any
	if err := json.Unmarshal(credential, &vc); err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}
	if subject, ok := vc["credentialSubject"].(map[string]any); ok {
		return subject, nil
	}
	return vc, nil
}

func commit(disclosed map[string]any, challenge string) (string, error) {
	// encoding/json sorts map keys, so the encoding is canonical.
	bz, err := json.Marshal(disclosed)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(challenge))
	h.Write(bz)
	return hex.EncodeToString(h.Sum(nil)), nil
}
