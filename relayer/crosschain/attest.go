package crosschain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/identity"
	"go.uber.org/zap"
)

const opCredentialAttestation = "credential_attestation"

// AttestCredentialCrossChain asks verifierChain to attest credential issued on issuerChain.
// With includeZKProof a selective disclosure proof is generated first and travels
// with the credential; the verifier then checks the proof instead of the raw claims.
func (s *Service) AttestCredentialCrossChain(ctx context.Context, credential json.RawMessage, issuerChain, verifierChain string, includeZKProof bool) (CredentialAttestation, error) {
	if len(credential) == 0 || !json.Valid(credential) {
		return CredentialAttestation{}, fmt.Errorf("%w: credential must be valid JSON", ErrInvalidRequest)
	}
	ch, err := s.openChannel(issuerChain, verifierChain)
	if err != nil {
		return CredentialAttestation{}, err
	}

	now := s.now()
	rec := CredentialAttestation{
		AttestationID: uuid.NewString(),
		IssuerChain:   issuerChain,
		VerifierChain: verifierChain,
		ChannelID:     ch.ID,
		Credential:    credential,
		Status:        AttestationPending,
		RequestedAt:   now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.attestationTimeout),
	}

	data := identity.Data{
		Credential: credential,
		Challenge:  rec.AttestationID,
		Metadata: map[string]any{
			"attestationId": rec.AttestationID,
			"issuerChain":   issuerChain,
			"verifierChain": verifierChain,
		},
	}
	if includeZKProof {
		proof, err := s.prover.GenerateProof(ctx, credential, collab.DisclosureSpec{Fields: s.disclosureFields}, rec.AttestationID, collab.ProofOptions{})
		if err != nil {
			return CredentialAttestation{}, fmt.Errorf("failed to generate zk proof: %w", err)
		}
		bz, err := json.Marshal(proof)
		if err != nil {
			return CredentialAttestation{}, err
		}
		rec.ZKProof = &proof
		data.ZKProof = bz
	}

	s.attestations.add(rec.AttestationID, rec)

	receipt, err := s.sendIdentityPacket(ctx, ch, identity.CredentialAttestation, data)
	if err != nil {
		s.attestations.remove(rec.AttestationID)
		return CredentialAttestation{}, err
	}

	id := rec.AttestationID
	rec, _ = s.attestations.update(id, func(a *CredentialAttestation) {
		a.Status = AttestationRelaying
		a.PacketKey = receipt.Key
		a.RelayerID = receipt.RelayerID
	}, rec.ExpiresAt.Sub(s.now()), func() { s.expireAttestation(id) })

	s.log.Info(
		"Credential attestation relaying",
		zap.String("attestation_id", id),
		zap.String("channel_id", ch.ID),
		zap.String("packet_key", receipt.Key),
		zap.Bool("zk_proof", includeZKProof),
	)

	s.wg.Add(1)
	go s.completeAttestation(rec, receipt.Acknowledgement)

	return rec, nil
}

func (s *Service) completeAttestation(rec CredentialAttestation, ack relayer.Acknowledgement) {
	defer s.wg.Done()

	ctx, cancel := s.completionContext(rec.ExpiresAt)
	defer cancel()

	result := VerificationResult{Verifier: rec.VerifierChain}
	if !ack.Success {
		result.Reason = fmt.Sprintf("destination rejected attestation request: %s", ack.Error)
		s.finishAttestation(rec, result)
		return
	}

	if rec.ZKProof != nil {
		var valid bool
		err := s.callWithRetry(ctx, opCredentialAttestation, func() error {
			var err error
			valid, err = s.prover.VerifyProof(ctx, *rec.ZKProof)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			result.Reason = fmt.Sprintf("proof verification error: %v", err)
			s.finishAttestation(rec, result)
			return
		}
		result.IsValid = valid
		result.CheckedFields = append([]string{"zkProof"}, rec.ZKProof.DisclosedFields...)
		if !valid {
			result.Reason = fmt.Sprintf("%v: zk proof did not verify", ErrVerificationRejected)
		}
	} else {
		fields, err := checkCredential(rec.Credential)
		result.CheckedFields = fields
		result.IsValid = err == nil
		if err != nil {
			result.Reason = err.Error()
		}
	}

	s.finishAttestation(rec, result)
}

func (s *Service) finishAttestation(rec CredentialAttestation, result VerificationResult) {
	status := AttestationRejected
	if result.IsValid {
		status = AttestationVerified
	}
	result.VerifiedAt = s.now()

	done, ok := s.attestations.finish(rec.AttestationID, func(a *CredentialAttestation) {
		a.Status = status
		a.VerificationResult = &result
		if !result.IsValid {
			a.Error = result.Reason
		}
	})
	if !ok {
		s.log.Info("Ignoring late attestation result", zap.String("attestation_id", rec.AttestationID), zap.String("status", string(done.Status)))
		return
	}

	ack := relayer.Acknowledgement{Success: result.IsValid, Error: result.Reason}
	s.acknowledge(rec.PacketKey, ack)
	s.observeOperation(opCredentialAttestation, string(status))

	s.log.Info(
		"Credential attestation finished",
		zap.String("attestation_id", rec.AttestationID),
		zap.String("status", string(status)),
		zap.Strings("checked_fields", result.CheckedFields),
	)
}

func (s *Service) expireAttestation(id string) {
	rec, ok := s.attestations.finish(id, func(a *CredentialAttestation) {
		a.Status = AttestationTimeout
		a.Error = "no response before expiry"
	})
	if !ok {
		return
	}
	s.router.TimeoutPacket(rec.PacketKey)
	s.observeOperation(opCredentialAttestation, string(AttestationTimeout))

	s.log.Warn("Credential attestation timed out", zap.String("attestation_id", id))
}

// checkCredential performs the structural checks applied to credentials attested
// without a proof, and returns the fields it checked.
func checkCredential(credential json.RawMessage) ([]string, error) {
	var vc map[string]json.RawMessage
	if err := json.Unmarshal(credential, &vc); err != nil {
		return nil, fmt.Errorf("%v: credential is not a JSON object", ErrVerificationRejected)
	}

	var checked []string
	for _, f := range []string{"issuer", "credentialSubject"} {
		checked = append(checked, f)
		if len(vc[f]) == 0 || string(vc[f]) == "null" {
			return checked, fmt.Errorf("%v: credential has no %s", ErrVerificationRejected, f)
		}
	}

	var subject map[string]json.RawMessage
	if err := json.Unmarshal(vc["credentialSubject"], &subject); err == nil {
		claims := make([]string, 0, len(subject))
		for k := range subject {
			claims = append(claims, "credentialSubject."+k)
		}
		sort.Strings(claims)
		checked = append(checked, claims...)
	}
	return checked, nil
}
