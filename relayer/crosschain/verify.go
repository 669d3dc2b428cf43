package crosschain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/identity"
	"go.uber.org/zap"
)

const opZKProofVerification = "zk_proof_verification"

// VerifyZKProofCrossChain relays proof to verifierChain and verifies it, returning
// the result directly. An invalid proof is reported through IsValid, not as an error.
func (s *Service) VerifyZKProofCrossChain(ctx context.Context, proof collab.Proof, publicSignals []string, proofType, sourceChain, verifierChain string) (ZKVerificationResult, error) {
	ch, err := s.openChannel(sourceChain, verifierChain)
	if err != nil {
		return ZKVerificationResult{}, err
	}

	if len(publicSignals) > 0 {
		proof.PublicSignals = publicSignals
	}
	if proofType != "" {
		proof.ProofType = proofType
	}
	bz, err := json.Marshal(proof)
	if err != nil {
		return ZKVerificationResult{}, err
	}

	verificationID := uuid.NewString()
	receipt, err := s.sendIdentityPacket(ctx, ch, identity.ZKProofVerification, identity.Data{
		ZKProof:   bz,
		Challenge: proof.Challenge,
		Metadata: map[string]any{
			"verificationId": verificationID,
			"proofType":      proof.ProofType,
			"publicSignals":  proof.PublicSignals,
			"sourceChain":    sourceChain,
			"verifierChain":  verifierChain,
		},
	})
	if err != nil {
		return ZKVerificationResult{}, err
	}

	var valid bool
	if receipt.Acknowledgement.Success {
		err = s.callWithRetry(ctx, opZKProofVerification, func() error {
			var err error
			valid, err = s.prover.VerifyProof(ctx, proof)
			return err
		})
		if err != nil {
			s.router.TimeoutPacket(receipt.Key)
			return ZKVerificationResult{}, fmt.Errorf("failed to verify zk proof: %w", err)
		}
	}

	ack := relayer.Acknowledgement{Success: valid}
	if !valid {
		ack.Error = ErrVerificationRejected.Error()
	}
	s.acknowledge(receipt.Key, ack)

	status := "valid"
	if !valid {
		status = "invalid"
	}
	s.observeOperation(opZKProofVerification, status)

	s.log.Info(
		"ZK proof verified",
		zap.String("verification_id", verificationID),
		zap.String("proof_type", proof.ProofType),
		zap.Bool("valid", valid),
		zap.String("relayer_id", receipt.RelayerID),
	)

	return ZKVerificationResult{
		VerificationID: verificationID,
		IsValid:        valid,
		VerifiedAt:     s.now(),
		RelayedVia:     receipt.RelayerID,
	}, nil
}
