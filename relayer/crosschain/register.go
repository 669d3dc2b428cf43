package crosschain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/identity"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const opIdentityRegistration = "identity_registration"

// RegisterIdentityCrossChain registers did and its document on every target chain
// reachable from sourceChain. Targets without an open channel are skipped.
// One record is returned per attempted target, in target order; each completes
// independently. It fails only if the request is invalid; with no reachable
// target the result is empty.
func (s *Service) RegisterIdentityCrossChain(ctx context.Context, did string, didDocument json.RawMessage, sourceChain string, targetChains []string) ([]IdentityRegistration, error) {
	if did == "" {
		return nil, fmt.Errorf("%w: did is required", ErrInvalidRequest)
	}
	if len(didDocument) == 0 || !json.Valid(didDocument) {
		return nil, fmt.Errorf("%w: did document must be valid JSON", ErrInvalidRequest)
	}

	var channels []relayer.Channel
	for _, target := range targetChains {
		ch, err := s.openChannel(sourceChain, target)
		if err != nil {
			s.log.Warn(
				"Skipping identity registration on unreachable chain",
				zap.String("did", did),
				zap.String("src_chain_id", sourceChain),
				zap.String("dst_chain_id", target),
			)
			continue
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return []IdentityRegistration{}, nil
	}

	records := make([]IdentityRegistration, len(channels))
	errs := make([]error, len(channels))

	var eg errgroup.Group
	for i, ch := range channels {
		i, ch := i, ch
		eg.Go(func() error {
			records[i], errs[i] = s.registerOn(ctx, did, didDocument, sourceChain, ch)
			return nil
		})
	}
	_ = eg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		s.log.Warn(
			"Some identity registrations failed to send",
			zap.String("did", did),
			zap.Int("failed", len(multierr.Errors(err))),
			zap.Int("attempted", len(channels)),
			zap.Error(err),
		)
	}

	return records, nil
}

// registerOn sends one registration packet. A send failure is recorded as a failed
// registration and also returned for aggregation.
func (s *Service) registerOn(ctx context.Context, did string, doc json.RawMessage, sourceChain string, ch relayer.Channel) (IdentityRegistration, error) {
	now := s.now()
	rec := IdentityRegistration{
		RegistrationID: uuid.NewString(),
		DID:            did,
		SourceChain:    sourceChain,
		TargetChain:    ch.DestinationChain,
		ChannelID:      ch.ID,
		Status:         RegistrationPending,
		RequestedAt:    now,
		UpdatedAt:      now,
	}
	id := rec.RegistrationID
	s.registrations.add(id, rec)

	receipt, err := s.sendIdentityPacket(ctx, ch, identity.IdentityRegistration, identity.Data{
		DID:         did,
		DIDDocument: doc,
		Metadata: map[string]any{
			"registrationId": id,
			"sourceChain":    sourceChain,
			"targetChain":    ch.DestinationChain,
		},
	})
	if err != nil {
		rec, _ = s.registrations.finish(id, func(r *IdentityRegistration) {
			r.Status = RegistrationFailed
			r.Error = err.Error()
		})
		s.observeOperation(opIdentityRegistration, string(RegistrationFailed))
		return rec, fmt.Errorf("register on %s: %w", ch.DestinationChain, err)
	}

	rec, _ = s.registrations.update(id, func(r *IdentityRegistration) {
		r.PacketKey = receipt.Key
	}, s.registrationTimeout, func() { s.expireRegistration(id) })

	s.wg.Add(1)
	go s.completeRegistration(rec, doc, receipt.Acknowledgement)

	return rec, nil
}

func (s *Service) completeRegistration(rec IdentityRegistration, doc json.RawMessage, ack relayer.Acknowledgement) {
	defer s.wg.Done()

	status := RegistrationCompleted
	if !ack.Success {
		status = RegistrationFailed
	}

	done, ok := s.registrations.finish(rec.RegistrationID, func(r *IdentityRegistration) {
		r.Status = status
		if !ack.Success {
			r.Error = fmt.Sprintf("destination rejected registration: %s", ack.Error)
		}
	})
	if !ok {
		s.log.Info("Ignoring late registration result", zap.String("registration_id", rec.RegistrationID), zap.String("status", string(done.Status)))
		return
	}

	if status == RegistrationCompleted {
		if reg, ok := s.resolver.(collab.DocumentRegistrar); ok {
			reg.Register(rec.DID, doc)
		}
	}
	s.acknowledge(rec.PacketKey, ack)
	s.observeOperation(opIdentityRegistration, string(status))

	s.log.Info(
		"Identity registration finished",
		zap.String("registration_id", rec.RegistrationID),
		zap.String("did", rec.DID),
		zap.String("dst_chain_id", rec.TargetChain),
		zap.String("status", string(status)),
	)
}

func (s *Service) expireRegistration(id string) {
	rec, ok := s.registrations.finish(id, func(r *IdentityRegistration) {
		r.Status = RegistrationFailed
		r.Error = "timeout: no response before expiry"
	})
	if !ok {
		return
	}
	s.router.TimeoutPacket(rec.PacketKey)
	s.observeOperation(opIdentityRegistration, "timeout")

	s.log.Warn("Identity registration timed out", zap.String("registration_id", id), zap.String("dst_chain_id", rec.TargetChain))
}
