package crosschain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/identity"
	"go.uber.org/zap"
)

const opDIDResolution = "did_resolution"

// ResolveDIDCrossChain asks targetChain to resolve did on behalf of sourceChain.
//
// It fails synchronously when no open channel serves the chain pair or the packet
// cannot be relayed. Otherwise the returned record is relaying, and the outcome of
// the resolution is recorded on it asynchronously.
func (s *Service) ResolveDIDCrossChain(ctx context.Context, did, sourceChain, targetChain string) (DIDResolution, error) {
	if did == "" {
		return DIDResolution{}, fmt.Errorf("%w: did is required", ErrInvalidRequest)
	}
	ch, err := s.openChannel(sourceChain, targetChain)
	if err != nil {
		return DIDResolution{}, err
	}

	now := s.now()
	rec := DIDResolution{
		RequestID:   uuid.NewString(),
		DID:         did,
		SourceChain: sourceChain,
		TargetChain: targetChain,
		ChannelID:   ch.ID,
		Status:      ResolutionPending,
		RequestedAt: now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.resolutionTimeout),
	}
	s.resolutions.add(rec.RequestID, rec)

	receipt, err := s.sendIdentityPacket(ctx, ch, identity.DIDResolution, identity.Data{
		DID: did,
		Metadata: map[string]any{
			"requestId":   rec.RequestID,
			"sourceChain": sourceChain,
			"targetChain": targetChain,
		},
	})
	if err != nil {
		s.resolutions.remove(rec.RequestID)
		return DIDResolution{}, err
	}

	id := rec.RequestID
	rec, _ = s.resolutions.update(id, func(r *DIDResolution) {
		r.Status = ResolutionRelaying
		r.PacketKey = receipt.Key
		r.RelayerID = receipt.RelayerID
	}, rec.ExpiresAt.Sub(s.now()), func() { s.expireResolution(id) })

	s.log.Info(
		"DID resolution relaying",
		zap.String("request_id", id),
		zap.String("did", did),
		zap.String("channel_id", ch.ID),
		zap.String("packet_key", receipt.Key),
	)

	s.wg.Add(1)
	go s.completeResolution(rec, receipt.Acknowledgement)

	return rec, nil
}

func (s *Service) completeResolution(rec DIDResolution, ack relayer.Acknowledgement) {
	defer s.wg.Done()

	ctx, cancel := s.completionContext(rec.ExpiresAt)
	defer cancel()

	if !ack.Success {
		s.failResolution(rec, fmt.Sprintf("destination rejected resolution request: %s", ack.Error), ack)
		return
	}

	var res collab.Resolution
	err := s.callWithRetry(ctx, opDIDResolution, func() error {
		var err error
		res, err = s.resolver.ResolveDID(ctx, rec.DID)
		return err
	}, collab.ErrDIDNotFound)
	if err != nil {
		if ctx.Err() != nil {
			// The expiry timer or Close owns the record from here.
			return
		}
		s.failResolution(rec, err.Error(), relayer.Acknowledgement{Error: err.Error()})
		return
	}

	done, ok := s.resolutions.finish(rec.RequestID, func(r *DIDResolution) {
		r.Status = ResolutionCompleted
		r.ResolvedDocument = res.DIDDocument
	})
	if !ok {
		s.log.Info("Ignoring late DID resolution result", zap.String("request_id", rec.RequestID), zap.String("status", string(done.Status)))
		return
	}
	s.acknowledge(rec.PacketKey, relayer.Acknowledgement{Success: true, Result: res.DIDDocument})
	s.observeOperation(opDIDResolution, string(ResolutionCompleted))

	s.log.Info("DID resolution completed", zap.String("request_id", rec.RequestID), zap.String("did", rec.DID))
}

func (s *Service) failResolution(rec DIDResolution, reason string, ack relayer.Acknowledgement) {
	if _, ok := s.resolutions.finish(rec.RequestID, func(r *DIDResolution) {
		r.Status = ResolutionFailed
		r.Error = reason
	}); !ok {
		return
	}
	ack.Success = false
	s.acknowledge(rec.PacketKey, ack)
	s.observeOperation(opDIDResolution, string(ResolutionFailed))

	s.log.Warn("DID resolution failed", zap.String("request_id", rec.RequestID), zap.String("did", rec.DID), zap.String("reason", reason))
}

func (s *Service) expireResolution(id string) {
	rec, ok := s.resolutions.finish(id, func(r *DIDResolution) {
		r.Status = ResolutionTimeout
		r.Error = "no response before expiry"
	})
	if !ok {
		return
	}
	s.router.TimeoutPacket(rec.PacketKey)
	s.observeOperation(opDIDResolution, string(ResolutionTimeout))

	s.log.Warn("DID resolution timed out", zap.String("request_id", id), zap.String("did", rec.DID))
}
