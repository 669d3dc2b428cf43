// Package crosschain orchestrates cross-chain identity operations: DID resolution,
// credential attestation, proof verification and identity registration.
//
// Each operation looks up an open channel for the chain pair, sends a signed
// identity packet through the packet router and returns as soon as the packet
// was relayed. Completion happens asynchronously and is observed by polling the
// status accessors, or by waiting on the request.
package crosschain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/identity"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultResolutionTimeout   = 5 * time.Minute
	DefaultAttestationTimeout  = 10 * time.Minute
	DefaultRegistrationTimeout = 5 * time.Minute
	DefaultPacketTimeout       = 10 * time.Minute
	DefaultRetryAttempts       = uint(3)
)

var (
	rtyDel = retry.Delay(time.Millisecond * 400)
	rtyErr = retry.LastErrorOnly(true)
)

// Options configure a Service. Channels, Router, Relayers, Builder, Resolver and
// Prover are required; zero durations fall back to the defaults.
type Options struct {
	Log      *zap.Logger
	Channels *relayer.ChannelManager
	Router   *relayer.PacketRouter
	Relayers *relayer.RelayerManager
	Builder  *identity.Builder
	Resolver collab.DIDResolver
	Prover   collab.ZKProver
	Metrics  *relayer.PrometheusMetrics

	ResolutionTimeout   time.Duration
	AttestationTimeout  time.Duration
	RegistrationTimeout time.Duration
	PacketTimeout       time.Duration

	// DisclosureFields are revealed by proofs attached to attestations.
	// Empty discloses every claim of the credential subject.
	DisclosureFields []string
	RetryAttempts    uint
}

// Service is the cross-chain identity orchestrator.
// It is constructed once at startup and shut down with Close.
type Service struct {
	log      *zap.Logger
	channels *relayer.ChannelManager
	router   *relayer.PacketRouter
	relayers *relayer.RelayerManager
	builder  *identity.Builder
	resolver collab.DIDResolver
	prover   collab.ZKProver
	metrics  *relayer.PrometheusMetrics
	now      func() time.Time

	resolutionTimeout   time.Duration
	attestationTimeout  time.Duration
	registrationTimeout time.Duration
	packetTimeout       time.Duration
	disclosureFields    []string
	retryAttempts       uint

	resolutions   *tracker[DIDResolution]
	attestations  *tracker[CredentialAttestation]
	registrations *tracker[IdentityRegistration]

	// ctx bounds every completion goroutine; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(opts Options) (*Service, error) {
	var err error
	if opts.Channels == nil {
		err = multierr.Append(err, errors.New("channel manager is required"))
	}
	if opts.Router == nil {
		err = multierr.Append(err, errors.New("packet router is required"))
	}
	if opts.Relayers == nil {
		err = multierr.Append(err, errors.New("relayer manager is required"))
	}
	if opts.Builder == nil {
		err = multierr.Append(err, errors.New("packet builder is required"))
	}
	if opts.Resolver == nil {
		err = multierr.Append(err, errors.New("did resolver is required"))
	}
	if opts.Prover == nil {
		err = multierr.Append(err, errors.New("zk prover is required"))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid service options: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		log:                 log.With(zap.String("sys", "crosschain")),
		channels:            opts.Channels,
		router:              opts.Router,
		relayers:            opts.Relayers,
		builder:             opts.Builder,
		resolver:            opts.Resolver,
		prover:              opts.Prover,
		metrics:             opts.Metrics,
		now:                 time.Now,
		resolutionTimeout:   durationOrDefault(opts.ResolutionTimeout, DefaultResolutionTimeout),
		attestationTimeout:  durationOrDefault(opts.AttestationTimeout, DefaultAttestationTimeout),
		registrationTimeout: durationOrDefault(opts.RegistrationTimeout, DefaultRegistrationTimeout),
		packetTimeout:       durationOrDefault(opts.PacketTimeout, DefaultPacketTimeout),
		disclosureFields:    append([]string(nil), opts.DisclosureFields...),
		retryAttempts:       opts.RetryAttempts,
		ctx:                 ctx,
		cancel:              cancel,
	}
	if s.retryAttempts == 0 {
		s.retryAttempts = DefaultRetryAttempts
	}

	s.resolutions = newTracker(
		func(r DIDResolution) bool { return r.Status.Terminal() },
		func(r *DIDResolution, now time.Time, done bool) {
			r.UpdatedAt = now
			if done {
				r.CompletedAt = &now
			}
		},
	)
	s.attestations = newTracker(
		func(a CredentialAttestation) bool { return a.Status.Terminal() },
		func(a *CredentialAttestation, now time.Time, done bool) {
			a.UpdatedAt = now
			if done {
				a.CompletedAt = &now
			}
		},
	)
	s.registrations = newTracker(
		func(r IdentityRegistration) bool { return r.Status.Terminal() },
		func(r *IdentityRegistration, now time.Time, _ bool) { r.UpdatedAt = now },
	)

	return s, nil
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Close cancels in-flight completions, stops expiry timers and waits for
// completion goroutines to exit. Records keep their last status.
func (s *Service) Close() error {
	s.cancel()
	s.resolutions.stopTimers()
	s.attestations.stopTimers()
	s.registrations.stopTimers()
	s.wg.Wait()
	return nil
}

// openChannel returns the open channel serving the chain pair.
func (s *Service) openChannel(sourceChain, targetChain string) (relayer.Channel, error) {
	ch, ok := s.channels.FindOpenChannel(sourceChain, targetChain)
	if !ok {
		return relayer.Channel{}, errNoChannelAvailable(sourceChain, targetChain)
	}
	return ch, nil
}

// sendIdentityPacket signs an identity packet, wraps it in a packet on ch and relays it.
func (s *Service) sendIdentityPacket(ctx context.Context, ch relayer.Channel, t identity.PacketType, data identity.Data) (relayer.Receipt, error) {
	ip, err := s.builder.Build(t, data)
	if err != nil {
		return relayer.Receipt{}, err
	}
	bz, err := identity.Encode(ip)
	if err != nil {
		return relayer.Receipt{}, err
	}

	packet := relayer.Packet{
		SourcePort:         ch.PortID,
		SourceChannel:      ch.ID,
		DestinationPort:    ch.CounterpartyPortID,
		DestinationChannel: ch.CounterpartyChannelID,
		Data:               bz,
		TimeoutTimestamp:   uint64(s.now().Add(s.packetTimeout).UnixNano()),
	}
	return s.router.SendPacket(ctx, packet)
}

// acknowledge resolves the packet of a request that reached a terminal status.
func (s *Service) acknowledge(key string, ack relayer.Acknowledgement) {
	if key == "" {
		return
	}
	if err := s.router.AcknowledgePacket(key, ack); err != nil && !errors.Is(err, relayer.ErrPacketNotFound) {
		s.log.Warn("Failed to acknowledge packet", zap.String("packet_key", key), zap.Error(err))
	}
}

// completionContext bounds a completion step by the request's expiry.
func (s *Service) completionContext(expiresAt time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(s.ctx, expiresAt)
}

// callWithRetry retries fn on transient errors until ctx is done.
func (s *Service) callWithRetry(ctx context.Context, op string, fn func() error, permanent ...error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.retryAttempts),
		rtyDel, rtyErr,
		retry.RetryIf(func(err error) bool {
			for _, p := range permanent {
				if errors.Is(err, p) {
					return false
				}
			}
			return true
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.Info(
				"Collaborator call failed",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", s.retryAttempts),
				zap.Error(err),
			)
		}),
	)
}

func (s *Service) observeOperation(operation, status string) {
	if s.metrics != nil {
		s.metrics.IncCrossChainOperation(operation, status)
	}
}

// GetDIDResolutionStatus returns the resolution record for requestID.
// Unknown ids report false rather than an error.
func (s *Service) GetDIDResolutionStatus(requestID string) (DIDResolution, bool) {
	return s.resolutions.get(requestID)
}

// GetCredentialAttestationStatus returns the attestation record for attestationID.
func (s *Service) GetCredentialAttestationStatus(attestationID string) (CredentialAttestation, bool) {
	return s.attestations.get(attestationID)
}

// GetRegistrationStatus returns the registration record for registrationID.
func (s *Service) GetRegistrationStatus(registrationID string) (IdentityRegistration, bool) {
	return s.registrations.get(registrationID)
}

// WaitDIDResolution blocks until the resolution is terminal or ctx is done.
func (s *Service) WaitDIDResolution(ctx context.Context, requestID string) (DIDResolution, error) {
	return s.resolutions.wait(ctx, requestID)
}

// WaitCredentialAttestation blocks until the attestation is terminal or ctx is done.
func (s *Service) WaitCredentialAttestation(ctx context.Context, attestationID string) (CredentialAttestation, error) {
	return s.attestations.wait(ctx, attestationID)
}

// WaitRegistration blocks until the registration is terminal or ctx is done.
func (s *Service) WaitRegistration(ctx context.Context, registrationID string) (IdentityRegistration, error) {
	return s.registrations.wait(ctx, registrationID)
}

// GetIBCStatistics computes a snapshot of channels, relayers, packets and operations.
func (s *Service) GetIBCStatistics() Statistics {
	var stats Statistics

	states := make(map[relayer.ChannelState]int)
	for _, ch := range s.channels.GetAllChannels() {
		states[ch.State]++
		stats.Channels.Total++
	}
	stats.Channels.Open = states[relayer.ChannelOpen]
	stats.Channels.Pending = states[relayer.ChannelInit] + states[relayer.ChannelTryOpen]

	var reliability float64
	for _, r := range s.relayers.GetAllRelayers() {
		stats.Relayers.Total++
		if r.Status == relayer.RelayerActive {
			stats.Relayers.Active++
		}
		reliability += r.Reliability
	}
	if stats.Relayers.Total > 0 {
		stats.Relayers.AvgReliability = reliability / float64(stats.Relayers.Total)
	}

	stats.Packets.Pending = len(s.router.GetPendingPackets())
	stats.Packets.TotalSent = s.router.TotalSent()

	ops := &stats.CrossChainOperations
	ops.DIDResolutions, ops.ActiveResolutions = s.resolutions.counts()
	ops.CredentialAttestations, ops.ActiveAttestations = s.attestations.counts()
	ops.IdentityRegistrations, ops.ActiveRegistrations = s.registrations.counts()

	return stats
}
