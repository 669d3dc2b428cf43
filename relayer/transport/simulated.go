// Package transport provides implementations of relayer.Transport.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/personachain/identity-relayer/relayer"
	"go.uber.org/zap"
)

// ErrSimulatedFailure is returned when the failure model rejects a relay attempt.
var ErrSimulatedFailure = errors.New("simulated relay failure")

// FailureModel decides whether a relay attempt through a relayer fails.
type FailureModel interface {
	ShouldFail(r relayer.Relayer) bool
}

// NeverFail is a FailureModel under which every relay succeeds.
type NeverFail struct{}

func (NeverFail) ShouldFail(relayer.Relayer) bool { return false }

// AlwaysFail is a FailureModel under which every relay fails.
type AlwaysFail struct{}

func (AlwaysFail) ShouldFail(relayer.Relayer) bool { return true }

// ReliabilityFailures fails an attempt with probability 1 - reliability/100.
type ReliabilityFailures struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewReliabilityFailures returns a failure model drawing from a source seeded with seed.
func NewReliabilityFailures(seed int64) *ReliabilityFailures {
	return &ReliabilityFailures{rng: rand.New(rand.NewSource(seed))}
}

func (f *ReliabilityFailures) ShouldFail(r relayer.Relayer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64()*100 >= r.Reliability
}

// Simulated stands in for a relay network. Each attempt waits for a delay
// proportional to the relayer's average response time, then consults the
// failure model.
type Simulated struct {
	log *zap.Logger

	// LatencyScale multiplies the relayer's average response time (ms).
	// Zero disables the delay entirely.
	LatencyScale float64
	// Jitter is the upper bound of the random delay added to each attempt.
	Jitter time.Duration

	failures FailureModel

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(log *zap.Logger, latencyScale float64, jitter time.Duration, failures FailureModel) *Simulated {
	if failures == nil {
		failures = NeverFail{}
	}
	return &Simulated{
		log:          log.With(zap.String("sys", "transport"), zap.String("transport", "simulated")),
		LatencyScale: latencyScale,
		Jitter:       jitter,
		failures:     failures,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) delay(r relayer.Relayer) time.Duration {
	d := time.Duration(r.AvgResponseTime * s.LatencyScale * float64(time.Millisecond))
	if s.Jitter > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(s.Jitter)))
		s.mu.Unlock()
	}
	return d
}

func (s *Simulated) Relay(ctx context.Context, packet relayer.Packet, r relayer.Relayer) (relayer.Acknowledgement, error) {
	if d := s.delay(r); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return relayer.Acknowledgement{}, ctx.Err()
		case <-timer.C:
		}
	}

	if s.failures.ShouldFail(r) {
		s.log.Debug("Injected relay failure", zap.String("packet_key", packet.Key()), zap.String("relayer_id", r.ID))
		return relayer.Acknowledgement{}, fmt.Errorf("%w: relayer %s", ErrSimulatedFailure, r.ID)
	}

	result, err := json.Marshal(receivedResult{
		PacketKey: packet.Key(),
		RelayerID: r.ID,
	})
	if err != nil {
		return relayer.Acknowledgement{}, err
	}
	return relayer.Acknowledgement{Success: true, Result: result}, nil
}

type receivedResult struct {
	PacketKey string `json:"packet_key"`
	RelayerID string `json:"relayer_id"`
}
