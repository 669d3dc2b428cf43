package relayer

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// RelayerStatus is the operational status of a relay agent.
type RelayerStatus string

const (
	RelayerActive      RelayerStatus = "active"
	RelayerInactive    RelayerStatus = "inactive"
	RelayerMaintenance RelayerStatus = "maintenance"
)

// Relayer is an off-chain agent that ferries packets between chains.
type Relayer struct {
	ID              string        `json:"id" yaml:"id"`
	Endpoint        string        `json:"endpoint" yaml:"endpoint"`
	SupportedChains []string      `json:"supported-chains" yaml:"supported-chains"`
	Status          RelayerStatus `json:"status" yaml:"status"`
	Fee             uint64        `json:"fee" yaml:"fee"`
	// Reliability is a percentage in [0, 100].
	Reliability float64 `json:"reliability" yaml:"reliability"`
	// AvgResponseTime is in milliseconds.
	AvgResponseTime     float64 `json:"avg-response-time" yaml:"avg-response-time"`
	TotalPacketsRelayed uint64  `json:"total-packets-relayed" yaml:"total-packets-relayed"`
	// SuccessRate is a percentage in [0, 100].
	SuccessRate float64 `json:"success-rate" yaml:"success-rate"`
}

// Supports reports whether the relayer services both chains.
func (r Relayer) Supports(sourceChain, targetChain string) bool {
	var src, dst bool
	for _, c := range r.SupportedChains {
		if c == sourceChain {
			src = true
		}
		if c == targetChain {
			dst = true
		}
	}
	return src && dst
}

// Score weighs reliability, latency, success rate and fee into a single value.
// Higher is better.
func Score(r Relayer) float64 {
	return 0.4*r.Reliability +
		0.3*math.Max(0, 100-r.AvgResponseTime/100) +
		0.2*r.SuccessRate +
		0.1*math.Max(0, 100-float64(r.Fee)/1_000_000)
}

// RelayerManager is the registry of relay agents.
// It is safe for concurrent use.
type RelayerManager struct {
	log *zap.Logger

	mu       sync.RWMutex
	relayers map[string]*Relayer
	// order holds ids in first-registration order and drives tie-breaking.
	order []string
}

func NewRelayerManager(log *zap.Logger) *RelayerManager {
	return &RelayerManager{
		log:      log.With(zap.String("sys", "relayers")),
		relayers: make(map[string]*Relayer),
	}
}

// AddRelayer registers r, replacing any relayer with the same id.
// A replaced relayer keeps its original registration position.
func (rm *RelayerManager) AddRelayer(r Relayer) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.relayers[r.ID]; !ok {
		rm.order = append(rm.order, r.ID)
	}
	r.SupportedChains = append([]string(nil), r.SupportedChains...)
	rm.relayers[r.ID] = &r

	rm.log.Info(
		"Registered relayer",
		zap.String("relayer_id", r.ID),
		zap.Strings("chains", r.SupportedChains),
		zap.String("status", string(r.Status)),
	)
}

// SelectOptimalRelayer returns the highest scoring active relayer supporting both chains.
// On equal scores the relayer registered first wins, so selection is deterministic
// for a fixed registry.
func (rm *RelayerManager) SelectOptimalRelayer(sourceChain, targetChain string) (Relayer, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var (
		best      *Relayer
		bestScore float64
	)
	for _, id := range rm.order {
		r := rm.relayers[id]
		if r.Status != RelayerActive || !r.Supports(sourceChain, targetChain) {
			continue
		}
		if s := Score(*r); best == nil || s > bestScore {
			best, bestScore = r, s
		}
	}
	if best == nil {
		return Relayer{}, errNoEligibleRelayer(sourceChain, targetChain)
	}

	rm.log.Debug(
		"Selected relayer",
		zap.String("relayer_id", best.ID),
		zap.Float64("score", bestScore),
		zap.String("src_chain_id", sourceChain),
		zap.String("dst_chain_id", targetChain),
	)

	return best.clone(), nil
}

// UpdateRelayerMetrics folds the outcome of one relay attempt into the relayer's metrics.
// Unknown ids are ignored.
func (rm *RelayerManager) UpdateRelayerMetrics(id string, responseTime float64, success bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	r, ok := rm.relayers[id]
	if !ok {
		return
	}

	r.AvgResponseTime = (r.AvgResponseTime + responseTime) / 2
	r.TotalPacketsRelayed++
	n := float64(r.TotalPacketsRelayed)
	outcome := 0.0
	if success {
		outcome = 100
	}
	r.SuccessRate = (r.SuccessRate*(n-1) + outcome) / n
}

// SetStatus changes the status of a registered relayer.
func (rm *RelayerManager) SetStatus(id string, status RelayerStatus) error {
	switch status {
	case RelayerActive, RelayerInactive, RelayerMaintenance:
	default:
		return fmt.Errorf("invalid relayer status %q", status)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	r, ok := rm.relayers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRelayerNotFound, id)
	}
	r.Status = status

	rm.log.Info("Relayer status changed", zap.String("relayer_id", id), zap.String("status", string(status)))
	return nil
}

func (rm *RelayerManager) GetRelayer(id string) (Relayer, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	r, ok := rm.relayers[id]
	if !ok {
		return Relayer{}, false
	}
	return r.clone(), true
}

// GetAllRelayers returns the registry in registration order.
func (rm *RelayerManager) GetAllRelayers() []Relayer {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	out := make([]Relayer, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, rm.relayers[id].clone())
	}
	return out
}

func (r *Relayer) clone() Relayer {
	c := *r
	c.SupportedChains = append([]string(nil), r.SupportedChains...)
	return c
}
