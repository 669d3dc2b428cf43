package relayer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PacketRouter sends packets over open channels through the best available relayer
// and tracks the packets awaiting acknowledgement.
type PacketRouter struct {
	log       *zap.Logger
	channels  *ChannelManager
	relayers  *RelayerManager
	transport Transport
	metrics   *PrometheusMetrics
	now       func() time.Time

	mu        sync.Mutex
	pending   map[string]Packet
	history   map[string][]PacketRecord
	sendLocks map[string]*sync.Mutex
}

// NewPacketRouter returns a router relaying through transport.
// metrics may be nil.
func NewPacketRouter(
	log *zap.Logger,
	channels *ChannelManager,
	relayers *RelayerManager,
	transport Transport,
	metrics *PrometheusMetrics,
) *PacketRouter {
	return &PacketRouter{
		log:       log.With(zap.String("sys", "router")),
		channels:  channels,
		relayers:  relayers,
		transport: transport,
		metrics:   metrics,
		now:       time.Now,
		pending:   make(map[string]Packet),
		history:   make(map[string][]PacketRecord),
		sendLocks: make(map[string]*sync.Mutex),
	}
}

// SendPacket relays packet over its source channel.
//
// A packet with a zero sequence is assigned the channel's next send sequence;
// a non-zero sequence must equal it. Sends on one channel are serialized and the
// sequence only advances when the relay succeeds, so sequences have no gaps.
//
// The packet is pending from the moment it passes validation until it is
// acknowledged or timed out. If no relayer is eligible or the relay fails,
// the pending entry is removed again before the error is returned.
func (pr *PacketRouter) SendPacket(ctx context.Context, packet Packet) (Receipt, error) {
	if err := packet.Validate(); err != nil {
		return Receipt{}, err
	}

	ch, ok := pr.channels.GetChannel(packet.SourceChannel)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s does not exist", ErrChannelNotOpen, packet.SourceChannel)
	}
	if ch.State != ChannelOpen {
		return Receipt{}, errChannelNotOpen(ch.ID, ch.State)
	}
	if packet.TimedOut(pr.now()) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrPacketTimedOut, packet.Key())
	}

	lock := pr.sendLock(ch.ID)
	lock.Lock()
	defer lock.Unlock()

	// The channel may have closed while this send waited for the lock.
	next, err := pr.channels.NextSequenceSend(ch.ID)
	if err != nil {
		return Receipt{}, err
	}
	switch packet.Sequence {
	case 0:
		packet.Sequence = next
	case next:
	default:
		return Receipt{}, fmt.Errorf("%w: channel %s expects %d, got %d", ErrInvalidSequence, ch.ID, next, packet.Sequence)
	}

	key := packet.Key()
	pr.addPending(key, packet)

	relayer, err := pr.relayers.SelectOptimalRelayer(ch.SourceChain, ch.DestinationChain)
	if err != nil {
		pr.removePending(key)
		pr.incFailure(ch, "no_relayer")
		return Receipt{}, err
	}

	start := pr.now()
	ack, err := pr.transport.Relay(ctx, packet, relayer)
	latency := pr.now().Sub(start)

	pr.relayers.UpdateRelayerMetrics(relayer.ID, float64(latency.Milliseconds()), err == nil)
	if pr.metrics != nil {
		pr.metrics.ObserveRelayLatency(relayer.ID, latency)
		if updated, ok := pr.relayers.GetRelayer(relayer.ID); ok {
			pr.metrics.SetRelayerScore(relayer.ID, Score(updated))
		}
	}

	if err != nil {
		pr.removePending(key)
		pr.incFailure(ch, "relay")
		pr.log.Warn(
			"Failed to relay packet",
			zap.String("packet_key", key),
			zap.String("relayer_id", relayer.ID),
			zap.Error(err),
		)
		return Receipt{}, fmt.Errorf("%w: packet %s via relayer %s: %w", ErrRelayFailure, key, relayer.ID, err)
	}

	if err := pr.channels.commitSequenceSend(ch.ID, packet.Sequence); err != nil {
		pr.removePending(key)
		pr.incFailure(ch, "channel_closed")
		pr.log.Warn(
			"Dropping relayed packet on channel that is no longer open",
			zap.String("packet_key", key),
			zap.String("relayer_id", relayer.ID),
			zap.Error(err),
		)
		return Receipt{}, err
	}

	pr.mu.Lock()
	pr.history[ch.ID] = append(pr.history[ch.ID], PacketRecord{
		Key:       key,
		Packet:    packet,
		RelayerID: relayer.ID,
		SentAt:    pr.now(),
	})
	pr.mu.Unlock()

	if pr.metrics != nil {
		pr.metrics.IncPacketsRelayed(ch.SourceChain, ch.DestinationChain, ch.ID, relayer.ID)
	}

	pr.log.Info(
		"Relayed packet",
		zap.String("packet_key", key),
		zap.String("relayer_id", relayer.ID),
		zap.String("src_chain_id", ch.SourceChain),
		zap.String("dst_chain_id", ch.DestinationChain),
		zap.Duration("latency", latency),
	)

	return Receipt{
		Key:             key,
		Packet:          packet,
		RelayerID:       relayer.ID,
		Acknowledgement: ack,
		Latency:         latency,
	}, nil
}

func (pr *PacketRouter) sendLock(channelID string) *sync.Mutex {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	l, ok := pr.sendLocks[channelID]
	if !ok {
		l = new(sync.Mutex)
		pr.sendLocks[channelID] = l
	}
	return l
}

func (pr *PacketRouter) addPending(key string, packet Packet) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.pending[key] = packet
	pr.setPendingGauge()
}

func (pr *PacketRouter) removePending(key string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	delete(pr.pending, key)
	pr.setPendingGauge()
}

// setPendingGauge must be called with pr.mu held.
func (pr *PacketRouter) setPendingGauge() {
	if pr.metrics != nil {
		pr.metrics.SetPendingPackets(len(pr.pending))
	}
}

func (pr *PacketRouter) incFailure(ch Channel, cause string) {
	if pr.metrics != nil {
		pr.metrics.IncPacketFailure(ch.SourceChain, ch.DestinationChain, cause)
	}
}

// AcknowledgePacket resolves a pending packet with the destination's acknowledgement.
func (pr *PacketRouter) AcknowledgePacket(key string, ack Acknowledgement) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if _, ok := pr.pending[key]; !ok {
		return fmt.Errorf("%w: %s", ErrPacketNotFound, key)
	}
	delete(pr.pending, key)
	pr.setPendingGauge()

	pr.log.Debug("Packet acknowledged", zap.String("packet_key", key), zap.Bool("success", ack.Success))
	return nil
}

// TimeoutPacket drops a pending packet. Timeouts can race with acknowledgements,
// so timing out an already resolved packet is not an error.
func (pr *PacketRouter) TimeoutPacket(key string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if _, ok := pr.pending[key]; !ok {
		return
	}
	delete(pr.pending, key)
	pr.setPendingGauge()

	pr.log.Info("Packet timed out", zap.String("packet_key", key))
}

// IsPending reports whether the packet with key awaits acknowledgement.
func (pr *PacketRouter) IsPending(key string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	_, ok := pr.pending[key]
	return ok
}

// GetPendingPackets returns the pending packets ordered by channel and sequence.
func (pr *PacketRouter) GetPendingPackets() []Packet {
	pr.mu.Lock()
	out := make([]Packet, 0, len(pr.pending))
	for _, p := range pr.pending {
		out = append(out, p)
	}
	pr.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceChannel != out[j].SourceChannel {
			return identifierIndex(out[i].SourceChannel) < identifierIndex(out[j].SourceChannel)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// GetPacketHistory returns the packets relayed on channelID in send order.
func (pr *PacketRouter) GetPacketHistory(channelID string) []PacketRecord {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	return append([]PacketRecord(nil), pr.history[channelID]...)
}

// TotalSent is the number of packets relayed successfully across all channels.
func (pr *PacketRouter) TotalSent() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	n := 0
	for _, h := range pr.history {
		n += len(h)
	}
	return n
}
