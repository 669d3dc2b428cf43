package relayer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChannelState is the handshake state of a channel.
// Channels only move forward: INIT -> TRYOPEN -> OPEN -> CLOSED.
type ChannelState string

const (
	ChannelInit    ChannelState = "INIT"
	ChannelTryOpen ChannelState = "TRYOPEN"
	ChannelOpen    ChannelState = "OPEN"
	ChannelClosed  ChannelState = "CLOSED"
)

// Order is the packet ordering mode of a channel.
type Order string

const (
	Ordered   Order = "ORDERED"
	Unordered Order = "UNORDERED"
)

const (
	// PortID is the port bound by the identity application.
	PortID = "identity"

	VersionV1 = "persona-identity-1"
	VersionV2 = "persona-identity-2"
)

var supportedVersions = []string{VersionV1, VersionV2}

// Channel is a named pipe between two ports, layered on top of a connection.
type Channel struct {
	ID                    string       `json:"channel-id" yaml:"channel-id"`
	ConnectionID          string       `json:"connection-id" yaml:"connection-id"`
	PortID                string       `json:"port-id" yaml:"port-id"`
	CounterpartyPortID    string       `json:"counterparty-port-id" yaml:"counterparty-port-id"`
	CounterpartyChannelID string       `json:"counterparty-channel-id" yaml:"counterparty-channel-id"`
	SourceChain           string       `json:"source-chain" yaml:"source-chain"`
	DestinationChain      string       `json:"destination-chain" yaml:"destination-chain"`
	Ordering              Order        `json:"ordering" yaml:"ordering"`
	Version               string       `json:"version" yaml:"version"`
	State                 ChannelState `json:"state" yaml:"state"`
	CreatedAt             time.Time    `json:"created-at" yaml:"created-at"`
	LastActivity          time.Time    `json:"last-activity" yaml:"last-activity"`

	// NextSequenceSend is the sequence the next packet sent on this channel will carry.
	NextSequenceSend uint64 `json:"next-sequence-send" yaml:"next-sequence-send"`
}

// ChannelManager owns the connection and channel registries.
// It is safe for concurrent use.
type ChannelManager struct {
	log     *zap.Logger
	now     func() time.Time
	metrics *PrometheusMetrics

	mu                sync.RWMutex
	connections       map[string]*Connection
	channels          map[string]*Channel
	connectionCounter uint64
	channelCounter    uint64
}

// NewChannelManager returns an empty ChannelManager.
func NewChannelManager(log *zap.Logger) *ChannelManager {
	return &ChannelManager{
		log:         log.With(zap.String("sys", "channels")),
		now:         time.Now,
		connections: make(map[string]*Connection),
		channels:    make(map[string]*Channel),
	}
}

// SetMetrics reports channel state counts to m on every channel change.
func (cm *ChannelManager) SetMetrics(m *PrometheusMetrics) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.metrics = m
	cm.observeChannelStates()
}

// observeChannelStates must be called with cm.mu held.
func (cm *ChannelManager) observeChannelStates() {
	if cm.metrics == nil {
		return
	}
	counts := make(map[ChannelState]int)
	for _, ch := range cm.channels {
		counts[ch.State]++
	}
	cm.metrics.SetChannelStates(counts)
}

// NegotiateVersion returns the channel version to use for the requested one.
// An empty version selects the latest supported version.
func NegotiateVersion(version string) (string, error) {
	if version == "" {
		return supportedVersions[len(supportedVersions)-1], nil
	}
	for _, v := range supportedVersions {
		if v == version {
			return version, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
}

// CreateChannel allocates a channel in the INIT state on an existing connection.
func (cm *ChannelManager) CreateChannel(connectionID, portID, counterpartyPortID string, ordering Order, version string) (Channel, error) {
	if ordering != Ordered && ordering != Unordered {
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidOrdering, ordering)
	}
	version, err := NegotiateVersion(version)
	if err != nil {
		return Channel{}, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}

	now := cm.now()
	id := fmt.Sprintf("channel-%d", cm.channelCounter)
	ch := &Channel{
		ID:                    id,
		ConnectionID:          connectionID,
		PortID:                portID,
		CounterpartyPortID:    counterpartyPortID,
		CounterpartyChannelID: fmt.Sprintf("channel-%d", cm.channelCounter+1000),
		SourceChain:           conn.SourceChain,
		DestinationChain:      conn.TargetChain,
		Ordering:              ordering,
		Version:               version,
		State:                 ChannelInit,
		CreatedAt:             now,
		LastActivity:          now,
		NextSequenceSend:      1,
	}
	cm.channelCounter++
	cm.channels[id] = ch
	cm.observeChannelStates()

	cm.log.Info(
		"Created channel",
		zap.String("channel_id", id),
		zap.String("connection_id", connectionID),
		zap.String("port_id", portID),
		zap.String("order", string(ordering)),
		zap.String("version", version),
	)

	return *ch, nil
}

// OpenChannel runs the channel handshake.
// The channel passes through TRYOPEN before it becomes OPEN.
func (cm *ChannelManager) OpenChannel(channelID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	switch ch.State {
	case ChannelOpen:
		return nil
	case ChannelClosed:
		return fmt.Errorf("%w: cannot open %s from %s", ErrInvalidChannelState, channelID, ch.State)
	case ChannelInit:
		cm.transitionChannel(ch, ChannelTryOpen)
	}

	cm.transitionChannel(ch, ChannelOpen)
	return nil
}

// CloseChannel closes an OPEN channel. CLOSED is terminal.
func (cm *ChannelManager) CloseChannel(channelID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if ch.State != ChannelOpen {
		return fmt.Errorf("%w: cannot close %s from %s", ErrInvalidChannelState, channelID, ch.State)
	}

	cm.transitionChannel(ch, ChannelClosed)
	return nil
}

// transitionChannel must be called with cm.mu held.
func (cm *ChannelManager) transitionChannel(ch *Channel, state ChannelState) {
	prev := ch.State
	ch.State = state
	ch.LastActivity = cm.now()
	cm.observeChannelStates()

	cm.log.Info(
		"Channel state transition",
		zap.String("channel_id", ch.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(state)),
	)
}

// NextSequenceSend returns the sequence the next packet sent on the channel must carry.
// Sequences are scoped to the channel and start at 1. Only OPEN channels accept sends.
func (cm *ChannelManager) NextSequenceSend(channelID string) (uint64, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, ok := cm.channels[channelID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if ch.State != ChannelOpen {
		return 0, errChannelNotOpen(ch.ID, ch.State)
	}
	return ch.NextSequenceSend, nil
}

// commitSequenceSend advances the send sequence once the packet carrying seq was relayed.
// A sequence is never reused and never skipped. A channel closed while the packet
// was in flight refuses the commit.
func (cm *ChannelManager) commitSequenceSend(channelID string, seq uint64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if ch.State != ChannelOpen {
		return errChannelNotOpen(ch.ID, ch.State)
	}
	if ch.NextSequenceSend != seq {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidSequence, ch.NextSequenceSend, seq)
	}
	ch.NextSequenceSend++
	ch.LastActivity = cm.now()
	return nil
}

// FindOpenChannel returns the lowest numbered OPEN channel between the two chains.
func (cm *ChannelManager) FindOpenChannel(sourceChain, targetChain string) (Channel, bool) {
	for _, ch := range cm.GetAllChannels() {
		if ch.State == ChannelOpen && ch.SourceChain == sourceChain && ch.DestinationChain == targetChain {
			return ch, true
		}
	}
	return Channel{}, false
}

func (cm *ChannelManager) GetChannel(channelID string) (Channel, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, ok := cm.channels[channelID]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

func (cm *ChannelManager) GetChannelsForConnection(connectionID string) []Channel {
	var out []Channel
	for _, ch := range cm.GetAllChannels() {
		if ch.ConnectionID == connectionID {
			out = append(out, ch)
		}
	}
	return out
}

func (cm *ChannelManager) GetAllChannels() []Channel {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]Channel, 0, len(cm.channels))
	for _, ch := range cm.channels {
		out = append(out, *ch)
	}
	sortByIdentifier(out, func(c Channel) string { return c.ID })
	return out
}

// sortByIdentifier orders IBC style identifiers ("channel-2" before "channel-10").
func sortByIdentifier[T any](items []T, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		return identifierIndex(id(items[i])) < identifierIndex(id(items[j]))
	})
}

func identifierIndex(id string) uint64 {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
