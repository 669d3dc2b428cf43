package relayer

import (
	"fmt"
	"time"
)

// MaxPacketDataSize bounds the payload carried by a single packet.
const MaxPacketDataSize = 64 * 1024

// Height is a revision aware block height.
type Height struct {
	RevisionNumber uint64 `json:"revision-number" yaml:"revision-number"`
	RevisionHeight uint64 `json:"revision-height" yaml:"revision-height"`
}

// IsZero reports whether the height is unset.
func (h Height) IsZero() bool {
	return h.RevisionNumber == 0 && h.RevisionHeight == 0
}

// Packet is a sequenced, timeout bounded message sent over a channel.
// Packets are immutable once sent.
type Packet struct {
	Sequence           uint64 `json:"sequence"`
	SourcePort         string `json:"source-port"`
	SourceChannel      string `json:"source-channel"`
	DestinationPort    string `json:"destination-port"`
	DestinationChannel string `json:"destination-channel"`
	Data               []byte `json:"data"`
	TimeoutHeight      Height `json:"timeout-height"`
	// TimeoutTimestamp is in unix nanoseconds. Zero disables the timestamp timeout.
	TimeoutTimestamp uint64 `json:"timeout-timestamp"`
}

// Key identifies the packet among all packets sent by this router.
func (p Packet) Key() string {
	return PacketKey(p.SourceChannel, p.Sequence)
}

// PacketKey formats the key of the packet sent on channelID with the given sequence.
func PacketKey(channelID string, sequence uint64) string {
	return fmt.Sprintf("%s-%d", channelID, sequence)
}

// TimedOut reports whether the packet's timestamp timeout has elapsed at now.
func (p Packet) TimedOut(now time.Time) bool {
	return p.TimeoutTimestamp != 0 && uint64(now.UnixNano()) >= p.TimeoutTimestamp
}

// Validate performs stateless checks on the packet.
func (p Packet) Validate() error {
	if p.SourceChannel == "" {
		return fmt.Errorf("%w: missing source channel", ErrChannelNotFound)
	}
	if len(p.Data) == 0 {
		return ErrEmptyPacketData
	}
	if len(p.Data) > MaxPacketDataSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPacketDataTooLarge, len(p.Data), MaxPacketDataSize)
	}
	return nil
}

// Acknowledgement is the response written by the receiving chain.
type Acknowledgement struct {
	Success bool   `json:"success"`
	Result  []byte `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Receipt describes a packet that was relayed successfully.
// Packet carries the sequence assigned at send time.
type Receipt struct {
	Key             string
	Packet          Packet
	RelayerID       string
	Acknowledgement Acknowledgement
	Latency         time.Duration
}

// PacketRecord is an entry of a channel's append-only send history.
type PacketRecord struct {
	Key       string    `json:"key"`
	Packet    Packet    `json:"packet"`
	RelayerID string    `json:"relayer-id"`
	SentAt    time.Time `json:"sent-at"`
}
