package relayer

import "context"

// Transport delivers a packet to its destination chain through a relayer.
//
// Implementations return the acknowledgement written by the destination,
// or an error when the relayer could not deliver the packet.
type Transport interface {
	Relay(ctx context.Context, packet Packet, relayer Relayer) (Acknowledgement, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, packet Packet, relayer Relayer) (Acknowledgement, error)

func (f TransportFunc) Relay(ctx context.Context, packet Packet, relayer Relayer) (Acknowledgement, error) {
	return f(ctx, packet, relayer)
}
