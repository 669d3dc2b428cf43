package relayer

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrChannelNotOpen      = errors.New("channel not open")
	ErrInvalidChannelState = errors.New("invalid channel state transition")
	ErrInvalidOrdering     = errors.New("invalid channel ordering")
	ErrUnsupportedVersion  = errors.New("unsupported channel version")
	ErrNoEligibleRelayer   = errors.New("no eligible relayer")
	ErrRelayerNotFound     = errors.New("relayer not found")
	ErrRelayFailure        = errors.New("relay failure")
	ErrPacketNotFound      = errors.New("packet not found")
	ErrInvalidSequence     = errors.New("invalid packet sequence")
	ErrPacketTimedOut      = errors.New("packet timeout already elapsed")
	ErrPacketDataTooLarge  = errors.New("packet data too large")
	ErrEmptyPacketData     = errors.New("packet data cannot be empty")
)

func errNoEligibleRelayer(src, dst string) error {
	return fmt.Errorf("%w for %s -> %s", ErrNoEligibleRelayer, src, dst)
}

func errChannelNotOpen(channelID string, state ChannelState) error {
	return fmt.Errorf("%w: %s is %s", ErrChannelNotOpen, channelID, state)
}
