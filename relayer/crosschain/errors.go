package crosschain

import (
	"errors"
	"fmt"
)

var (
	ErrNoChannelAvailable   = errors.New("no open channel available")
	ErrVerificationRejected = errors.New("verification rejected")
	ErrRequestNotFound      = errors.New("request not found")
	ErrInvalidRequest       = errors.New("invalid request")
)

func errNoChannelAvailable(src, dst string) error {
	return fmt.Errorf("%w between %s and %s", ErrNoChannelAvailable, src, dst)
}
