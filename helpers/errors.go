package helpers

import (
	"fmt"

	"github.com/personachain/identity-relayer/relayer/crosschain"
)

// ErrMissingParam reports a required body or query parameter that was empty.
func ErrMissingParam(name string) error {
	return fmt.Errorf("%w: missing parameter %s", crosschain.ErrInvalidRequest, name)
}
