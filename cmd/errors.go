package cmd

import (
	"errors"
	"fmt"
)

func errConfigNotFound(cfgPath string) error {
	return fmt.Errorf("config not found at %s, run `%s config init` first", cfgPath, appName)
}

func errRelayerExists(id string) error {
	return fmt.Errorf("a relayer with id %s already exists", id)
}

func errRelayerNotFound(id string) error {
	return fmt.Errorf("relayer %q not found in config", id)
}

var (
	errMultipleDocumentSources = errors.New("expected either a json argument OR --file/-f, found both")
	errNoDocumentSource        = errors.New("expected either a json argument OR --file/-f, found none")
)
