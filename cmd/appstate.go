package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/juju/fslock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// appState is the modifiable state of the application.
type appState struct {
	// Log is the root logger of the application.
	// Consumers are expected to store and use local copies of the logger
	// after modifying with the .With method.
	Log *zap.Logger

	Viper *viper.Viper

	HomePath string
	Debug    bool
	Config   *Config
}

func (a *appState) configPath() string {
	return path.Join(a.HomePath, "config", "config.yaml")
}

// requireConfig returns the loaded config, or an error pointing at `config init`.
func (a *appState) requireConfig() (*Config, error) {
	if a.Config == nil {
		return nil, errConfigNotFound(a.configPath())
	}
	return a.Config, nil
}

// OverwriteConfig overwrites the config files on disk with the serialization of cfg,
// and it replaces a.Config with cfg.
//
// It is possible to use a brand new Config argument,
// but typically the argument is a.Config.
func (a *appState) OverwriteConfig(cfg *Config) error {
	cfgPath := a.configPath()
	if _, err := os.Stat(cfgPath); err != nil {
		return fmt.Errorf("failed to check existence of config file at %s: %w", cfgPath, err)
	}

	// ensure validateConfig runs properly
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("failed to validate config at %s: %w", cfgPath, err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cfgPath, out, 0600); err != nil {
		return fmt.Errorf("failed to write config file at %s: %w", cfgPath, err)
	}

	a.Config = cfg
	return nil
}

// OverwriteConfigOnTheFly locks the config file, reloads it from disk,
// applies modify and writes the result back.
// Concurrent idrly processes editing the same home directory serialize on the lock.
func (a *appState) OverwriteConfigOnTheFly(cmd *cobra.Command, modify func(*Config) error) error {
	// use lock file to guard concurrent access to config.yaml
	lockFilePath := path.Join(a.HomePath, "config", "config.lock")
	lock := fslock.New(lockFilePath)
	if err := lock.LockWithTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.Log.Error("error unlocking config file lock, please manually delete",
				zap.String("filepath", lockFilePath),
			)
		}
	}()

	// load config from file and validate it. don't want to miss
	// any changes that may have been made while unlocked.
	if err := initConfig(cmd, a); err != nil {
		return fmt.Errorf("failed to initialize config from file: %w", err)
	}
	cfg, err := a.requireConfig()
	if err != nil {
		return err
	}

	if err := modify(cfg); err != nil {
		return err
	}

	return a.OverwriteConfig(cfg)
}

// printOutput writes v to the command's stdout as yaml, or as json when --json is set.
func (a *appState) printOutput(cmd *cobra.Command, v any) error {
	var (
		bz  []byte
		err error
	)
	if asJSON(cmd) {
		bz, err = json.MarshalIndent(v, "", "  ")
	} else {
		bz, err = yaml.Marshal(v)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(bz))
	return nil
}

func asJSON(cmd *cobra.Command) bool {
	if cmd.Flags().Lookup(flagJSON) == nil {
		return false
	}
	jsn, err := cmd.Flags().GetBool(flagJSON)
	return err == nil && jsn
}
