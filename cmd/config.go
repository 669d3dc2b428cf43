/*
Package cmd includes relayer commands
Copyright © 2020 Jack Zampolin jack.zampolin@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	transportSimulated = "simulated"
	transportHTTP      = "http"

	failuresNone        = "none"
	failuresAlways      = "always"
	failuresReliability = "reliability"
)

func configCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"cfg"},
		Short:   "Manage configuration file",
	}

	cmd.AddCommand(
		configShowCmd(a),
		configInitCmd(a),
	)

	return cmd
}

// Command for printing current configuration
func configShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"s", "list", "l"},
		Short:   "Prints current configuration",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config show --home %s
$ %s cfg list`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := path.Join(a.HomePath, "config", "config.yaml")
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if _, err := os.Stat(a.HomePath); os.IsNotExist(err) {
					return fmt.Errorf("home path does not exist: %s", a.HomePath)
				}
				return fmt.Errorf("config does not exist: %s", cfgPath)
			}

			return a.printOutput(cmd, a.Config)
		},
	}

	return jsonFlag(a.Viper, cmd)
}

// Command for initializing an empty config at the --home location
func configInitCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"i"},
		Short:   "Creates a default home directory at path defined by --home",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s config init --home %s
$ %s cfg i`, appName, defaultHome, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := path.Join(a.HomePath, "config")
			cfgPath := path.Join(cfgDir, "config.yaml")

			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := os.MkdirAll(cfgDir, os.ModePerm); err != nil {
				return err
			}

			cfg, err := defaultConfig()
			if err != nil {
				return err
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
		},
	}
	return cmd
}

// Config represents the config file for the relayer
type Config struct {
	Global   GlobalConfig      `yaml:"global" json:"global"`
	Signer   SignerConfig      `yaml:"signer" json:"signer"`
	Relayers []relayer.Relayer `yaml:"relayers" json:"relayers"`
	Paths    Paths             `yaml:"paths" json:"paths"`
}

// GlobalConfig describes any global relayer settings
type GlobalConfig struct {
	APIListenAddr     string `yaml:"api-listen-addr" json:"api-listen-addr"`
	MetricsListenAddr string `yaml:"metrics-listen-addr" json:"metrics-listen-addr"`
	DebugListenAddr   string `yaml:"debug-listen-addr" json:"debug-listen-addr"`
	LogFormat         string `yaml:"log-format" json:"log-format"`

	PacketTimeout       string `yaml:"packet-timeout" json:"packet-timeout"`
	ResolutionTimeout   string `yaml:"resolution-timeout" json:"resolution-timeout"`
	AttestationTimeout  string `yaml:"attestation-timeout" json:"attestation-timeout"`
	RegistrationTimeout string `yaml:"registration-timeout" json:"registration-timeout"`
	RetryAttempts       uint   `yaml:"retry-attempts" json:"retry-attempts"`

	// Transport is either "simulated" or "http".
	Transport   string `yaml:"transport" json:"transport"`
	HTTPTimeout string `yaml:"http-timeout" json:"http-timeout"`
	// LatencyScale and the failure settings only apply to the simulated transport.
	LatencyScale float64 `yaml:"latency-scale" json:"latency-scale"`
	FailureModel string  `yaml:"failure-model" json:"failure-model"`
	FailureSeed  int64   `yaml:"failure-seed" json:"failure-seed"`

	// DIDMethod is the DID method the local resolver answers for.
	DIDMethod        string   `yaml:"did-method" json:"did-method"`
	DisclosureFields []string `yaml:"disclosure-fields" json:"disclosure-fields"`
}

// SignerConfig holds the identity packet signing key.
type SignerConfig struct {
	Sender string `yaml:"sender" json:"sender"`
	// Key is a hex encoded ed25519 seed.
	Key string `yaml:"key" json:"-"`
}

// PathConfig describes a channel to provision between two chains.
type PathConfig struct {
	Src                  string `yaml:"src" json:"src"`
	Dst                  string `yaml:"dst" json:"dst"`
	ClientID             string `yaml:"client-id" json:"client-id"`
	CounterpartyClientID string `yaml:"counterparty-client-id" json:"counterparty-client-id"`
	Order                string `yaml:"order" json:"order"`
	Version              string `yaml:"version" json:"version"`
}

// Paths maps path names to their configuration.
type Paths map[string]*PathConfig

// Get returns the configured path with the given name.
func (p Paths) Get(name string) (*PathConfig, error) {
	if pth, ok := p[name]; ok {
		return pth, nil
	}
	return nil, fmt.Errorf("path with name %s does not exist", name)
}

// Add adds a path by its name.
func (p Paths) Add(name string, path *PathConfig) error {
	if _, ok := p[name]; ok {
		return fmt.Errorf("path with name %s already exists", name)
	}
	p[name] = path
	return nil
}

// Names returns the path names in sorted order.
func (p Paths) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *PathConfig) validate() error {
	if p.Src == "" || p.Dst == "" {
		return errors.New("src and dst chain ids are required")
	}
	if p.Src == p.Dst {
		return fmt.Errorf("src and dst must differ, both are %s", p.Src)
	}
	switch relayer.Order(p.Order) {
	case relayer.Ordered, relayer.Unordered:
	default:
		return fmt.Errorf("%w: %q", relayer.ErrInvalidOrdering, p.Order)
	}
	_, err := relayer.NegotiateVersion(p.Version)
	return err
}

func defaultConfig() (*Config, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}

	return &Config{
		Global: GlobalConfig{
			APIListenAddr:       "127.0.0.1:5183",
			MetricsListenAddr:   "127.0.0.1:5184",
			DebugListenAddr:     "127.0.0.1:5185",
			LogFormat:           "auto",
			PacketTimeout:       crosschain.DefaultPacketTimeout.String(),
			ResolutionTimeout:   crosschain.DefaultResolutionTimeout.String(),
			AttestationTimeout:  crosschain.DefaultAttestationTimeout.String(),
			RegistrationTimeout: crosschain.DefaultRegistrationTimeout.String(),
			RetryAttempts:       crosschain.DefaultRetryAttempts,
			Transport:           transportSimulated,
			HTTPTimeout:         "10s",
			LatencyScale:        0.01,
			FailureModel:        failuresNone,
			DIDMethod:           "persona",
		},
		Signer: SignerConfig{
			Sender: appName,
			Key:    hex.EncodeToString(priv.Seed()),
		},
		Relayers: []relayer.Relayer{},
		Paths:    Paths{},
	}, nil
}

// timeouts are the parsed duration settings of the global config.
type timeouts struct {
	packet, resolution, attestation, registration, http time.Duration
}

func (g GlobalConfig) timeouts() (timeouts, error) {
	var (
		t    timeouts
		errs error
	)
	for _, d := range []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"packet-timeout", g.PacketTimeout, &t.packet},
		{"resolution-timeout", g.ResolutionTimeout, &t.resolution},
		{"attestation-timeout", g.AttestationTimeout, &t.attestation},
		{"registration-timeout", g.RegistrationTimeout, &t.registration},
		{"http-timeout", g.HTTPTimeout, &t.http},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s: %w", d.field, err))
			continue
		}
		*d.dst = v
	}
	return t, errs
}

// signerKey decodes the configured signing seed.
func (s SignerConfig) signerKey() ([]byte, error) {
	key, err := hex.DecodeString(s.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	if len(key) != ed25519.SeedSize && len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signer key length %d", len(key))
	}
	return key, nil
}

// validateConfig checks every section of the config and reports all problems at once.
func validateConfig(c *Config) error {
	_, err := c.Global.timeouts()

	switch c.Global.Transport {
	case "", transportSimulated, transportHTTP:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown transport %q", c.Global.Transport))
	}
	switch c.Global.FailureModel {
	case "", failuresNone, failuresAlways, failuresReliability:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown failure model %q", c.Global.FailureModel))
	}
	if c.Global.LatencyScale < 0 {
		err = multierr.Append(err, errors.New("latency-scale cannot be negative"))
	}

	if _, keyErr := c.Signer.signerKey(); keyErr != nil {
		err = multierr.Append(err, keyErr)
	}

	seen := make(map[string]bool, len(c.Relayers))
	for _, r := range c.Relayers {
		if rErr := validateRelayer(r); rErr != nil {
			err = multierr.Append(err, fmt.Errorf("relayer %q: %w", r.ID, rErr))
		}
		if seen[r.ID] {
			err = multierr.Append(err, fmt.Errorf("duplicate relayer %q", r.ID))
		}
		seen[r.ID] = true
	}

	for _, name := range c.Paths.Names() {
		if pErr := c.Paths[name].validate(); pErr != nil {
			err = multierr.Append(err, fmt.Errorf("path %q: %w", name, pErr))
		}
	}

	return err
}

func validateRelayer(r relayer.Relayer) error {
	switch {
	case r.ID == "":
		return errors.New("id is required")
	case len(r.SupportedChains) < 2:
		return errors.New("at least two supported chains are required")
	case r.Reliability < 0 || r.Reliability > 100:
		return fmt.Errorf("reliability %v out of range [0, 100]", r.Reliability)
	case r.SuccessRate < 0 || r.SuccessRate > 100:
		return fmt.Errorf("success-rate %v out of range [0, 100]", r.SuccessRate)
	case r.AvgResponseTime < 0:
		return errors.New("avg-response-time cannot be negative")
	}
	switch r.Status {
	case relayer.RelayerActive, relayer.RelayerInactive, relayer.RelayerMaintenance:
	default:
		return fmt.Errorf("invalid status %q", r.Status)
	}
	return nil
}

// initConfig reads in config file and ENV variables if set.
// A missing config file is not an error; commands that need one check a.Config.
func initConfig(cmd *cobra.Command, a *appState) error {
	a.Config = nil

	cfgPath := path.Join(a.HomePath, "config", "config.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		return nil
	}

	a.Viper.SetConfigFile(cfgPath)
	if err := a.Viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read in config: %w", err)
	}

	// read the config file bytes
	file, err := os.ReadFile(a.Viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	// unmarshall them into the struct
	cfg := &Config{}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error unmarshalling config: %w", err)
	}
	if cfg.Paths == nil {
		cfg.Paths = Paths{}
	}

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("error parsing config %s: %w", cfgPath, err)
	}

	a.Config = cfg
	return nil
}

// MarshalJSON hides the signer key from json output.
func (s SignerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sender string `json:"sender"`
	}{s.Sender})
}
