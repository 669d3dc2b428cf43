// Package relayertest enables testing the idrly command-line interface
// from within Go unit tests.
package relayertest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/personachain/identity-relayer/cmd"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"
)

// System is a system under test.
type System struct {
	// Temporary directory to be injected as --home argument.
	HomeDir string
}

// NewSystem creates a new system with a home dir associated with a temp dir belonging to t.
//
// The returned System does not store a reference to t;
// some of its methods expect a *testing.T as an argument.
// This allows creating one instance of System to be shared with subtests.
func NewSystem(t *testing.T) *System {
	t.Helper()

	homeDir := t.TempDir()

	return &System{
		HomeDir: homeDir,
	}
}

// RunResult is the stdout and stderr resulting from a call to (*System).Run,
// and any error that was returned.
type RunResult struct {
	Stdout, Stderr bytes.Buffer

	Err error
}

// Run calls s.RunC with context.Background().
func (s *System) Run(log *zap.Logger, args ...string) RunResult {
	return s.RunC(context.Background(), log, args...)
}

// RunC calls s.RunWithInputC with an empty stdin.
func (s *System) RunC(ctx context.Context, log *zap.Logger, args ...string) RunResult {
	return s.RunWithInputC(ctx, log, bytes.NewReader(nil), args...)
}

// RunWithInput is shorthand for RunWithInputC(context.Background(), ...).
func (s *System) RunWithInput(log *zap.Logger, in io.Reader, args ...string) RunResult {
	return s.RunWithInputC(context.Background(), log, in, args...)
}

// RunWithInputC executes the root command with the given context and args,
// providing in as the command's standard input,
// and returns a RunResult that has its Stdout and Stderr populated.
func (s *System) RunWithInputC(ctx context.Context, log *zap.Logger, in io.Reader, args ...string) RunResult {
	rootCmd := cmd.NewRootCmd(log)
	rootCmd.SetIn(in)
	// cmd.Execute also sets SilenceUsage,
	// so match that here for more correct assertions.
	rootCmd.SilenceUsage = true

	var res RunResult
	rootCmd.SetOut(&res.Stdout)
	rootCmd.SetErr(&res.Stderr)

	// Prepend the system's home directory to any provided args.
	args = append([]string{"--home", s.HomeDir}, args...)
	rootCmd.SetArgs(args)

	res.Err = rootCmd.ExecuteContext(ctx)
	return res
}

// MustRun calls Run, but also calls t.Fatal if RunResult.Err is not nil.
func (s *System) MustRun(t *testing.T, args ...string) RunResult {
	t.Helper()

	return s.MustRunWithInput(t, bytes.NewReader(nil), args...)
}

// MustRunWithInput calls RunWithInput, but also calls t.Fatal if RunResult.Err is not nil.
func (s *System) MustRunWithInput(t *testing.T, in io.Reader, args ...string) RunResult {
	t.Helper()

	res := s.RunWithInput(zaptest.NewLogger(t), in, args...)
	if res.Err != nil {
		t.Logf("Error executing %v: %v", args, res.Err)
		t.Logf("Stdout: %q", res.Stdout.String())
		t.Logf("Stderr: %q", res.Stderr.String())
		t.FailNow()
	}

	return res
}

// MustInit runs "config init" and returns the resulting config.
func (s *System) MustInit(t *testing.T) cmd.Config {
	t.Helper()

	res := s.MustRun(t, "config", "init")
	require.Empty(t, res.Stdout.String())
	return s.MustGetConfig(t)
}

// MustAddRelayer calls "relayers add" with the given relayer's settings.
func (s *System) MustAddRelayer(t *testing.T, r relayer.Relayer) {
	t.Helper()

	args := append([]string{"relayers", "add", r.ID}, r.SupportedChains...)
	args = append(args,
		"--reliability", strconv.FormatFloat(r.Reliability, 'f', -1, 64),
		"--fee", strconv.FormatUint(r.Fee, 10),
	)
	if r.Endpoint != "" {
		args = append(args, "--endpoint", r.Endpoint)
	}
	if r.Status != "" {
		args = append(args, "--status", string(r.Status))
	}

	// Output is expected to be silent.
	res := s.MustRun(t, args...)
	require.Empty(t, res.Stdout.String())
}

// MustAddPath calls "paths add" for an ordered path between src and dst.
func (s *System) MustAddPath(t *testing.T, src, dst, name string) {
	t.Helper()

	res := s.MustRun(t, "paths", "add", src, dst, name)
	require.Empty(t, res.Stdout.String())
}

// MustGetConfig reads and unmarshals the config file from the home directory.
func (s *System) MustGetConfig(t *testing.T) (config cmd.Config) {
	t.Helper()

	configBz, err := os.ReadFile(filepath.Join(s.HomeDir, "config", "config.yaml"))
	require.NoError(t, err, "failed to read config file")

	err = yaml.Unmarshal(configBz, &config)
	require.NoError(t, err, "failed to unmarshal config file")

	return config
}

// MustPatchConfig applies patch to the on-disk config.
func (s *System) MustPatchConfig(t *testing.T, patch func(*cmd.Config)) {
	t.Helper()

	config := s.MustGetConfig(t)
	patch(&config)

	out, err := yaml.Marshal(config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.HomeDir, "config", "config.yaml"), out, 0600))
}
