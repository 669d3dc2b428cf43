package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	check = "✔"
	xIcon = "✘"
)

func pathsCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "paths",
		Aliases: []string{"pth"},
		Short:   "Manage path configurations",
		Long: `
A path is a channel between a source and a destination chain. Every configured path is
provisioned as an open connection and channel when idrly starts.`,
	}

	cmd.AddCommand(
		pathsListCmd(a),
		pathsShowCmd(a),
		pathsAddCmd(a),
		pathsDeleteCmd(a),
	)

	return cmd
}

func pathsListCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"l"},
		Short:   "Print out configured paths",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s paths list --yaml
$ %s paths list --json
$ %s pth l`, appName, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			jsn, _ := cmd.Flags().GetBool(flagJSON)
			yml, _ := cmd.Flags().GetBool(flagYAML)
			switch {
			case yml && jsn:
				return fmt.Errorf("can't pass both --json and --yaml, must pick one")
			case yml:
				out, err := yaml.Marshal(cfg.Paths)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			case jsn:
				out, err := json.Marshal(cfg.Paths)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			default:
				for i, name := range cfg.Paths.Names() {
					printPath(cmd.OutOrStdout(), i, name, cfg.Paths[name], checkmark(hasRelayer(cfg, cfg.Paths[name])))
				}
				return nil
			}
		},
	}
	return yamlFlag(a.Viper, jsonFlag(a.Viper, cmd))
}

func printPath(stdout io.Writer, i int, name string, pth *PathConfig, relayers string) {
	fmt.Fprintf(stdout, "%2d: %-20s -> rlyr(%s) %-9s (%s->%s)\n",
		i, name, relayers, pth.Order, pth.Src, pth.Dst)
}

func checkmark(status bool) string {
	if status {
		return check
	}
	return xIcon
}

// hasRelayer reports whether an active relayer can carry packets over the path.
func hasRelayer(cfg *Config, p *PathConfig) bool {
	for _, r := range cfg.Relayers {
		if r.Status == relayer.RelayerActive && r.Supports(p.Src, p.Dst) {
			return true
		}
	}
	return false
}

func pathsShowCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show path_name",
		Aliases: []string{"s"},
		Short:   "Show a path given its name",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s paths show persona-hub --json
$ %s pth s persona-hub`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}
			p, err := cfg.Paths.Get(args[0])
			if err != nil {
				return err
			}
			return a.printOutput(cmd, p)
		},
	}
	return jsonFlag(a.Viper, cmd)
}

func pathsAddCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add src_chain_id dst_chain_id path_name",
		Aliases: []string{"a"},
		Short:   "Add a path between two chains",
		Args:    withUsage(cobra.ExactArgs(3)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s paths add persona-1 cosmoshub-4 persona-hub
$ %s pth a persona-1 osmosis-1 persona-osmo --order UNORDERED`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst, name := args[0], args[1], args[2]

			clientID, _ := cmd.Flags().GetString(flagClientID)
			cpClientID, _ := cmd.Flags().GetString(flagCPClientID)
			order, _ := cmd.Flags().GetString(flagOrder)
			version, _ := cmd.Flags().GetString(flagVersion)

			p := &PathConfig{
				Src:                  src,
				Dst:                  dst,
				ClientID:             clientID,
				CounterpartyClientID: cpClientID,
				Order:                strings.ToUpper(order),
				Version:              version,
			}
			if err := p.validate(); err != nil {
				return fmt.Errorf("invalid path %s: %w", name, err)
			}

			return a.OverwriteConfigOnTheFly(cmd, func(cfg *Config) error {
				if err := cfg.Paths.Add(name, p); err != nil {
					return err
				}
				a.Log.Info("Added path", zap.String("path_name", name), zap.String("src_chain_id", src), zap.String("dst_chain_id", dst))
				return nil
			})
		},
	}
	return pathAddFlags(a.Viper, cmd)
}

func pathsDeleteCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete path_name",
		Aliases: []string{"d"},
		Short:   "Delete a path with a given name",
		Args:    withUsage(cobra.ExactArgs(1)),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s paths delete persona-hub
$ %s pth d persona-hub`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.OverwriteConfigOnTheFly(cmd, func(cfg *Config) error {
				if _, err := cfg.Paths.Get(args[0]); err != nil {
					return err
				}
				delete(cfg.Paths, args[0])
				return nil
			})
		},
	}
	return cmd
}
