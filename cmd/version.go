package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/personachain/identity-relayer/internal/relaydebug"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/identity"
	"github.com/spf13/cobra"
)

// Version defines the application version (defined at compile time)
var Version = ""

type versionInfo struct {
	Version         string   `json:"version" yaml:"version"`
	Commit          string   `json:"commit" yaml:"commit"`
	PacketVersion   string   `json:"packet-version" yaml:"packet-version"`
	ChannelVersions []string `json:"channel-versions" yaml:"channel-versions"`
	Go              string   `json:"go" yaml:"go"`
}

func getVersionCmd(a *appState) *cobra.Command {
	versionCmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print the relayer version info",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s version --json
$ %s v`,
			appName, appName,
		)),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := Version
			if version == "" {
				version = relaydebug.ModuleVersion()
			}

			return a.printOutput(cmd, versionInfo{
				Version:         version,
				Commit:          relaydebug.BuildCommit(),
				PacketVersion:   identity.Version,
				ChannelVersions: []string{relayer.VersionV1, relayer.VersionV2},
				Go:              fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
			})
		},
	}

	return jsonFlag(a.Viper, versionCmd)
}
