package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagHome      = "home"
	flagDebug     = "debug"
	flagLogFormat = "log-format"

	flagJSON        = "json"
	flagYAML        = "yaml"
	flagWait        = "wait"
	flagFile        = "file"
	flagZKProof     = "zk-proof"
	flagProofType   = "proof-type"
	flagSignals     = "signals"
	flagTargets     = "targets"
	flagEndpoint    = "endpoint"
	flagFee         = "fee"
	flagReliability = "reliability"
	flagStatus      = "status"
	flagClientID    = "client-id"
	flagCPClientID  = "counterparty-client-id"
	flagOrder       = "order"
	flagVersion     = "version"

	flagAPIListenAddr     = "api-listen-addr"
	flagMetricsListenAddr = "metrics-listen-addr"
	flagDebugListenAddr   = "debug-listen-addr"
)

func bindFlag(v *viper.Viper, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
		panic(err)
	}
}

func jsonFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolP(flagJSON, "j", false, "returns the response in json format")
	bindFlag(v, cmd, flagJSON)
	return cmd
}

func yamlFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolP(flagYAML, "y", false, "output using yaml")
	bindFlag(v, cmd, flagYAML)
	return cmd
}

// waitFlag registers --wait. A zero duration returns as soon as the packet is relayed.
func waitFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Duration(flagWait, 0, "wait up to this long for the operation to reach a terminal status")
	bindFlag(v, cmd, flagWait)
	return cmd
}

func fileFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringP(flagFile, "f", "", "read the json document from the specified file instead of the argument")
	bindFlag(v, cmd, flagFile)
	return cmd
}

func zkProofFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Bool(flagZKProof, false, "generate a zero-knowledge proof for the disclosed credential fields")
	bindFlag(v, cmd, flagZKProof)
	return cmd
}

func proofFlags(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagProofType, "", "proof system identifier, defaults to the proof's own type")
	cmd.Flags().StringSlice(flagSignals, nil, "public signals accompanying the proof")
	bindFlag(v, cmd, flagProofType)
	bindFlag(v, cmd, flagSignals)
	return cmd
}

func targetsFlag(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringSliceP(flagTargets, "t", nil, "target chain ids to register on")
	bindFlag(v, cmd, flagTargets)
	return cmd
}

func relayerAddFlags(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagEndpoint, "", "relayer endpoint used by the http transport")
	cmd.Flags().Uint64(flagFee, 0, "relay fee in the smallest denomination")
	cmd.Flags().Float64(flagReliability, 100, "advertised reliability percentage")
	cmd.Flags().String(flagStatus, "active", "initial status (active, inactive, or maintenance)")
	for _, name := range []string{flagEndpoint, flagFee, flagReliability, flagStatus} {
		bindFlag(v, cmd, name)
	}
	return cmd
}

func pathAddFlags(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagClientID, "", "client id on the source chain, defaults to 07-tendermint-0")
	cmd.Flags().String(flagCPClientID, "", "client id on the destination chain, defaults to 07-tendermint-1")
	cmd.Flags().StringP(flagOrder, "o", "ORDERED", "channel ordering (ORDERED or UNORDERED)")
	cmd.Flags().String(flagVersion, "", "channel version, defaults to the latest supported")
	for _, name := range []string{flagClientID, flagCPClientID, flagOrder, flagVersion} {
		bindFlag(v, cmd, name)
	}
	return cmd
}

func listenFlags(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagAPIListenAddr, "", "address for the identity api, overrides the config value")
	cmd.Flags().String(flagMetricsListenAddr, "", "address for the prometheus metrics server, overrides the config value")
	cmd.Flags().String(flagDebugListenAddr, "", "address for the pprof debug server, overrides the config value")
	for _, name := range []string{flagAPIListenAddr, flagMetricsListenAddr, flagDebugListenAddr} {
		bindFlag(v, cmd, name)
	}
	return cmd
}
