package cmd

import (
	"fmt"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/personachain/identity-relayer/relayer/identity"
	"github.com/personachain/identity-relayer/relayer/transport"
	"go.uber.org/zap"
)

// node is an in-process relayer assembled from the config file.
type node struct {
	log      *zap.Logger
	channels *relayer.ChannelManager
	relayers *relayer.RelayerManager
	metrics  *relayer.PrometheusMetrics
	router   *relayer.PacketRouter
	resolver *collab.LocalResolver
	service  *crosschain.Service
}

// newNode builds the managers, transport and cross-chain service described by cfg
// and provisions a channel for every configured path.
func newNode(log *zap.Logger, cfg *Config) (*node, error) {
	t, err := cfg.Global.timeouts()
	if err != nil {
		return nil, err
	}
	key, err := cfg.Signer.signerKey()
	if err != nil {
		return nil, err
	}

	n := &node{
		log:      log,
		channels: relayer.NewChannelManager(log),
		relayers: relayer.NewRelayerManager(log),
		metrics:  relayer.NewPrometheusMetrics(),
		resolver: collab.NewLocalResolver(cfg.Global.DIDMethod),
	}
	n.channels.SetMetrics(n.metrics)
	for _, r := range cfg.Relayers {
		n.relayers.AddRelayer(r)
	}

	n.router = relayer.NewPacketRouter(log, n.channels, n.relayers, newTransport(log, cfg.Global, t), n.metrics)

	n.service, err = crosschain.NewService(crosschain.Options{
		Log:                 log,
		Channels:            n.channels,
		Router:              n.router,
		Relayers:            n.relayers,
		Builder:             identity.NewBuilder(cfg.Signer.Sender, identity.Ed25519Signer{}, key),
		Resolver:            n.resolver,
		Prover:              collab.CommitmentProver{},
		Metrics:             n.metrics,
		ResolutionTimeout:   t.resolution,
		AttestationTimeout:  t.attestation,
		RegistrationTimeout: t.registration,
		PacketTimeout:       t.packet,
		DisclosureFields:    cfg.Global.DisclosureFields,
		RetryAttempts:       cfg.Global.RetryAttempts,
	})
	if err != nil {
		return nil, err
	}

	if err := n.provision(cfg.Paths); err != nil {
		_ = n.service.Close()
		return nil, err
	}
	return n, nil
}

func newTransport(log *zap.Logger, g GlobalConfig, t timeouts) relayer.Transport {
	if g.Transport == transportHTTP {
		return transport.NewHTTP(log, nil, t.http)
	}

	var failures transport.FailureModel
	switch g.FailureModel {
	case failuresAlways:
		failures = transport.AlwaysFail{}
	case failuresReliability:
		failures = transport.NewReliabilityFailures(g.FailureSeed)
	}
	return transport.NewSimulated(log, g.LatencyScale, 0, failures)
}

// provision opens a connection and a channel for each path, in path name order,
// so channel identifiers are stable across runs of the same config.
func (n *node) provision(paths Paths) error {
	for _, name := range paths.Names() {
		p := paths[name]

		clientID, cpClientID := p.ClientID, p.CounterpartyClientID
		if clientID == "" {
			clientID = "07-tendermint-0"
		}
		if cpClientID == "" {
			cpClientID = "07-tendermint-1"
		}

		conn := n.channels.CreateConnection(clientID, cpClientID, p.Src, p.Dst, 0)
		if err := n.channels.OpenConnection(conn.ID); err != nil {
			return fmt.Errorf("path %s: %w", name, err)
		}

		ch, err := n.channels.CreateChannel(conn.ID, relayer.PortID, relayer.PortID, relayer.Order(p.Order), p.Version)
		if err != nil {
			return fmt.Errorf("path %s: %w", name, err)
		}
		if err := n.channels.OpenChannel(ch.ID); err != nil {
			return fmt.Errorf("path %s: %w", name, err)
		}

		n.log.Info(
			"Provisioned path",
			zap.String("path_name", name),
			zap.String("connection_id", conn.ID),
			zap.String("channel_id", ch.ID),
			zap.String("src_chain_id", p.Src),
			zap.String("dst_chain_id", p.Dst),
		)
	}
	return nil
}

// Close stops the cross-chain service and waits for in-flight completions.
func (n *node) Close() error {
	return n.service.Close()
}
