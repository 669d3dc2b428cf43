package crosschain_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/personachain/identity-relayer/relayer/identity"
	"github.com/personachain/identity-relayer/relayer/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	chainX = "persona-1"
	chainY = "cosmoshub-4"
	chainZ = "osmosis-1"

	testDID = "did:persona:alice"

	testCredential = `{"issuer":"did:persona:issuer","credentialSubject":{"id":"did:persona:alice","age":30}}`
)

type testEnv struct {
	channels *relayer.ChannelManager
	relayers *relayer.RelayerManager
	router   *relayer.PacketRouter
	resolver *collab.LocalResolver
	metrics  *relayer.PrometheusMetrics
	svc      *crosschain.Service
}

type envOption func(*crosschain.Options, *envConfig)

type envConfig struct {
	failures transport.FailureModel
	skipOpen bool
}

func withFailures(f transport.FailureModel) envOption {
	return func(_ *crosschain.Options, c *envConfig) { c.failures = f }
}

func withResolver(r collab.DIDResolver) envOption {
	return func(o *crosschain.Options, _ *envConfig) { o.Resolver = r }
}

func withProver(p collab.ZKProver) envOption {
	return func(o *crosschain.Options, _ *envConfig) { o.Prover = p }
}

func withResolutionTimeout(d time.Duration) envOption {
	return func(o *crosschain.Options, _ *envConfig) { o.ResolutionTimeout = d }
}

func withAttestationTimeout(d time.Duration) envOption {
	return func(o *crosschain.Options, _ *envConfig) { o.AttestationTimeout = d }
}

func withoutOpenChannel() envOption {
	return func(_ *crosschain.Options, c *envConfig) { c.skipOpen = true }
}

// newTestEnv wires a service with one channel from chainX to chainY and one relayer.
func newTestEnv(t *testing.T, opts ...envOption) testEnv {
	t.Helper()

	log := zaptest.NewLogger(t)
	env := testEnv{
		channels: relayer.NewChannelManager(log),
		relayers: relayer.NewRelayerManager(log),
		resolver: collab.NewLocalResolver("persona"),
	}

	o := crosschain.Options{
		Log:      log,
		Channels: env.channels,
		Relayers: env.relayers,
		Builder:  identity.NewBuilder("persona1relayer", identity.Ed25519Signer{}, bytes.Repeat([]byte{7}, 32)),
		Resolver: env.resolver,
		Prover:   collab.CommitmentProver{},
		Metrics:  relayer.NewPrometheusMetrics(),
	}
	var cfg envConfig
	for _, opt := range opts {
		opt(&o, &cfg)
	}

	env.metrics = o.Metrics
	env.router = relayer.NewPacketRouter(log, env.channels, env.relayers, transport.NewSimulated(log, 0, 0, cfg.failures), o.Metrics)
	o.Router = env.router

	conn := env.channels.CreateConnection("07-tendermint-0", "07-tendermint-0", chainX, chainY, 0)
	require.NoError(t, env.channels.OpenConnection(conn.ID))
	ch, err := env.channels.CreateChannel(conn.ID, relayer.PortID, relayer.PortID, relayer.Ordered, "")
	require.NoError(t, err)
	if !cfg.skipOpen {
		require.NoError(t, env.channels.OpenChannel(ch.ID))
	}

	env.relayers.AddRelayer(relayer.Relayer{
		ID:              "relayer-main",
		Endpoint:        "http://relayer-main:8080",
		SupportedChains: []string{chainX, chainY, chainZ},
		Status:          relayer.RelayerActive,
		Fee:             1_000_000,
		Reliability:     95,
		AvgResponseTime: 2000,
		SuccessRate:     95,
	})

	env.svc, err = crosschain.NewService(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.svc.Close() })
	return env
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (env testEnv) requireNoPendingPackets(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(env.router.GetPendingPackets()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// rejectingProver generates real proofs but never accepts one.
type rejectingProver struct {
	collab.CommitmentProver
}

func (rejectingProver) VerifyProof(context.Context, collab.Proof) (bool, error) {
	return false, nil
}

func TestResolveDIDCrossChain(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.NoError(t, err)
	require.Equal(t, crosschain.ResolutionRelaying, rec.Status)
	require.NotEmpty(t, rec.RequestID)
	require.Equal(t, "relayer-main", rec.RelayerID)
	require.Equal(t, relayer.PacketKey(rec.ChannelID, 1), rec.PacketKey)

	done, err := env.svc.WaitDIDResolution(waitCtx(t), rec.RequestID)
	require.NoError(t, err)
	require.Equal(t, crosschain.ResolutionCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(done.ResolvedDocument, &doc))
	require.Equal(t, testDID, doc["id"])

	got, ok := env.svc.GetDIDResolutionStatus(rec.RequestID)
	require.True(t, ok)
	require.Equal(t, crosschain.ResolutionCompleted, got.Status)

	env.requireNoPendingPackets(t)

	// The relayed packet carries a signed identity packet.
	history := env.router.GetPacketHistory(rec.ChannelID)
	require.Len(t, history, 1)
	ip, err := identity.Decode(history[0].Packet.Data)
	require.NoError(t, err)
	require.Equal(t, identity.DIDResolution, ip.Type)
	require.Equal(t, testDID, ip.Data.DID)
	require.Equal(t, rec.RequestID, ip.Data.Metadata["requestId"])
}

func TestResolveDIDNoChannel(t *testing.T) {
	env := newTestEnv(t, withoutOpenChannel())

	_, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.ErrorIs(t, err, crosschain.ErrNoChannelAvailable)

	_, err = env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainY, chainX)
	require.ErrorIs(t, err, crosschain.ErrNoChannelAvailable)

	stats := env.svc.GetIBCStatistics()
	require.Zero(t, stats.CrossChainOperations.DIDResolutions)
	require.Zero(t, stats.Packets.TotalSent)
	require.Equal(t, 1, stats.Channels.Pending)
}

func TestResolveDIDSelectsMostReliableRelayer(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.relayers.SetStatus("relayer-main", relayer.RelayerInactive))

	base := relayer.Relayer{
		SupportedChains: []string{chainX, chainY},
		Status:          relayer.RelayerActive,
		Fee:             1_000_000,
		AvgResponseTime: 2000,
		SuccessRate:     95,
	}
	r70, r90, rOther := base, base, base
	r70.ID, r70.Reliability = "relayer-70", 70
	r90.ID, r90.Reliability = "relayer-90", 90
	rOther.ID, rOther.Reliability, rOther.SupportedChains = "relayer-other", 99, []string{chainX, chainZ}
	env.relayers.AddRelayer(r70)
	env.relayers.AddRelayer(rOther)
	env.relayers.AddRelayer(r90)

	rec, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.NoError(t, err)
	require.Equal(t, "relayer-90", rec.RelayerID)
}

func TestResolveDIDRelayFailure(t *testing.T) {
	env := newTestEnv(t, withFailures(transport.AlwaysFail{}))

	_, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.ErrorIs(t, err, relayer.ErrRelayFailure)
	require.ErrorIs(t, err, transport.ErrSimulatedFailure)

	stats := env.svc.GetIBCStatistics()
	require.Zero(t, stats.CrossChainOperations.DIDResolutions)
	require.Zero(t, stats.Packets.Pending)
}

func TestResolveDIDNotFound(t *testing.T) {
	var calls atomic.Int32
	resolver := collab.DIDResolverFunc(func(context.Context, string) (collab.Resolution, error) {
		calls.Add(1)
		return collab.Resolution{}, collab.ErrDIDNotFound
	})
	env := newTestEnv(t, withResolver(resolver))

	rec, err := env.svc.ResolveDIDCrossChain(context.Background(), "did:web:unknown", chainX, chainY)
	require.NoError(t, err)

	done, err := env.svc.WaitDIDResolution(waitCtx(t), rec.RequestID)
	require.NoError(t, err)
	require.Equal(t, crosschain.ResolutionFailed, done.Status)
	require.Contains(t, done.Error, collab.ErrDIDNotFound.Error())
	require.Equal(t, int32(1), calls.Load(), "a missing DID is not retried")
	env.requireNoPendingPackets(t)
}

func TestResolveDIDTimeoutIsTerminal(t *testing.T) {
	resolver := collab.DIDResolverFunc(func(ctx context.Context, did string) (collab.Resolution, error) {
		<-ctx.Done()
		return collab.Resolution{}, ctx.Err()
	})
	env := newTestEnv(t, withResolver(resolver), withResolutionTimeout(50*time.Millisecond))

	rec, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.NoError(t, err)

	done, err := env.svc.WaitDIDResolution(waitCtx(t), rec.RequestID)
	require.NoError(t, err)
	require.Equal(t, crosschain.ResolutionTimeout, done.Status)
	require.False(t, env.router.IsPending(rec.PacketKey))

	// The record stays terminal once the resolver gives up.
	time.Sleep(100 * time.Millisecond)
	got, ok := env.svc.GetDIDResolutionStatus(rec.RequestID)
	require.True(t, ok)
	require.Equal(t, crosschain.ResolutionTimeout, got.Status)
	require.Empty(t, got.ResolvedDocument)
}

func TestAttestCredentialWithoutProof(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(testCredential), chainX, chainY, false)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationRelaying, rec.Status)
	require.Nil(t, rec.ZKProof)

	done, err := env.svc.WaitCredentialAttestation(waitCtx(t), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationVerified, done.Status)
	require.NotNil(t, done.VerificationResult)
	require.True(t, done.VerificationResult.IsValid)
	require.Equal(t, chainY, done.VerificationResult.Verifier)
	require.Equal(t, []string{"issuer", "credentialSubject", "credentialSubject.age", "credentialSubject.id"}, done.VerificationResult.CheckedFields)
	env.requireNoPendingPackets(t)
}

func TestAttestCredentialRejectsIncompleteCredential(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(`{"credentialSubject":{"id":"x"}}`), chainX, chainY, false)
	require.NoError(t, err)

	done, err := env.svc.WaitCredentialAttestation(waitCtx(t), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationRejected, done.Status)
	require.False(t, done.VerificationResult.IsValid)
	require.Contains(t, done.Error, "issuer")
}

func TestAttestCredentialWithProof(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(testCredential), chainX, chainY, true)
	require.NoError(t, err)
	require.NotNil(t, rec.ZKProof)
	require.Equal(t, rec.AttestationID, rec.ZKProof.Challenge)

	done, err := env.svc.WaitCredentialAttestation(waitCtx(t), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationVerified, done.Status)
	require.Equal(t, "zkProof", done.VerificationResult.CheckedFields[0])
}

func TestAttestCredentialRejectedProof(t *testing.T) {
	env := newTestEnv(t, withProver(rejectingProver{}))

	rec, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(testCredential), chainX, chainY, true)
	require.NoError(t, err)

	done, err := env.svc.WaitCredentialAttestation(waitCtx(t), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationRejected, done.Status)
	require.NotNil(t, done.VerificationResult)
	require.False(t, done.VerificationResult.IsValid)
	require.Contains(t, done.VerificationResult.Reason, crosschain.ErrVerificationRejected.Error())
	env.requireNoPendingPackets(t)
}

// slowProver accepts every proof, but only once release is closed.
type slowProver struct {
	collab.CommitmentProver
	release  chan struct{}
	returned chan struct{}
}

func (p slowProver) VerifyProof(context.Context, collab.Proof) (bool, error) {
	<-p.release
	close(p.returned)
	return true, nil
}

func TestAttestCredentialTimeoutIsTerminal(t *testing.T) {
	prover := slowProver{release: make(chan struct{}), returned: make(chan struct{})}
	env := newTestEnv(t, withProver(prover), withAttestationTimeout(50*time.Millisecond))

	rec, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(testCredential), chainX, chainY, true)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationRelaying, rec.Status)

	done, err := env.svc.WaitCredentialAttestation(waitCtx(t), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationTimeout, done.Status)
	require.Nil(t, done.VerificationResult)
	require.False(t, env.router.IsPending(rec.PacketKey))

	// A valid result arriving after expiry does not change the record.
	close(prover.release)
	<-prover.returned
	require.NoError(t, env.svc.Close())

	got, ok := env.svc.GetCredentialAttestationStatus(rec.AttestationID)
	require.True(t, ok)
	require.Equal(t, crosschain.AttestationTimeout, got.Status)
	require.Nil(t, got.VerificationResult)
	require.Empty(t, env.router.GetPendingPackets())
}

func TestAttestCredentialInvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(`{`), chainX, chainY, false)
	require.ErrorIs(t, err, crosschain.ErrInvalidRequest)

	_, err = env.svc.AttestCredentialCrossChain(context.Background(), json.RawMessage(testCredential), chainX, chainZ, false)
	require.ErrorIs(t, err, crosschain.ErrNoChannelAvailable)

	require.Zero(t, env.svc.GetIBCStatistics().CrossChainOperations.CredentialAttestations)
}

func TestVerifyZKProofCrossChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	proof, err := collab.CommitmentProver{}.GenerateProof(ctx, json.RawMessage(testCredential), collab.DisclosureSpec{Fields: []string{"age"}}, "challenge", collab.ProofOptions{})
	require.NoError(t, err)

	res, err := env.svc.VerifyZKProofCrossChain(ctx, proof, nil, "", chainX, chainY)
	require.NoError(t, err)
	require.True(t, res.IsValid)
	require.Equal(t, "relayer-main", res.RelayedVia)
	require.NotEmpty(t, res.VerificationID)

	res, err = env.svc.VerifyZKProofCrossChain(ctx, proof, []string{"forged"}, "", chainX, chainY)
	require.NoError(t, err)
	require.False(t, res.IsValid)

	_, err = env.svc.VerifyZKProofCrossChain(ctx, proof, nil, "", chainX, chainZ)
	require.ErrorIs(t, err, crosschain.ErrNoChannelAvailable)

	env.requireNoPendingPackets(t)
	require.Equal(t, 2, env.router.TotalSent())
}

func TestRegisterIdentityCrossChain(t *testing.T) {
	env := newTestEnv(t)
	doc := json.RawMessage(`{"id":"did:web:bob.example","controller":"did:web:bob.example"}`)

	recs, err := env.svc.RegisterIdentityCrossChain(context.Background(), "did:web:bob.example", doc, chainX, []string{chainZ, chainY})
	require.NoError(t, err)
	require.Len(t, recs, 1, "unreachable targets are skipped")
	require.Equal(t, chainY, recs[0].TargetChain)
	require.Equal(t, crosschain.RegistrationPending, recs[0].Status)

	done, err := env.svc.WaitRegistration(waitCtx(t), recs[0].RegistrationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.RegistrationCompleted, done.Status)

	// Registered documents become resolvable.
	require.Eventually(t, func() bool {
		_, err := env.resolver.ResolveDID(context.Background(), "did:web:bob.example")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	res, err := env.resolver.ResolveDID(context.Background(), "did:web:bob.example")
	require.NoError(t, err)
	require.JSONEq(t, string(doc), string(res.DIDDocument))

	// With no reachable target nothing is attempted and nothing fails.
	recs, err = env.svc.RegisterIdentityCrossChain(context.Background(), "did:web:bob.example", doc, chainX, []string{chainZ})
	require.NoError(t, err)
	require.NotNil(t, recs)
	require.Empty(t, recs)

	_, err = env.svc.RegisterIdentityCrossChain(context.Background(), "did:web:bob.example", json.RawMessage(`nope`), chainX, []string{chainY})
	require.ErrorIs(t, err, crosschain.ErrInvalidRequest)
}

func TestRegisterIdentityRelayFailure(t *testing.T) {
	env := newTestEnv(t, withFailures(transport.AlwaysFail{}))

	recs, err := env.svc.RegisterIdentityCrossChain(context.Background(), testDID, json.RawMessage(`{"id":"x"}`), chainX, []string{chainY})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, crosschain.RegistrationFailed, recs[0].Status)
	require.Contains(t, recs[0].Error, relayer.ErrRelayFailure.Error())
}

func TestStatusOfUnknownRequests(t *testing.T) {
	env := newTestEnv(t)

	_, ok := env.svc.GetDIDResolutionStatus("missing")
	require.False(t, ok)
	_, ok = env.svc.GetCredentialAttestationStatus("missing")
	require.False(t, ok)
	_, ok = env.svc.GetRegistrationStatus("missing")
	require.False(t, ok)

	_, err := env.svc.WaitDIDResolution(context.Background(), "missing")
	require.ErrorIs(t, err, crosschain.ErrRequestNotFound)
}

func TestGetIBCStatistics(t *testing.T) {
	env := newTestEnv(t)
	env.relayers.AddRelayer(relayer.Relayer{
		ID:              "relayer-idle",
		SupportedChains: []string{chainX, chainY},
		Status:          relayer.RelayerMaintenance,
		Reliability:     75,
	})

	rec, err := env.svc.ResolveDIDCrossChain(context.Background(), testDID, chainX, chainY)
	require.NoError(t, err)
	_, err = env.svc.WaitDIDResolution(waitCtx(t), rec.RequestID)
	require.NoError(t, err)
	env.requireNoPendingPackets(t)

	stats := env.svc.GetIBCStatistics()
	require.Equal(t, crosschain.ChannelStatistics{Total: 1, Open: 1, Pending: 0}, stats.Channels)
	require.Equal(t, 2, stats.Relayers.Total)
	require.Equal(t, 1, stats.Relayers.Active)
	require.InDelta(t, 85, stats.Relayers.AvgReliability, 1e-9)
	require.Equal(t, crosschain.PacketStatistics{Pending: 0, TotalSent: 1}, stats.Packets)
	require.Equal(t, 1, stats.CrossChainOperations.DIDResolutions)
	require.Zero(t, stats.CrossChainOperations.ActiveResolutions)

	// Computing statistics leaves the channel gauge to the channel manager.
	require.Zero(t, testutil.CollectAndCount(env.metrics.ChannelStateGauge))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := crosschain.NewService(crosschain.Options{})
	require.ErrorContains(t, err, "channel manager is required")
	require.ErrorContains(t, err, "zk prover is required")
}
