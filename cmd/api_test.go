package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type apiEnv struct {
	node *node
	srv  *httptest.Server
}

func newAPIEnv(t *testing.T) apiEnv {
	t.Helper()

	cfg, err := defaultConfig()
	require.NoError(t, err)
	cfg.Relayers = []relayer.Relayer{{
		ID:              "relayer-main",
		SupportedChains: []string{"persona-1", "cosmoshub-4", "osmosis-1"},
		Status:          relayer.RelayerActive,
		Reliability:     95,
		SuccessRate:     100,
	}}
	cfg.Paths = Paths{
		"persona-hub": {Src: "persona-1", Dst: "cosmoshub-4", Order: string(relayer.Ordered)},
	}
	require.NoError(t, validateConfig(cfg))

	log := zaptest.NewLogger(t)
	n, err := newNode(log, cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(newAPIRouter(log, n))
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, n.Close())
	})

	return apiEnv{node: n, srv: srv}
}

func (env apiEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req, err := http.NewRequest(method, env.srv.URL+path, &buf)
	require.NoError(t, err)
	res, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(res.Body)
	require.NoError(t, err)
	return res.StatusCode, out.Bytes()
}

func TestAPIResolution(t *testing.T) {
	env := newAPIEnv(t)

	code, body := env.do(t, http.MethodPost, "/resolutions", resolutionRequest{
		DID:         "did:persona:alice",
		SourceChain: "persona-1",
		TargetChain: "cosmoshub-4",
	})
	require.Equal(t, http.StatusAccepted, code, string(body))

	var rec crosschain.DIDResolution
	require.NoError(t, json.Unmarshal(body, &rec))
	require.NotEmpty(t, rec.RequestID)
	require.Equal(t, "channel-0", rec.ChannelID)

	require.Eventually(t, func() bool {
		code, body := env.do(t, http.MethodGet, "/resolutions/"+rec.RequestID, nil)
		if code != http.StatusOK {
			return false
		}
		var latest crosschain.DIDResolution
		return json.Unmarshal(body, &latest) == nil && latest.Status == crosschain.ResolutionCompleted
	}, 5*time.Second, 10*time.Millisecond)

	code, body = env.do(t, http.MethodGet, "/channels/channel-0/packets?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	var history []relayer.PacketRecord
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
}

func TestAPIErrorStatus(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/resolutions", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/resolutions", `{"did":"did:persona:a","chain":"x"}`, http.StatusBadRequest},
		{"missing did", http.MethodPost, "/resolutions", resolutionRequest{SourceChain: "persona-1", TargetChain: "cosmoshub-4"}, http.StatusBadRequest},
		{"no channel", http.MethodPost, "/resolutions", resolutionRequest{DID: "did:persona:a", SourceChain: "persona-1", TargetChain: "osmosis-1"}, http.StatusUnprocessableEntity},
		{"unknown resolution", http.MethodGet, "/resolutions/nope", nil, http.StatusNotFound},
		{"unknown attestation", http.MethodGet, "/attestations/nope", nil, http.StatusNotFound},
		{"unknown registration", http.MethodGet, "/registrations/nope", nil, http.StatusNotFound},
		{"unknown relayer", http.MethodGet, "/relayers/nope", nil, http.StatusNotFound},
		{"unknown channel", http.MethodGet, "/channels/channel-9/packets", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/channels/channel-0/packets?limit=abc", nil, http.StatusBadRequest},
		{"missing targets", http.MethodPost, "/registrations", registrationRequest{DID: "did:persona:a", DIDDocument: json.RawMessage(`{}`), SourceChain: "persona-1"}, http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/stats", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, code, string(body))
			if code != http.StatusMethodNotAllowed {
				var errRes struct {
					Err string `json:"err"`
				}
				require.NoError(t, json.Unmarshal(body, &errRes))
				require.NotEmpty(t, errRes.Err)
			}
		})
	}
}

func TestAPINoEligibleRelayer(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.node.relayers.SetStatus("relayer-main", relayer.RelayerMaintenance))

	code, body := env.do(t, http.MethodPost, "/resolutions", resolutionRequest{
		DID:         "did:persona:alice",
		SourceChain: "persona-1",
		TargetChain: "cosmoshub-4",
	})
	require.Equal(t, http.StatusBadGateway, code, string(body))
}

func TestAPIAttestationAndProof(t *testing.T) {
	env := newAPIEnv(t)
	credential := json.RawMessage(`{"issuer":"did:persona:issuer","credentialSubject":{"id":"did:persona:alice","age":30}}`)

	code, body := env.do(t, http.MethodPost, "/attestations", attestationRequest{
		Credential:    credential,
		IssuerChain:   "persona-1",
		VerifierChain: "cosmoshub-4",
	})
	require.Equal(t, http.StatusAccepted, code, string(body))
	var rec crosschain.CredentialAttestation
	require.NoError(t, json.Unmarshal(body, &rec))

	rec, err := env.node.service.WaitCredentialAttestation(context.Background(), rec.AttestationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.AttestationVerified, rec.Status)

	code, body = env.do(t, http.MethodGet, "/attestations/"+rec.AttestationID, nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `"status":"verified"`)

	proof, err := collab.CommitmentProver{}.GenerateProof(context.Background(), credential, collab.DisclosureSpec{Fields: []string{"age"}}, "challenge", collab.ProofOptions{})
	require.NoError(t, err)

	code, body = env.do(t, http.MethodPost, "/proofs/verify", proofVerificationRequest{
		Proof:         proof,
		SourceChain:   "persona-1",
		VerifierChain: "cosmoshub-4",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	var res crosschain.ZKVerificationResult
	require.NoError(t, json.Unmarshal(body, &res))
	require.True(t, res.IsValid)
	require.Equal(t, "relayer-main", res.RelayedVia)
}

func TestAPIRegistrationAndListings(t *testing.T) {
	env := newAPIEnv(t)

	code, body := env.do(t, http.MethodPost, "/registrations", registrationRequest{
		DID:          "did:persona:bob",
		DIDDocument:  json.RawMessage(`{"id":"did:persona:bob"}`),
		SourceChain:  "persona-1",
		TargetChains: []string{"cosmoshub-4", "osmosis-1"},
	})
	require.Equal(t, http.StatusAccepted, code, string(body))
	var recs []crosschain.IdentityRegistration
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 1)

	done, err := env.node.service.WaitRegistration(context.Background(), recs[0].RegistrationID)
	require.NoError(t, err)
	require.Equal(t, crosschain.RegistrationCompleted, done.Status)

	code, body = env.do(t, http.MethodGet, "/relayers", nil)
	require.Equal(t, http.StatusOK, code)
	var relayers []relayerOutput
	require.NoError(t, json.Unmarshal(body, &relayers))
	require.Len(t, relayers, 1)
	require.Greater(t, relayers[0].Score, 0.0)

	code, body = env.do(t, http.MethodGet, "/channels", nil)
	require.Equal(t, http.StatusOK, code)
	var channels []relayer.Channel
	require.NoError(t, json.Unmarshal(body, &channels))
	require.Len(t, channels, 1)
	require.Equal(t, relayer.ChannelOpen, channels[0].State)

	code, body = env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats crosschain.Statistics
	require.NoError(t, json.Unmarshal(body, &stats))
	require.Equal(t, 1, stats.CrossChainOperations.IdentityRegistrations)
	require.Equal(t, 1, stats.Packets.TotalSent)

	code, _ = env.do(t, http.MethodGet, fmt.Sprintf("/registrations/%s", recs[0].RegistrationID), nil)
	require.Equal(t, http.StatusOK, code)
}
