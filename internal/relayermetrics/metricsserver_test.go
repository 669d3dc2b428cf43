package relayermetrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/personachain/identity-relayer/internal/relayermetrics"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesRelayerRegistry(t *testing.T) {
	metrics := relayer.NewPrometheusMetrics()
	metrics.SetPendingPackets(3)

	h := relayermetrics.NewHandler(metrics.Registry)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "identity_relayer_pending_packets 3")
	require.NotContains(t, w.Body.String(), "go_goroutines")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics/runtime", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
