package helpers_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/personachain/identity-relayer/helpers"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: did is required", crosschain.ErrInvalidRequest), http.StatusBadRequest},
		{helpers.ErrMissingParam("targetChains"), http.StatusBadRequest},
		{fmt.Errorf("send: %w", relayer.ErrPacketDataTooLarge), http.StatusBadRequest},
		{fmt.Errorf("%w: abc", crosschain.ErrRequestNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: relayer-z", relayer.ErrRelayerNotFound), http.StatusNotFound},
		{fmt.Errorf("%w for persona-1 -> osmosis-1", crosschain.ErrNoChannelAvailable), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: channel-0 is CLOSED", relayer.ErrChannelNotOpen), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w for a -> b", relayer.ErrNoEligibleRelayer), http.StatusBadGateway},
		{fmt.Errorf("%w: connection refused", relayer.ErrRelayFailure), http.StatusBadGateway},
		{relayer.ErrPacketTimedOut, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, helpers.StatusCode(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	helpers.WriteError(fmt.Errorf("%w: nope", crosschain.ErrRequestNotFound), w)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"err":"request not found: nope"}`, w.Body.String())
}

func TestDecodeJSONBody(t *testing.T) {
	type body struct {
		DID string `json:"did"`
	}

	var b body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"did":"did:persona:a"}`))
	require.NoError(t, helpers.DecodeJSONBody(req, &b))
	require.Equal(t, "did:persona:a", b.DID)

	for _, raw := range []string{``, `{`, `{"did":1}`, `{"other":"x"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		require.ErrorIs(t, helpers.DecodeJSONBody(req, &b), crosschain.ErrInvalidRequest, "body %q", raw)
	}
}

func TestParseLimitParam(t *testing.T) {
	limit, err := helpers.ParseLimitParam(httptest.NewRequest(http.MethodGet, "/", nil), 20)
	require.NoError(t, err)
	require.Equal(t, 20, limit)

	limit, err = helpers.ParseLimitParam(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), 20)
	require.NoError(t, err)
	require.Equal(t, 5, limit)

	for _, q := range []string{"abc", "-1"} {
		_, err = helpers.ParseLimitParam(httptest.NewRequest(http.MethodGet, "/?limit="+q, nil), 20)
		require.ErrorIs(t, err, crosschain.ErrInvalidRequest)
	}
}
