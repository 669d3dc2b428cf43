package relaydebug_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/personachain/identity-relayer/internal/relaydebug"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDebugHandler(t *testing.T) {
	h := relaydebug.NewHandler(zaptest.NewLogger(t), func() any {
		return map[string]int{"pending": 2}
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/identity", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"pending":2}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
}

func TestDebugHandlerWithoutSnapshot(t *testing.T) {
	h := relaydebug.NewHandler(zaptest.NewLogger(t), nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/identity", nil))
	// Falls through to the pprof redirect.
	require.Equal(t, http.StatusSeeOther, w.Code)
}

func TestBuildCommit(t *testing.T) {
	require.NotEmpty(t, relaydebug.BuildCommit())
	require.NotEmpty(t, relaydebug.ModuleVersion())
}
