package relaydebug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"

	"go.uber.org/zap"
)

// SnapshotFunc returns a json serializable view of the running relayer.
type SnapshotFunc func() any

// StartDebugServer starts a debug server in a background goroutine,
// accepting connections on the given listener.
// Besides pprof, the server exposes snapshot at /debug/identity when it is non-nil.
// The server will be forcefully shut down when ctx finishes.
func StartDebugServer(ctx context.Context, log *zap.Logger, ln net.Listener, snapshot SnapshotFunc) {
	srv := &http.Server{
		Handler:  NewHandler(log, snapshot),
		ErrorLog: zap.NewStdLog(log),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go srv.Serve(ln)

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}

// NewHandler returns the debug server's handler.
func NewHandler(log *zap.Logger, snapshot SnapshotFunc) http.Handler {
	// Same routes as the default mux configuration in net/http/pprof.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if snapshot != nil {
		mux.HandleFunc("/debug/identity", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
				log.Warn("Failed to write debug snapshot", zap.Error(err))
			}
		})
	}

	// Redirect the browser to the /debug/pprof root instead of a 404 page.
	mux.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
	return mux
}
