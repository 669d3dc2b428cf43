/*
Package cmd includes relayer commands
Copyright © 2020 Jack Zampolin <jack.zampolin@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/personachain/identity-relayer/internal/relaydebug"
	"github.com/personachain/identity-relayer/internal/relayermetrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// startCmd represents the start command
func startCmd(a *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"st"},
		Short:   "Provision the configured paths and serve the identity api until interrupted",
		Args:    withUsage(cobra.NoArgs),
		Example: strings.TrimSpace(fmt.Sprintf(`
$ %s start
$ %s start --api-listen-addr 0.0.0.0:5183 --debug-listen-addr ""`, appName, appName)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.requireConfig()
			if err != nil {
				return err
			}

			apiAddr := listenAddr(cmd, flagAPIListenAddr, cfg.Global.APIListenAddr)
			metricsAddr := listenAddr(cmd, flagMetricsListenAddr, cfg.Global.MetricsListenAddr)
			debugAddr := listenAddr(cmd, flagDebugListenAddr, cfg.Global.DebugListenAddr)
			if apiAddr == "" {
				return errors.New("an api listen address is required")
			}

			return a.withNode(func(n *node) error {
				ctx := cmd.Context()

				if metricsAddr == "" {
					a.Log.Info("Skipping metrics server due to empty metrics address")
				} else {
					ln, err := net.Listen("tcp", metricsAddr)
					if err != nil {
						a.Log.Error("Failed to listen on metrics address. If you have another relayer process open, use --" + flagMetricsListenAddr + " to pick a different address.")
						return fmt.Errorf("failed to listen on metrics address %q: %w", metricsAddr, err)
					}
					log := a.Log.With(zap.String("sys", "metricshttp"))
					log.Info("Metrics server listening", zap.Stringer("addr", ln.Addr()))
					relayermetrics.StartMetricsServer(ctx, log, ln, n.metrics.Registry)
				}

				if debugAddr == "" {
					a.Log.Info("Skipping debug server due to empty debug address")
				} else {
					ln, err := net.Listen("tcp", debugAddr)
					if err != nil {
						a.Log.Error("Failed to listen on debug address. If you have another relayer process open, use --" + flagDebugListenAddr + " to pick a different address.")
						return fmt.Errorf("failed to listen on debug address %q: %w", debugAddr, err)
					}
					log := a.Log.With(zap.String("sys", "debughttp"))
					log.Info("Debug server listening", zap.Stringer("addr", ln.Addr()))
					relaydebug.StartDebugServer(ctx, log, ln, func() any { return n.service.GetIBCStatistics() })
				}

				ln, err := net.Listen("tcp", apiAddr)
				if err != nil {
					return fmt.Errorf("failed to listen on api address %q: %w", apiAddr, err)
				}
				a.Log.Info("Identity api listening", zap.Stringer("addr", ln.Addr()))

				return serveAPI(ctx, a.Log, ln, n)
			})
		},
	}
	return listenFlags(a.Viper, cmd)
}

// listenAddr prefers an explicitly set flag over the config value, so "" can disable a server.
func listenAddr(cmd *cobra.Command, flag, fromConfig string) string {
	if cmd.Flags().Changed(flag) {
		addr, _ := cmd.Flags().GetString(flag)
		return addr
	}
	return fromConfig
}

// serveAPI serves the identity api on ln until ctx is done.
func serveAPI(ctx context.Context, log *zap.Logger, ln net.Listener, n *node) error {
	srv := &http.Server{
		Handler:           newAPIRouter(log, n),
		ErrorLog:          zap.NewStdLog(log.With(zap.String("sys", "apihttp"))),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Block until the server exits.
	// The context being canceled will cause the server to stop,
	// so we don't want to separately monitor the ctx.Done channel.
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Identity api error", zap.Error(err))
		return err
	}
	return nil
}
