// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Run the HTTP API.
//
// Examples:
//
//	palaver serve
//	palaver serve --addr 127.0.0.1:9000 --token s3cret
//
// The server shares conversations and credentials with the CLI. With a
// token set every route except /health needs "Authorization: Bearer".

package cli

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/logger"
	"github.com/jeranaias/palaver/internal/server"
)

const shutdownTimeout = 10 * time.Second

func (r *runner) serveCommand() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				cfg := app.Config.Server
				if addr != "" {
					cfg.Addr = addr
				}
				if token != "" {
					cfg.Token = token
				}
				if cfg.Token == "" && !isLoopback(cfg.Addr) {
					r.info("%s serving on %s without a token\n", WarningStyle.Render("Warning:"), cfg.Addr)
				}

				app.WatchCredentials(ctx)

				srv := server.New(app.Engine, app.Creds).
					WithAddr(cfg.Addr).
					WithToken(cfg.Token).
					WithRateLimit(cfg.RequestsPerSecond, cfg.Burst).
					WithModelLister(server.ModelListerFunc(app.ListModels)).
					WithLogger(logger.Component("server")).
					WithVersion(Version)
				if cfg.Metrics {
					srv.WithMetrics(app.Metrics)
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()
				r.info("%s http://%s\n", SuccessStyle.Render("Listening on"), cfg.Addr)

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return <-errCh
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token clients must send")
	return cmd
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
