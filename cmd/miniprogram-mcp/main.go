// Copyright 2025 Joseph Cumines
//
// MCP server for WeChat mini-program automation - provides JSON-RPC 2.0 over stdio or HTTP/SSE

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/miniprogram-mcp/internal/config"
	"github.com/joeycumines/miniprogram-mcp/internal/server"
	"github.com/joeycumines/miniprogram-mcp/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long in-flight requests may run after a signal.
const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCommand(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "miniprogram-mcp",
		Short:         "MCP server for WeChat mini-program automation",
		Long:          "Exposes the mini-program automation SDK to MCP clients: launch the developer tool, navigate pages, query and drive elements, call wx APIs and read captured logs.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	apply := cfg.BindFlags(cmd.PersistentFlags())

	prepare := func() (*slog.Logger, error) {
		if err := apply(); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return newLogger(cfg.Debug), nil
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		logger, err := prepare()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List the tools the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := prepare()
			if err != nil {
				return err
			}
			srv := server.NewMCPServer(cfg, server.Options{Logger: logger})
			for _, tool := range srv.Registry().List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", tool.Name, tool.Title)
			}
			return nil
		},
	})

	return cmd
}

// newLogger logs to stderr, leaving stdout to the stdio transport.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	audit, err := server.NewAuditLogger(cfg.AuditLogFile)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	metrics := transport.NewMetricsRegistry()

	srv := server.NewMCPServer(cfg, server.Options{
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	})
	defer srv.Shutdown()

	logger.Info("Starting MCP server",
		"transport", cfg.Transport,
		"session_mode", cfg.SessionMode,
		"endpoint", srv.Launcher().Endpoint(),
		"tools", srv.Registry().Len())

	// A pending launch on start is abandoned once serving ends.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.LaunchOnStart && cfg.SessionMode == config.SessionModeLaunch {
		g.Go(func() error {
			// The launch tool can retry, so a failure here does not stop the server.
			if _, err := srv.Launcher().Launch(gctx); err != nil {
				logger.Warn("Launch on start failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		switch cfg.Transport {
		case config.TransportHTTP:
			return serveHTTP(gctx, cfg, srv, metrics, logger)
		default:
			return serveStdio(gctx, srv, logger)
		}
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Info("Received shutdown signal, shutting down...")
		select {
		case err = <-done:
		case <-time.After(shutdownGrace):
			logger.Warn("Forced shutdown")
			err = nil
		}
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}

func serveStdio(ctx context.Context, srv *server.MCPServer, logger *slog.Logger) error {
	tr := transport.NewStdioTransport(os.Stdin, os.Stdout)
	tr.SetLogger(logger)
	stop := context.AfterFunc(ctx, func() {
		if err := tr.Close(); err != nil {
			logger.Debug("error closing stdio transport", "error", err)
		}
	})
	defer stop()
	return tr.Serve(ctx, srv.HandleMessage)
}

func serveHTTP(ctx context.Context, cfg *config.Config, srv *server.MCPServer, metrics *transport.MetricsRegistry, logger *slog.Logger) error {
	tr := transport.NewHTTPTransport(&transport.HTTPTransportConfig{
		Address:           cfg.HTTPAddress,
		SocketPath:        cfg.HTTPSocketPath,
		CORSOrigin:        cfg.CORSOrigin,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		APIKey:            cfg.APIKey,
		TLSCertFile:       cfg.TLSCertFile,
		TLSKeyFile:        cfg.TLSKeyFile,
		RateLimit:         cfg.RateLimit,
		Health:            srv.Health,
		Metrics:           metrics,
		Logger:            logger,
	})
	logger.Info("Serving HTTP/SSE", "address", cfg.HTTPAddress, "socket", cfg.HTTPSocketPath, "tls", tr.IsTLSEnabled())
	return tr.Serve(ctx, srv.HandleMessage)
}
