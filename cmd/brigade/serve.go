package main

import (
	"fmt"
	"log/slog"

	"github.com/jonathan/brigade/internal/config"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/pipeline/steps"
	"github.com/jonathan/brigade/internal/server"
	"github.com/jonathan/brigade/internal/server/ratelimit"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server that runs sessions and streams their progress over SSE and WebSocket.

A registry file given with --registry is reloaded when it changes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default :8080)")
	addPipelineFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, func(c *config.Config) {
		pipelineOverrides(cmd, c)
		if cmd.Flags().Changed("addr") {
			c.Addr = serveAddr
		}
	})
	if err != nil {
		return err
	}

	broadcaster := pipeline.NewBroadcaster(64)
	a, err := newApp(ctx, cfg, true, pipeline.WithBroadcaster(broadcaster))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer a.Close()

	if a.watcher != nil {
		a.watcher.OnChange(func(r *steps.Registry) {
			slog.Info("registry reloaded", "path", cfg.RegistryPath, "steps", len(r.Steps))
		})
	}

	srv := server.New(a.orch, server.Config{
		Addr:        cfg.Addr,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   ratelimit.LoadConfig(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Logger:      slog.Default(),
	})
	return srv.Start(ctx)
}
