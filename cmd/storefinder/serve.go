package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/storefinder"
	"github.com/jpalmerr/storefinder/config"
)

// graceTimeout bounds how long serve waits for Start to return after a signal.
const graceTimeout = 10 * time.Second

// newLogger returns a JSON logger on stderr.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the store finder UI and session API",
	Long: `Run the store finder over HTTP.

serve reads the YAML config, opens the upstream store and inventory APIs and
listens on the configured port until SIGINT or SIGTERM arrives.

  storefinder serve -c storefinder.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(serveCmd)
}

// logApplied reports every inventory quantity written to a session's board.
func logApplied(logger *slog.Logger) storefinder.Option {
	return storefinder.WithInventoryCallback(func(u storefinder.InventoryUpdate) {
		if u.Error != nil || !u.Applied {
			return
		}
		logger.Info("inventory applied",
			"session_id", u.SessionID,
			"store_id", u.StoreID,
			"product_id", u.ProductID,
			"quantity", u.Quantity,
		)
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Level())
	logger.Info("starting storefinder",
		"port", cfg.Port,
		"stores_url", cfg.StoresURL,
		"cache_path", cfg.CachePath,
		"max_concurrency", cfg.MaxConcurrency,
		"session_idle_timeout", cfg.SessionIdleTimeout.Duration().String(),
	)

	f, err := storefinder.New(append(config.BuildOptions(cfg), storefinder.WithLogger(logger), logApplied(logger))...)
	if err != nil {
		return fmt.Errorf("failed to create storefinder: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := make(chan error, 1)
	go func() { result <- f.Start(ctx) }()

	return awaitExit(ctx, result, logger)
}

// awaitExit returns Start's error, or gives up graceTimeout after ctx ends.
func awaitExit(ctx context.Context, result <-chan error, logger *slog.Logger) error {
	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
		select {
		case err = <-result:
		case <-time.After(graceTimeout):
			logger.Warn("shutdown did not finish in time", "timeout", graceTimeout.String())
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("storefinder stopped")
	return nil
}
