// Package app provides the top-level application lifecycle for the up/down
// bot. It wires persistence, caches, blob storage and notifications, then
// runs the trading session or one of the offline commands.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and trades in the configured mode until the
// context is cancelled or the run duration elapses.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("storage", a.cfg.Storage.Backend),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "paper", "live":
		return a.Trade(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Report writes the stored performance summary for the configured mode as
// JSON.
func (a *App) Report(ctx context.Context, w io.Writer) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	summary, err := deps.Stores.Report.Summary(ctx, strings.ToLower(a.cfg.Mode))
	if err != nil {
		return fmt.Errorf("app: report: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// Archives lists the archived session prefixes for a UTC day (YYYY-MM-DD),
// or for every day when day is empty.
func (a *App) Archives(ctx context.Context, day string, w io.Writer) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.BlobReader == nil {
		return fmt.Errorf("app: archives: s3 is not enabled")
	}
	ids, err := s3blob.Sessions(ctx, deps.BlobReader, day)
	if err != nil {
		return fmt.Errorf("app: archives: %w", err)
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
