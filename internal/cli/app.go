package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/stratahq/strata/internal/config"
	"github.com/stratahq/strata/internal/registry"
	"github.com/stratahq/strata/internal/store"
)

// app bundles the opened engine pieces a command works with.
type app struct {
	cfg      config.Config
	store    *store.Store
	registry *registry.Registry
	logger   *slog.Logger
}

// openApp loads configuration and opens the store and registry.
// Callers must call close when done.
func openApp(ctx context.Context, opts *RootOptions, flags *pflag.FlagSet) (*app, error) {
	cfg, err := config.Load(opts.Config, flags)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}

	reg, err := registry.Open(ctx, st, registry.Options{
		MaxDepth:    cfg.MaxDepth,
		LockTimeout: cfg.LockTimeout,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    st,
		registry: reg,
		logger:   newLogger(cfg.LogLevel, opts.Verbose),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}

// newLogger builds the process logger. Verbose forces debug regardless of
// the configured level.
func newLogger(level string, verbose bool) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	if verbose {
		l = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
