// Package app owns the oddsmesh process lifecycle: it wires the durable
// stores, caches, archive and listing source for the configured operating
// mode, runs that mode, and tears everything down in reverse order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/davonroy/oddsmesh/internal/config"
)

// App is the root application object.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run resolves the configured mode, wires its dependencies and executes it,
// blocking until the mode finishes or ctx is cancelled. The mode is checked
// before any backend is dialed, so a typo fails fast. The caller invokes
// Close afterwards.
func (a *App) Run(ctx context.Context) error {
	mode, ok := a.runner()
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return mode(ctx, deps)
}

// runner maps the configured mode name to its entry point.
func (a *App) runner() (func(context.Context, *Dependencies) error, bool) {
	switch strings.ToLower(a.cfg.Mode) {
	case "scan":
		return a.ScanMode, true
	case "resolve":
		return a.ResolveMode, true
	case "audit":
		return a.AuditMode, true
	default:
		return nil, false
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
