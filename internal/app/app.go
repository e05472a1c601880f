// Package app owns the process lifecycle: it wires the backends, builds the
// engine and runs the loops of the configured mode until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/dexsniper/internal/config"
)

// App holds the configuration and the teardown hooks collected while
// starting up.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type modeFunc func(*App, context.Context, *Dependencies, *engine) error

var modes = map[string]modeFunc{
	"snipe":   (*App).SnipeMode,
	"monitor": (*App).MonitorMode,
	"server":  (*App).ServerMode,
	"full":    (*App).FullMode,
}

// Run wires everything and blocks in the selected mode until ctx is
// cancelled or a loop fails. Resources are released by Close.
func (a *App) Run(ctx context.Context) error {
	mode, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("network", a.cfg.Chain.Network),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	e, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: build engine: %w", err)
	}
	return mode(a, ctx, deps, e)
}

// Close runs the teardown hooks newest first. Repeated calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
