package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexsniper/internal/chain"
	"github.com/alanyoungcy/dexsniper/internal/crypto"
	"github.com/alanyoungcy/dexsniper/internal/executor"
	"github.com/alanyoungcy/dexsniper/internal/server"
	"github.com/alanyoungcy/dexsniper/internal/server/handler"
	"github.com/alanyoungcy/dexsniper/internal/server/ws"
	"github.com/alanyoungcy/dexsniper/internal/service"
)

// engine holds the services every mode draws from.
type engine struct {
	chain     *chain.Client
	policy    *service.PolicyService
	book      *service.PositionBook
	ledger    *service.Ledger
	snipes    *service.SnipeService
	exits     *executor.ExitExecutor
	monitor   *service.Monitor
	discovery *service.Discovery
	pnl       *service.PnLService
}

// buildEngine restores the policy and the open book, dials the chain and
// assembles the services on top of deps.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine, error) {
	cfg := a.cfg
	logger := a.logger

	pol, err := service.RestorePolicy(ctx,
		cfg.Policy.Operator,
		cfg.Policy.Domain(),
		cfg.Policy.Blacklist,
		deps.PolicyStore,
		deps.BlacklistStore,
		deps.AuditStore,
		deps.SignalBus,
		logger,
	)
	if err != nil {
		return nil, err
	}
	pol.SetTelemetry(deps.Metrics)

	book := service.NewPositionBook(deps.PositionStore, logger)
	if err := book.Load(ctx); err != nil {
		return nil, err
	}
	deps.Metrics.SetOpenPositions(book.Count())

	net, err := cfg.Chain.Resolve()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	var signer chain.TxSigner
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: wallet: %w", err)
		}
		s, err := crypto.NewSigner(key, net.ChainID)
		if err != nil {
			return nil, fmt.Errorf("app: wallet: %w", err)
		}
		logger.InfoContext(ctx, "app: wallet loaded", slog.String("address", s.Address().Hex()))
		signer = s
	} else {
		logger.WarnContext(ctx, "app: no wallet configured, swaps are disabled")
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, chain.ClientConfig{
		Network: chain.Network{
			Name:          cfg.Chain.Network,
			ChainID:       net.ChainID,
			Router:        net.Router,
			Factory:       net.Factory,
			WrappedNative: net.WrappedNative,
			Locker:        net.Locker,
			BuyMethod:     net.BuyMethod,
			SellMethod:    net.SellMethod,
		},
		OracleTimeout:    cfg.Chain.OracleTimeout.Duration,
		ReceiptTimeout:   cfg.Chain.ReceiptTimeout.Duration,
		GasMultiplierPct: func() int64 { return pol.Snapshot().Config.GasMultiplierPct },
		Signer:           signer,
		Observer:         deps.Metrics,
		Limiter:          deps.RateLimiter,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	ledger := service.NewLedger(deps.AccountStore, deps.AuditStore, logger)
	snipes := service.NewSnipeService(service.SnipeDeps{
		Network: cfg.Chain.Network,
		Policy:  pol,
		Snapshots: service.NewSnapshotBuilder(service.Oracles{
			Price:     client,
			Liquidity: client,
			Token:     client,
			Tax:       client,
		}),
		Swaps:     client,
		Book:      book,
		Ledger:    ledger,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Telemetry: deps.Metrics,
		Alerts:    deps.Notifier,
		Logger:    logger,
	})
	exits := executor.New(executor.Deps{
		Policy:    pol,
		Book:      book,
		Swaps:     client,
		Ledger:    ledger,
		Locks:     deps.LockManager,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Telemetry: deps.Metrics,
		Alerts:    deps.Notifier,
		Logger:    logger,
		// A stuck receipt must not outlive the lock.
		LockTTL: cfg.Chain.ReceiptTimeout.Duration + time.Minute,
	})

	return &engine{
		chain:  client,
		policy: pol,
		book:   book,
		ledger: ledger,
		snipes: snipes,
		exits:  exits,
		monitor: service.NewMonitor(service.MonitorDeps{
			Policy:      pol,
			Book:        book,
			Prices:      client,
			PriceCache:  deps.PriceCache,
			Exits:       exits,
			Bus:         deps.SignalBus,
			Telemetry:   deps.Metrics,
			Logger:      logger,
			Interval:    cfg.Monitor.Interval.Duration,
			Concurrency: cfg.Monitor.Concurrency,
		}),
		discovery: service.NewDiscovery(service.DiscoveryDeps{
			Scanner:   client,
			Snipes:    snipes,
			Bus:       deps.SignalBus,
			Telemetry: deps.Metrics,
			Logger:    logger,
			Interval:  cfg.Discovery.Interval.Duration,
			ScanCount: cfg.Discovery.ScanCount,
			DedupTTL:  cfg.Discovery.DedupTTL.Duration,
			AutoSnipe: cfg.Discovery.AutoSnipe,
			Account:   cfg.Discovery.Account,
			Amount:    cfg.Discovery.DefaultAmount,
		}),
		pnl: service.NewPnLService(book, deps.PositionStore, deps.AccountStore, deps.PriceCache, client, logger),
	}, nil
}

// SnipeMode scans for new pairs, watches open positions and serves the API.
func (a *App) SnipeMode(ctx context.Context, deps *Dependencies, e *engine) error {
	a.logger.InfoContext(ctx, "starting snipe mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startDiscovery(ctx, g, e)
	g.Go(func() error { return e.monitor.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

// MonitorMode only manages exits of already open positions.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, e *engine) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.monitor.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

// ServerMode serves the HTTP API without background loops.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, e *engine) error {
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: server mode with server.enabled = false")
	}
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

// FullMode runs everything, including the cold-storage archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, e *engine) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startDiscovery(ctx, g, e)
	g.Go(func() error { return e.monitor.Run(ctx) })
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, e)
	return g.Wait()
}

func (a *App) startDiscovery(ctx context.Context, g *errgroup.Group, e *engine) {
	if !a.cfg.Discovery.Enabled {
		a.logger.InfoContext(ctx, "discovery disabled")
		return
	}
	g.Go(func() error { return e.discovery.Run(ctx) })
}

// startArchiver uploads closed positions and audit rows older than the
// retention window on every interval.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	g.Go(func() error {
		runOnce := func() {
			cutoff := time.Now().UTC().Add(-retention)
			positions, err := deps.Archiver.ArchivePositions(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "archive: positions failed", slog.String("error", err.Error()))
			}
			audit, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "archive: audit failed", slog.String("error", err.Error()))
			}
			a.logger.InfoContext(ctx, "archive: run complete",
				slog.Time("cutoff", cutoff),
				slog.Int64("positions", positions),
				slog.Int64("audit_entries", audit),
			)
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startHTTPServer adds the API server and WebSocket hub to g. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *engine) {
	if !a.cfg.Server.Enabled {
		return
	}
	status := handler.NewStatusHandler(a.cfg.Mode, a.cfg.Chain.Network, time.Now().UTC(), e.policy, e.book)
	hub := ws.NewHub(deps.SignalBus, func() any { return status.Current() }, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	checks := make(map[string]handler.Pinger, len(deps.Checks)+1)
	for k, v := range deps.Checks {
		checks[k] = v
	}
	checks["chain"] = handler.PingFunc(e.chain.Ping)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		AdminKey:    a.cfg.Server.AdminKey,
		Operator:    a.cfg.Policy.Operator,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(checks),
		Status:     status,
		Candidates: handler.NewCandidateHandler(e.snipes, e.discovery, a.logger),
		Positions:  handler.NewPositionHandler(e.book, deps.PositionStore, e.snipes, e.exits, a.logger),
		Accounts:   handler.NewAccountHandler(e.ledger, e.pnl, a.logger),
		Policy:     handler.NewPolicyHandler(e.policy, a.logger),
		Exits:      handler.NewExitHandler(deps.SignalBus, a.logger),
		Metrics:    deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
