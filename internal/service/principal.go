// ABOUTME: Principal service wiring: registry, dispatch orchestrator, dispatch log, control plane
// ABOUTME: The control plane takes bearer tokens when a key file is configured, otherwise loopback only

package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/dispatch"
	"github.com/2389/nightlife/internal/httpserver"
	"github.com/2389/nightlife/internal/metrics"
	"github.com/2389/nightlife/internal/principalapi"
	"github.com/2389/nightlife/internal/registry"
	"github.com/2389/nightlife/internal/respond"
	"github.com/2389/nightlife/internal/store"
)

// Principal is a running principal service.
type Principal struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *metrics.Metrics
	registry     *registry.Registry
	store        store.DispatchStore
	orchestrator *dispatch.Orchestrator
	auth         *verification // nil when loopback only
	server       *httpserver.Server
}

// NewPrincipal wires the principal from cfg. Nothing listens until Listen or Run.
func NewPrincipal(cfg *config.Config, logger *slog.Logger) (*Principal, error) {
	m := metrics.New()

	dispatchLog, err := openDispatchLog(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	engine := respond.New(respond.Options{
		Root:        cfg.Topics.Dir,
		Timeout:     cfg.Topics.HandlerTimeout,
		OutputLimit: cfg.Topics.OutputLimit,
	}, logger)
	engine.SetObserver(m)

	agents := registry.New(logger)

	orchestrator := dispatch.New(dispatch.Options{
		EventsDir:      cfg.Events.Dir,
		TriggerTimeout: cfg.Events.Timeout,
		PayloadLimit:   cfg.Events.PayloadLimit,
		Token: auth.TokenSpec{
			Issuer:    cfg.Auth.BroadcastIssuer,
			Audience:  cfg.Auth.BroadcastAudience,
			Tolerance: cfg.Auth.Tolerance,
		},
		Concurrency:    cfg.Dispatch.Concurrency,
		RequestTimeout: cfg.Dispatch.RequestTimeout,
	}, engine, agents, logger)
	orchestrator.SetRecorder(dispatchLog)
	orchestrator.SetObserver(m)

	p := &Principal{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		registry:     agents,
		store:        dispatchLog,
		orchestrator: orchestrator,
	}

	protect := auth.LoopbackOnlyMiddleware(logger.With("component", "auth"))
	if cfg.Auth.PublicKeyFile != "" {
		v, err := newVerification(cfg.Auth, m, logger)
		if err != nil {
			_ = dispatchLog.Close()
			return nil, fmt.Errorf("setting up token verification: %w", err)
		}
		p.auth = v
		protect = v.middleware
	}

	api := principalapi.New(agents, orchestrator, principalapi.Options{
		Protect:     protect,
		Log:         dispatchLog,
		Metrics:     metricsHandler(cfg, m),
		MetricsPath: cfg.Metrics.Path,
	}, logger)

	p.server = httpserver.New(cfg.Server.HTTPAddr, api.Router(), logger)
	if p.auth != nil {
		p.server.OnShutdown("key watcher", p.auth.close)
	}
	p.server.OnShutdown("store close", dispatchLog.Close)
	return p, nil
}

// openDispatchLog opens the SQLite dispatch log, or an in-memory one when
// path is empty.
func openDispatchLog(path string, logger *slog.Logger) (store.DispatchStore, error) {
	if path == "" {
		logger.Info("database.path is empty; dispatch log is kept in memory")
		return store.NewMockStore(), nil
	}
	s, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening dispatch log: %w", err)
	}
	return s, nil
}

// Registry is the live agent registry.
func (p *Principal) Registry() *registry.Registry {
	return p.registry
}

// Listen starts the key watcher, if any, and binds the HTTP address.
func (p *Principal) Listen() error {
	if p.auth != nil {
		if err := p.auth.watcher.Start(); err != nil {
			p.closeAll()
			return err
		}
	} else {
		p.logger.Warn("auth.public_key_file is not set; control plane accepts loopback clients only")
	}

	if err := p.server.Listen(); err != nil {
		p.closeAll()
		return err
	}
	return nil
}

func (p *Principal) closeAll() {
	if p.auth != nil {
		_ = p.auth.close()
	}
	_ = p.store.Close()
}

// Addr is the bound HTTP address, or nil before Listen.
func (p *Principal) Addr() net.Addr {
	return p.server.Addr()
}

// Run serves until ctx is canceled, then shuts down the HTTP server, the key
// watcher and the dispatch log in that order.
func (p *Principal) Run(ctx context.Context) error {
	if p.server.Addr() == nil {
		if err := p.Listen(); err != nil {
			return err
		}
	}
	defer withLockfile(config.RolePrincipal, p.server.Addr(), p.logger)()
	return p.server.Run(ctx)
}
