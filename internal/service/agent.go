// ABOUTME: Agent service wiring: handler engine, key watcher, token verification, HTTP API
// ABOUTME: Run serves until the context ends and leaves a lockfile with its URL while up

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/2389/nightlife/internal/agentapi"
	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/httpserver"
	"github.com/2389/nightlife/internal/metrics"
	"github.com/2389/nightlife/internal/respond"
)

// Agent is a running agent service.
type Agent struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	engine  *respond.Engine
	auth    *verification
	server  *httpserver.Server
}

// NewAgent wires the agent from cfg. Nothing listens until Listen or Run.
func NewAgent(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	m := metrics.New()

	engine := respond.New(respond.Options{
		Root:        cfg.Topics.Dir,
		Timeout:     cfg.Topics.HandlerTimeout,
		OutputLimit: cfg.Topics.OutputLimit,
	}, logger)
	engine.SetObserver(m)

	if cfg.Auth.PublicKeyFile == "" {
		return nil, errors.New("agent requires auth.public_key_file")
	}
	v, err := newVerification(cfg.Auth, m, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up token verification: %w", err)
	}

	api := agentapi.New(engine, agentapi.Options{
		Authenticate: v.middleware,
		Metrics:      metricsHandler(cfg, m),
		MetricsPath:  cfg.Metrics.Path,
		MaxPayload:   cfg.Events.PayloadLimit,
	}, logger)

	a := &Agent{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		engine:  engine,
		auth:    v,
		server:  httpserver.New(cfg.Server.HTTPAddr, api.Router(), logger),
	}
	a.server.OnShutdown("key watcher", v.close)
	return a, nil
}

// Listen starts watching the key file and binds the HTTP address.
func (a *Agent) Listen() error {
	if _, err := os.Stat(a.cfg.Topics.Dir); err != nil {
		a.logger.Warn("topics directory is not readable; /topics will fail until it exists",
			"dir", a.cfg.Topics.Dir, "error", err)
	}

	if err := a.auth.watcher.Start(); err != nil {
		_ = a.auth.close()
		return err
	}
	if a.auth.keys.Current() == nil {
		a.logger.Warn("no usable verification key yet; every topic request will be rejected",
			"path", a.auth.watcher.Path())
	}

	if err := a.server.Listen(); err != nil {
		_ = a.auth.close()
		return err
	}
	return nil
}

// Addr is the bound HTTP address, or nil before Listen.
func (a *Agent) Addr() net.Addr {
	return a.server.Addr()
}

// Run serves until ctx is canceled, then shuts down the HTTP server and the
// key watcher in that order.
func (a *Agent) Run(ctx context.Context) error {
	if a.server.Addr() == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}
	defer withLockfile(config.RoleAgent, a.server.Addr(), a.logger)()
	return a.server.Run(ctx)
}

func metricsHandler(cfg *config.Config, m *metrics.Metrics) http.Handler {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return m.Handler()
}
