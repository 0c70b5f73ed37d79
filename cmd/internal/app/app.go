// Package app wires the Parley server runtime: config, logging, the TCP chat
// listener, the WebSocket gateway, and the admin HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
	"parley/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the Parley server runtime. It owns the credential store, the
// session registry, both transports, and the metrics registry.
type App struct {
	cfg Config
	log Logger

	users     identity.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *chat.Registry
	server   *chat.Server
	ws       *chat.WSGateway

	prom *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, hasher); err != nil {
		return nil, err
	}

	users, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log, hasher)
	if err != nil {
		return nil, err
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(prom)

	registry := chat.NewRegistry(log, metrics)

	server := chat.NewServer(chat.ServerParams{
		Log:             log,
		Registry:        registry,
		Users:           users,
		Metrics:         metrics,
		Addr:            cfg.ChatAddr,
		SendQueueSize:   cfg.SendQueueSize,
		ReadIdleTimeout: cfg.ReadIdleTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	})

	ws := chat.NewWSGateway(chat.WSGatewayParams{
		Log:            log,
		Server:         server,
		OriginRequired: cfg.WSOriginRequired,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		users:     users,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		registry:  registry,
		server:    server,
		ws:        ws,
		prom:      prom,
	}, nil
}

// Run starts both listeners and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.registry.Run(runCtx)

	if err := a.server.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.server.Serve(runCtx); err != nil {
			errCh <- err
		}
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.prom)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		IdleTimeout:       a.cfg.HTTPIdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("server.start",
		"chat_addr", a.cfg.ChatAddr,
		"http_addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}

	a.server.Shutdown()

	if err := a.users.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return runErr
}

// newStore decides between Postgres-backed credentials and the file store.
// Ownership model: the app owns the pool lifecycle; PostgresStore.Close is
// a no-op.
func newStore(ctx context.Context, cfg Config, log Logger, hasher password.Config) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.file_store", "path", cfg.UsersFile)
		st, err := identity.OpenFileStore(log, cfg.UsersFile, hasher)
		if err != nil {
			return nil, nil, false, err
		}
		return st, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")

	st, err := identity.NewPostgresStore(pool, hasher)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	return st, pool, true, nil
}
