// Package app wires the hfauth server runtime: config, logging, storage
// backends, the auth facade, HTTP routes, metrics, and the sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hfauth/cmd/identity"
	"hfauth/cmd/internal/auth/api"
	"hfauth/cmd/internal/auth/facade"
	"hfauth/cmd/internal/auth/session"
	"hfauth/cmd/internal/auth/token"
	"hfauth/cmd/internal/clock"
	"hfauth/cmd/internal/events"
	"hfauth/cmd/internal/storage/dbx"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App is the hfauth server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	svc     *facade.Service
	metrics *Metrics
	hub     *events.Hub
	ws      *events.Gateway
	auth    *api.Handler
}

// backends groups the three stores and the transaction boundary that spans
// them. Postgres and in-memory modes differ only here.
type backends struct {
	creds    identity.Store
	tokens   token.Store
	sessions session.Store
	tx       facade.Transactor
}

// New constructs a fully wired App. An empty DatabaseURL selects the
// in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sec, err := loadSecurity(cfg)
	if err != nil {
		return nil, err
	}
	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sessionCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
	}
	be, err := newBackends(pool, log)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	metrics := NewMetrics()
	hub := events.NewHub(log, metrics.WSClients())
	clk := clock.System{}

	svc, err := facade.New(facade.Deps{
		Credentials: be.creds,
		Tokens: token.NewManager(be.tokens, tokenCfg,
			token.WithClock(clk), token.WithDigester(sec.digester), token.WithLogger(log)),
		Sessions: session.NewManager(be.sessions, sessionCfg,
			session.WithClock(clk), session.WithDigester(sec.digester), session.WithLogger(log)),
		Hasher:  sec.hasher,
		Policy:  sec.policy,
		Tx:      be.tx,
		Events:  hub,
		Metrics: metrics,
		Log:     log,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	var opts []api.HandlerOption
	if pool != nil {
		opts = append(opts, api.WithAuditPool(pool))
	}

	log.Info("app.wired",
		"db_enabled", pool != nil,
		"password_hasher", sec.hasher.Name(),
		"token_hmac", sec.digester.Keyed(),
		"login_ttl", tokenCfg.LoginTTL.String(),
		"idle_timeout", sessionCfg.IdleTimeout.String(),
	)

	return &App{
		cfg:     cfg,
		log:     log,
		dbPool:  pool,
		svc:     svc,
		metrics: metrics,
		hub:     hub,
		ws:      events.NewGateway(log, hub, events.AuthenticatorFunc(svc.Authenticate), events.LoadGatewayConfigFromEnv()),
		auth:    api.NewHandler(log, svc, api.LoadConfigFromEnv(), opts...),
	}, nil
}

func newBackends(pool *pgxpool.Pool, log Logger) (backends, error) {
	if pool == nil {
		log.Info("db.disabled.inmemory_store")
		return backends{
			creds:    identity.NewMemoryStore(nil, nil),
			tokens:   token.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
			tx:       facade.NopTransactor{},
		}, nil
	}

	creds, err := identity.NewPostgresStore(pool)
	if err != nil {
		return backends{}, err
	}
	tokens, err := token.NewPostgresStore(pool)
	if err != nil {
		return backends{}, err
	}
	sessions, err := session.NewPostgresStore(pool)
	if err != nil {
		return backends{}, err
	}

	log.Info("db.enabled.postgres_store")
	return backends{
		creds:    creds,
		tokens:   tokens,
		sessions: sessions,
		tx:       dbx.NewTransactor(pool),
	}, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.metrics, a.ws, a.auth)
	return WithSecurityHeaders(WithRequestLogging(mux, a.log))
}

// Run serves HTTP and runs the sweeper until ctx is cancelled or either
// fails. It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(gctx, a.log, a.cfg.SweepInterval, a.svc.Sweep)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// Close releases the database pool. It is safe to call more than once.
func (a *App) Close() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
