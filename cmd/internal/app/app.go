// Package app wires the parley server runtime: config, logging, storage,
// the notification broker, HTTP routes and the subscription gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"parley/cmd/internal/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/broker"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/invite"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// inviteCleanup is how often expired invites are swept from the cache store.
const inviteCleanup = 5 * time.Minute

// App is the parley server runtime. It owns the store, the broker and the HTTP server.
type App struct {
	cfg Config
	log Logger

	store  chat.Store
	dbPool *pgxpool.Pool

	broker   *broker.Broker
	chat     *chat.Service
	sessions *session.Service
	registry *prometheus.Registry

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.openStore(context.Background()); err != nil {
		return nil, err
	}
	if err := a.wire(); err != nil {
		return nil, multierr.Append(err, a.closeStore())
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case StorePebble:
		st, err := chat.OpenPebbleStore(a.cfg.PebbleDir)
		if err != nil {
			return fmt.Errorf("open pebble store: %w", err)
		}
		a.store = st
		a.log.Info("store.enabled", "store", StorePebble, "dir", a.cfg.PebbleDir)

	case StorePostgres:
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		// The pool belongs to the app; PostgresStore.Close leaves it open.
		st, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.store, a.dbPool = st, pool
		a.log.Info("store.enabled", "store", StorePostgres, "schema", a.cfg.DBSchema)

	default:
		a.store = chat.NewMemoryStore()
		a.log.Info("store.enabled", "store", StoreMemory)
	}
	return nil
}

func (a *App) wire() error {
	overflow, err := broker.ParseOverflow(a.cfg.BrokerOverflow)
	if err != nil {
		return err
	}
	a.broker = broker.New(
		broker.WithBufferSize(a.cfg.BrokerBuffer),
		broker.WithOverflow(overflow),
		broker.WithLogger(a.log),
		broker.WithMetrics(broker.NewMetrics(a.registry)),
	)

	hasher, err := token.HasherFromEnv()
	if err != nil {
		return err
	}
	invites, err := invite.NewService(invite.NewCacheStore(inviteCleanup), invite.WithHasher(hasher))
	if err != nil {
		return err
	}

	a.chat, err = chat.NewService(a.store, a.broker,
		chat.WithLogger(a.log),
		chat.WithInvites(invites),
		chat.WithPresenceTTL(a.cfg.PresenceTTL, a.cfg.TypingTTL),
	)
	if err != nil {
		return err
	}

	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		return err
	}
	a.sessions, err = session.NewService(tokens, a.chat)
	if err != nil {
		return err
	}

	gw, err := realtime.NewGateway(a.chat,
		realtime.WithAuthenticator(a.sessions),
		realtime.WithConfig(realtime.ConfigFromEnv()),
		realtime.WithLogger(a.log),
		realtime.WithMetrics(realtime.NewMetrics(a.registry)),
	)
	if err != nil {
		return err
	}

	rest, err := api.NewHandler(a.chat, a.sessions,
		api.WithConfig(api.LoadConfigFromEnv()),
		api.WithLogger(a.log),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.registry, a.chat, gw, rest)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions exposes the session service for tooling that mints tokens.
func (a *App) Sessions() *session.Service { return a.sessions }

// Chat exposes the domain service.
func (a *App) Chat() *chat.Service { return a.chat }

// Run listens on cfg.HTTPAddr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err), a.Close())
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled or the listener fails, then
// shuts down and releases the app's resources.
//
// Open subscriptions are hijacked connections that Shutdown does not wait
// for, so the broker is closed first: every stream completes with
// broker.ReasonShutdown before the listener stops.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"store", a.cfg.Store,
		"api", base+"/v1",
		"subscriptions", wsBaseURL(base)+"/subscriptions",
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		a.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	err = multierr.Append(err, a.Close())
	a.log.Info("server.stopped")
	return err
}

// Close releases the broker and storage. Safe to call more than once.
func (a *App) Close() error {
	if a.broker != nil {
		a.broker.Close()
	}
	return a.closeStore()
}

func (a *App) closeStore() error {
	var err error
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
		a.store = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
	if err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	return err
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
