package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/UKPLab/CARE-broker/internal/auth"
	"github.com/UKPLab/CARE-broker/internal/broker"
	"github.com/UKPLab/CARE-broker/internal/config"
	"github.com/UKPLab/CARE-broker/internal/httpapi"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/observability"
	"github.com/UKPLab/CARE-broker/internal/reliability"
	"github.com/UKPLab/CARE-broker/internal/roles"
	"github.com/UKPLab/CARE-broker/internal/session"
	"github.com/UKPLab/CARE-broker/internal/skills"
	"github.com/UKPLab/CARE-broker/internal/tasks"
	"github.com/UKPLab/CARE-broker/internal/users"
)

const (
	connectAttempts = 5
	connectBase     = 200 * time.Millisecond
	connectCap      = 5 * time.Second
)

type App struct {
	Config   config.Config
	Logger   *zap.Logger
	API      *httpapi.Server
	Broker   *broker.Broker
	Hub      *hub.Hub
	Sessions *session.Manager
	Skills   *skills.Registry
	Tasks    *tasks.Manager
	Users    users.Store
	Metrics  *observability.Metrics

	pool *pgxpool.Pool
	rdb  *redis.Client
}

// Build connects the configured store and wires every component. Close must
// be called to release the store connections.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.connectStore(ctx); err != nil {
		return nil, err
	}

	taskStore, err := tasks.NewStore(ctx, a.pool, a.rdb, cfg.Store.RedisPrefix)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("task store init failed: %w", err)
	}
	userStore, err := users.NewStore(ctx, a.pool, a.rdb, cfg.Store.RedisPrefix)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("user store init failed: %w", err)
	}
	a.Users = userStore

	a.Metrics = observability.NewMetrics(cfg.MetricsNamespace)
	a.Hub = hub.New()
	a.Hub.SetDropHook(a.Metrics.ObserveDrop)
	emitter := a.Metrics.WrapEmitter(a.Hub)

	a.Sessions = session.NewManager(session.Options{
		Roles:         roles.NewTable(cfg.Quota),
		Rooms:         a.Hub,
		Store:         userStore,
		QuotaInterval: cfg.QuotaInterval,
		Logger:        logger,
	})
	a.Skills = skills.NewRegistry(skills.Options{
		Emitter: emitter,
		Logger:  logger,
	})
	a.Tasks = tasks.NewManager(tasks.Options{
		Store:    taskStore,
		Emitter:  emitter,
		Quotas:   a.Sessions,
		Router:   a.Skills,
		Logger:   logger,
		Observer: a.Metrics,
		Killer: tasks.KillerConfig{
			Enabled:     cfg.TaskKiller.Enabled,
			Interval:    cfg.TaskKiller.Interval,
			MaxDuration: cfg.TaskKiller.MaxDuration,
		},
		ScrubMaxAge: scrubMaxAge(cfg.Scrub),
	})
	a.Broker = broker.New(broker.Options{
		Sessions: a.Sessions,
		Skills:   a.Skills,
		Tasks:    a.Tasks,
		Auth: auth.NewHandler(auth.Options{
			Sessions: a.Sessions,
			Users:    userStore,
			Skills:   a.Skills,
			Emitter:  emitter,
			Secret:   cfg.Secret,
			Logger:   logger,
		}),
		Emitter: emitter,
		Logger:  logger,
	})
	a.API = httpapi.New(cfg, httpapi.Deps{
		Broker:   a.Broker,
		Hub:      a.Hub,
		Sessions: a.Sessions,
		Skills:   a.Skills,
		Tasks:    a.Tasks,
		Metrics:  a.Metrics,
		Ready:    a.Ready,
		Logger:   logger,
	})
	return a, nil
}

func scrubMaxAge(cfg config.ScrubConfig) time.Duration {
	if !cfg.Enabled {
		return 0
	}
	return cfg.MaxAge
}

func (a *App) connectStore(ctx context.Context) error {
	sc := a.Config.Store
	switch sc.Driver {
	case "postgres":
		err := reliability.Retry(ctx, connectAttempts, connectBase, connectCap, func(ctx context.Context) error {
			pool, err := pgxpool.New(ctx, sc.DatabaseURL)
			if err != nil {
				return err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				a.Logger.Warn("postgres not reachable yet", zap.Error(err))
				return err
			}
			a.pool = pool
			return nil
		})
		if err != nil {
			return fmt.Errorf("postgres connect failed: %w", err)
		}
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		err := reliability.Retry(ctx, connectAttempts, connectBase, connectCap, func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				a.Logger.Warn("redis not reachable yet", zap.Error(err))
				return err
			}
			return nil
		})
		if err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis connect failed: %w", err)
		}
		a.rdb = rdb
	}
	return nil
}

// Ready pings the user and task stores.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Users.Ping(ctx); err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	if _, err := a.Tasks.Stats(ctx); err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	return nil
}

// Prepare seeds the system user and, when clean_on_start is set, clears
// state a previous process left behind.
func (a *App) Prepare(ctx context.Context) error {
	if a.Config.SystemKey != "" {
		if _, err := a.Users.EnsureSystemUser(ctx, a.Config.SystemKey); err != nil {
			return fmt.Errorf("seed system user: %w", err)
		}
		a.Logger.Info("system user ready")
	}
	if !a.Config.CleanOnStart {
		return nil
	}
	clients, err := a.Users.DisconnectAllClients(ctx)
	if err != nil {
		return fmt.Errorf("reset clients: %w", err)
	}
	aborted, err := a.Tasks.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	a.Logger.Info("previous state cleaned",
		zap.Int("clients_disconnected", clients),
		zap.Int("tasks_aborted", aborted),
	)
	return nil
}

// ReloadQuota re-reads the config file and applies changed role limits to
// connected sessions. Other settings need a restart.
func (a *App) ReloadQuota(path string) ([]string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	changed := a.Sessions.ApplyRoles(cfg.Quota)
	a.Config.Quota = cfg.Quota
	a.Logger.Info("quota reloaded", zap.Strings("changed_roles", changed))
	return changed, nil
}

// Run serves until ctx ends, then shuts the HTTP server down gracefully.
func (a *App) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.Config.BindAddr,
		Handler:           a.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("server listening", zap.String("addr", a.Config.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})
	g.Go(func() error { return a.API.RunJanitor(gctx) })
	if a.Config.Scrub.Enabled {
		g.Go(func() error { return a.Tasks.RunScrubber(gctx, a.Config.Scrub.Interval) })
	}
	if a.Config.TaskKiller.Enabled {
		g.Go(func() error { return a.Tasks.RunKiller(gctx) })
	}
	return g.Wait()
}

// Close flushes pending task writes and releases the store connections.
func (a *App) Close() error {
	if a.Tasks != nil {
		a.Tasks.Close()
	}
	return a.closeStore()
}

func (a *App) closeStore() error {
	var errs []error
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
		a.rdb = nil
	}
	return errors.Join(errs...)
}
