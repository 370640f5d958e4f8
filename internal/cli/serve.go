package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ckdtjq0011/saas-survey/internal/api"
	"github.com/ckdtjq0011/saas-survey/internal/config"
	"github.com/ckdtjq0011/saas-survey/internal/db"
	"github.com/ckdtjq0011/saas-survey/internal/lock"
	"github.com/ckdtjq0011/saas-survey/internal/metrics"
	"github.com/ckdtjq0011/saas-survey/internal/middleware"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

// NewServeCmd builds the CLI subcommand that starts the HTTP server.
func NewServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the survey server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath)
		},
	}
}

// app is the wired server plus the cleanup it owns.
type app struct {
	handler http.Handler
	closers []func() error
	log     *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("shutdown step failed", "err", err)
		}
	}
}

func runServer(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("survey server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildApp chooses the storage and lock collaborators from cfg and wires the
// router with its middleware chain.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{log: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, storeKind, err := openStore(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}
	locker, lockKind, err := openLocker(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}

	authn := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	if authn.UsesDevSecret() {
		logger.Warn("auth.jwt_secret not set, using development secret")
	}

	deps := api.Deps{
		Store:             store,
		Locker:            locker,
		Signer:            authn.SignToken,
		TokenTTL:          config.TTLDuration(cfg.Auth.TokenTTL, 30*24*time.Hour),
		StrictDescription: cfg.Survey.StrictDescription,
		TrustProxy:        cfg.Server.TrustProxy,
		Logger:            logger,
		StoreKind:         storeKind,
		LockKind:          lockKind,
	}

	mux := http.NewServeMux()
	var inner http.Handler = mux
	if cfg.MetricsEnabled() {
		m := metrics.New()
		deps.Observer = m
		deps.OnStatistics = m.StatisticsServed
		mux.Handle("GET /metrics", m.Handler())
		inner = middleware.Metrics(m)(mux)
	}
	api.NewRouter(deps).Register(mux)

	a.handler = middleware.SecureHeaders(
		middleware.CORS(cfg.Server.CORSOrigins)(
			middleware.NoStore(
				authn.WithAuth(inner))))
	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) (api.Store, string, error) {
	if path := cfg.Database.SQLitePath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("create sqlite dir: %w", err)
		}
		sqlDB, err := db.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		applied, err := db.RunMigrations(ctx, sqlDB, cfg.Database.MigrationsDir)
		if err != nil {
			return nil, "", fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "names", applied)
		}
		store, err := db.NewStore(sqlDB)
		if err != nil {
			return nil, "", fmt.Errorf("init sqlite store: %w", err)
		}
		return store, "sqlite", nil
	}

	snapshot := cfg.Database.SnapshotPath
	if snapshot == "" {
		logger.Warn("no sqlite path or snapshot configured, data is kept in memory only")
		return api.NewMemoryStore(), "memory", nil
	}
	store, err := api.NewMemoryStoreFromPath(snapshot)
	switch {
	case err == nil:
		logger.Info("memory store loaded from snapshot", "path", snapshot)
	case errors.Is(err, os.ErrNotExist):
		store = api.NewMemoryStore()
	default:
		return nil, "", fmt.Errorf("load snapshot: %w", err)
	}
	a.closers = append(a.closers, func() error {
		if err := api.SaveSnapshot(store, snapshot); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		logger.Info("memory store snapshot saved", "path", snapshot)
		return nil
	})
	return store, "memory", nil
}

func openLocker(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) (services.SubmissionLocker, string, error) {
	if cfg.Redis.Addr == "" {
		return lock.NewKeyedMutex(), "memory", nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, "", fmt.Errorf("redis ping: %w", err)
	}
	locker := lock.NewRedisLocker(client, config.TTLDuration(cfg.Redis.LockTTL, 10*time.Second))
	locker.OnReleaseError(func(err error) {
		logger.Warn("submission lock release failed", "err", err)
	})
	return locker, "redis", nil
}
