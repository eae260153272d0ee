package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/routemigrate/internal/config"
	"github.com/JonMunkholm/routemigrate/internal/core"
	"github.com/JonMunkholm/routemigrate/internal/database"
	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/memstore"
	"github.com/JonMunkholm/routemigrate/internal/metrics"
	"github.com/JonMunkholm/routemigrate/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	loc, err := cfg.Export.Location()
	if err != nil {
		slog.Error("failed to load export time zone", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var (
		store  core.Store
		pinger web.Pinger
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	default:
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if cfg.Database.MigrateOnStart {
			if err := database.RunMigrations(cfg.Database.URL); err != nil {
				slog.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
		}
		store = database.New(pool)
		pinger = pool
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	limiter := core.NewFileLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	opts := core.Options{
		TempDir:  cfg.Export.TempDir,
		Location: loc,
		Limiter:  limiter,
	}
	if m != nil {
		opts.Recorder = m
		m.RegisterActiveFiles(limiter.ActiveCount)
	}
	service := core.NewService(store, opts)

	server := web.NewServer(service, pinger, cfg, m)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight parses and exports finish before closing connections.
		if active := service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for file operations to complete", "active", active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("file operations did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openPool connects to Postgres with the configured pool limits and
// verifies the connection.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
