package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/abund-gatekeeper/internal/cache"
	"github.com/abund-gatekeeper/internal/config"
	"github.com/abund-gatekeeper/internal/metrics"
	"github.com/abund-gatekeeper/internal/middleware"
	"github.com/abund-gatekeeper/internal/privacy"
	"github.com/abund-gatekeeper/internal/server"
	"github.com/abund-gatekeeper/internal/worker"
	"github.com/abund-gatekeeper/migrations"
)

const cacheNamespace = "gatekeeper"

func newServeCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gatekeeper HTTP server",
		Long:  "Start the HTTP server. It stops on SIGINT or SIGTERM after draining requests and background tasks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrateFirst)
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply pending Postgres migrations before serving")

	return cmd
}

func runServe(ctx context.Context, migrateFirst bool) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	if migrateFirst && cfg.DatabaseURL != "" {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}

	s, closeStore, err := openStore(ctx, &cfg.Base)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	var quotaCache cache.Cache
	switch {
	case cfg.RedisURL != "":
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		quotaCache = cache.NewRedis(client, cacheNamespace, cfg.CacheMinTTL)
	case !cfg.IsProduction():
		quotaCache = cache.NewMemory(cfg.CacheMinTTL, nil)
	default:
		log.Warn().Msg("REDIS_URL is not set, quota enforcement is disabled")
	}

	hasher, err := privacy.NewHasher([]byte(cfg.AuditSaltSecret), nil)
	if err != nil {
		return fmt.Errorf("init ip hasher: %w", err)
	}

	var adminAuth *middleware.GoogleAuth
	if cfg.AdminEnabled() {
		adminAuth, err = middleware.NewGoogleAuth(cfg.GoogleClientID, cfg.GoogleAllowedDomain, cfg.GoogleAllowedEmails)
		if err != nil {
			return err
		}
	} else {
		log.Info().Msg("GOOGLE_CLIENT_ID is not set, admin API disabled")
	}

	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueue, cfg.TaskTimeout, m)

	srv := server.New(cfg, server.Deps{
		Store:     s,
		Cache:     quotaCache,
		Hasher:    hasher,
		Scheduler: pool,
		Metrics:   m,
		Admin:     adminAuth,
		Version:   appVersion,
	})
	serveErr := srv.ListenAndServe(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("background tasks did not drain")
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info().Msg("server stopped")
	return nil
}
