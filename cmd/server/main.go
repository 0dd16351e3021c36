package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/config"
	"github.com/tubequota/admin/internal/handlers"
	"github.com/tubequota/admin/internal/logger"
	"github.com/tubequota/admin/internal/metrics"
	"github.com/tubequota/admin/internal/ratelimit"
	"github.com/tubequota/admin/internal/services"
	"github.com/tubequota/admin/internal/storage"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	admins, err := cfg.Admins()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ADMIN_ACCOUNTS")
	}
	if len(admins) == 0 {
		log.Warn().Msg("no admin accounts configured, login is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoStore, err := storage.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoForceTLS)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("mongo connection failed")
	}
	if err := storage.EnsureIndexes(ctx, mongoStore.DB()); err != nil {
		log.Warn().Err(err).Msg("ensure indexes")
	}
	cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	limiter, limiterClose := buildLimiter(cfg, log)

	clock := services.SystemClock()
	userStore := storage.NewUserStore(mongoStore.DB(), cfg.DefaultDailyLimit)
	usageStore := storage.NewUsageStore(mongoStore.DB())
	auditStore := storage.NewAuditStore(mongoStore.DB())

	auditService := services.NewAuditService(auditStore, clock, log)
	quotaService := services.NewQuotaService(userStore, usageStore, auditService, clock, log)
	userService := services.NewUserAdminService(userStore, usageStore, auditService, clock, cfg.ActivateDailyLimit, log)
	statsService := services.NewStatsService(userStore, usageStore, clock, cfg.OnlineThreshold)
	authService := services.NewAdminAuthService(admins, cfg.JWTSecret, cfg.JWTExpiration, limiter, clock)

	validate := validator.New()
	router := handlers.NewRouter(handlers.RouterConfig{
		Users:       handlers.NewUsersHandler(userService, quotaService, validate, cfg.RequestTimeout, log),
		Stats:       handlers.NewStatsHandler(statsService, cfg.RequestTimeout, log),
		Logs:        handlers.NewLogsHandler(auditService, cfg.RequestTimeout, log),
		Auth:        handlers.NewAuthHandler(authService, validate, cfg.RequestTimeout, log),
		Usage:       handlers.NewUsageHandler(quotaService, cfg.RequestTimeout, log),
		JWTSecret:   cfg.JWTSecret,
		IsAdmin:     authService.IsAdmin,
		InternalKey: cfg.InternalAPIKey,
		CORSOrigins: cfg.CORSOrigins,
		Ready:       mongoStore.Ping,
		Metrics:     metrics.Handler(registry),
		Log:         log,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddress).Str("db", cfg.MongoDB).Msg("quota admin server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForShutdown(server, log, func(ctx context.Context) {
		if err := limiterClose(); err != nil {
			log.Warn().Err(err).Msg("close rate limiter")
		}
		if err := mongoStore.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("close mongo")
		}
	})
}

// buildLimiter prefers Redis so login attempts are counted across replicas,
// and falls back to process memory when Redis is absent or unreachable.
func buildLimiter(cfg *config.Config, log zerolog.Logger) (services.Limiter, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.LoginRateLimit, cfg.LoginRateWindow), noop
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn().Err(err).Msg("redis rate limiter unavailable, falling back to memory")
		return ratelimit.NewMemory(cfg.LoginRateLimit, cfg.LoginRateWindow), noop
	}
	return ratelimit.NewRedis(client, cfg.LoginRateLimit, cfg.LoginRateWindow, ""), client.Close
}

func waitForShutdown(server *http.Server, log zerolog.Logger, cleanup func(context.Context)) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	cleanup(ctx)
	log.Info().Msg("shutdown complete")
}
