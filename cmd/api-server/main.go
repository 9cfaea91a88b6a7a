package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/api"
	"github.com/hackgods/appointment-admission/internal/appointment"
	"github.com/hackgods/appointment-admission/internal/config"
	"github.com/hackgods/appointment-admission/internal/db"
	"github.com/hackgods/appointment-admission/internal/logging"
	"github.com/hackgods/appointment-admission/internal/notify"
	redisclient "github.com/hackgods/appointment-admission/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Dur("min_gap", cfg.MinGap).
		Bool("across_midnight", cfg.ConflictAcrossMidnight).
		Str("availability_source", cfg.AvailabilitySource).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, db.PoolConfig{DSN: cfg.PostgresDSN, ApplicationName: "api-server"})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.CallTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)

	var availability appointment.AvailabilityStore
	switch cfg.AvailabilitySource {
	case config.AvailabilityFromHTTP:
		availability = appointment.NewHTTPAvailabilityStore(cfg.AvailabilityServiceURL, &http.Client{})
	default:
		availability = appointment.NewPgAvailabilityStore(pgPool)
	}

	deps := appointment.Dependencies{
		Repo:         repo,
		Availability: availability,
		Events:       repo,
		Idempotency:  redisclient.NewRedisIdempotencyStore(rdb, cfg.IdempotencyClaimTTL, cfg.IdempotencyTTL),
		Logger:       log.With().Str("subsystem", "admission").Logger(),
	}

	if cfg.NotifyEnabled {
		queue := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		defer queue.Close()
		deps.Notifier = notify.NewQueueNotifier(queue, log)
		log.Info().Msg("appointment notifications enabled")
	}

	svc := appointment.NewService(deps, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		Postgres:   pgPool,
		Redis:      api.RedisPinger{Client: rdb},
		Logger:     log,
		Env:        cfg.Env,
		Version:    version,
		RetryAfter: cfg.CallTimeout,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Requests do not inherit rootCtx, so in-flight admissions run to completion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("api-server stopped")
}
