package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/config"
	"github.com/hackgods/appointment-admission/internal/logging"
	"github.com/hackgods/appointment-admission/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel, "notify-worker")
	if cfg.SenderEmail == "" {
		log.Fatal().Msg("SENDER_EMAIL is required")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("smtp_host", cfg.SMTPHost).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("notify-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		},
		asynq.Config{
			Concurrency:     cfg.WorkerConcurrency,
			Queues:          map[string]int{"default": 1},
			Logger:          logging.NewAsynqLogger(log),
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
	)

	mux := asynq.NewServeMux()
	notify.NewHandler(notify.NewSMTPMailer(cfg), log).Register(mux)

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("failed to start notify worker")
	}

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping notify worker")
	srv.Shutdown()
}
