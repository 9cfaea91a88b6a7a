package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/config"
	"github.com/hackgods/appointment-admission/internal/db"
	"github.com/hackgods/appointment-admission/internal/logging"
)

func main() {
	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolConfig{DSN: cfg.PostgresDSN, ApplicationName: "migrate", MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool, db.Migrations())

	if *status {
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migration status")
		}
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied " + st.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%03d  %-32s %s\n", st.Version, st.Name, state)
		}
		return
	}

	n, err := migrator.Up(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("migrate up")
	}
	log.Info().Int("applied", n).Msg("migrations complete")
}
