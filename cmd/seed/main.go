package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/appointment"
	"github.com/hackgods/appointment-admission/internal/config"
	"github.com/hackgods/appointment-admission/internal/db"
	"github.com/hackgods/appointment-admission/internal/logging"
)

// shifts doctors pick their availability from.
var shifts = [][2]string{
	{"08:00", "12:00"},
	{"09:00", "13:00"},
	{"13:00", "17:00"},
	{"14:00", "18:00"},
	{"18:00", "22:00"},
}

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors to create")
	days := flag.Int("days", 14, "days of availability from today")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel, "seed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolConfig{DSN: cfg.PostgresDSN, ApplicationName: "seed"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(0)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	for i := 0; i < *doctors; i++ {
		doctorID := fmt.Sprintf("%s.%s@clinic.example", faker.FirstName(), faker.LastName())
		n, err := seedDoctor(ctx, pool, faker, doctorID, today, *days)
		if err != nil {
			log.Fatal().Err(err).Str("doctor_id", doctorID).Msg("seed doctor")
		}
		log.Info().Str("doctor_id", doctorID).Int("windows", n).Msg("doctor seeded")
	}

	log.Info().Int("doctors", *doctors).Int("days", *days).Msg("seed complete")
}

// seedDoctor opens one or two shifts on most days and leaves the rest empty.
func seedDoctor(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, doctorID string, from time.Time, days int) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	count := 0
	for d := 0; d < days; d++ {
		if faker.Number(0, 9) < 2 {
			continue
		}
		day := from.AddDate(0, 0, d)

		picked := map[int]bool{}
		for n := faker.Number(1, 2); len(picked) < n; {
			picked[faker.Number(0, len(shifts)-1)] = true
		}

		for idx := range picked {
			w, err := appointment.NewWindow(shifts[idx][0], shifts[idx][1])
			if err != nil {
				return count, err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO availability_windows (doctor_id, day, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`, doctorID, day, pgTime(w.Start), pgTime(w.End))
			if err != nil {
				return count, fmt.Errorf("insert window: %w", err)
			}
			count++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return count, err
	}
	return count, nil
}

func pgTime(t appointment.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: time.Duration(t).Microseconds(), Valid: true}
}
