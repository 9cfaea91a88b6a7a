package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgAvailabilityStore reads windows from the availability_windows table that
// the doctor-facing availability flow maintains.
type PgAvailabilityStore struct {
	pool *pgxpool.Pool
}

func NewPgAvailabilityStore(pool *pgxpool.Pool) *PgAvailabilityStore {
	return &PgAvailabilityStore{pool: pool}
}

func (s *PgAvailabilityStore) Windows(ctx context.Context, doctorID, date string) ([]Window, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse availability date: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM availability_windows
		WHERE doctor_id = $1 AND day = $2
	`, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("query availability windows: %w", err)
	}
	defer rows.Close()

	var result []Window
	for rows.Next() {
		var start, end pgtype.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("scan availability window: %w", err)
		}

		w := Window{Start: timeOfDayFromPg(start), End: timeOfDayFromPg(end)}
		if err := w.validate(); err != nil {
			return nil, fmt.Errorf("doctor %s date %s: %w", doctorID, date, err)
		}
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability windows: %w", err)
	}

	return result, nil
}

func timeOfDayFromPg(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}
