package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"

	appointmentsPKey      = "appointments_pkey"
	appointmentsNoOverlap = "appointments_no_overlap"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Start,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Start = a.Start.UTC()
	return &a, nil
}

// Create inserts the appointment together with its guard range
// [start, start+MinGap). The appointments_no_overlap exclusion constraint
// rejects the row when another booking of the doctor in the same guard scope
// has an overlapping range, which is exactly when the starts are less than
// MinGap apart. Postgres arbitrates concurrent inserts, not the caller's
// earlier read.
func (r *PgRepository) Create(ctx context.Context, appt *Appointment, policy ConflictPolicy) error {
	start := appt.Start.UTC()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_at, guard_scope, guard, created_at)
		VALUES ($1, $2, $3, $4::timestamp, $5, tsrange($4::timestamp, $6::timestamp, '[)'), now())
		RETURNING created_at
	`, appt.ID, appt.DoctorID, appt.PatientID, start, policy.GuardScope(*appt), start.Add(policy.MinGap)).
		Scan(&appt.CreatedAt)
	return classifyInsertError(err)
}

// classifyInsertError maps the constraint behind a failed insert to the
// repository sentinels.
func classifyInsertError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == appointmentsPKey:
			return ErrAppointmentExists
		case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == appointmentsNoOverlap:
			return ErrSlotTaken
		}
	}
	return fmt.Errorf("insert appointment: %w", err)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_at, created_at
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_at, id
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query doctor appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate doctor appointments: %w", err)
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
