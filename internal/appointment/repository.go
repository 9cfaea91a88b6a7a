package appointment

import (
	"context"
	"errors"
)

var (
	ErrAppointmentExists = errors.New("appointment id already exists")
	ErrSlotTaken         = errors.New("doctor already has a booking within the minimum gap")
)

// Repository is the appointment system of record.
type Repository interface {
	// Create inserts appt atomically. It fails with ErrAppointmentExists when
	// the id is taken and with ErrSlotTaken when a committed booking of the
	// same doctor clashes with appt under policy. No row is written on error.
	Create(ctx context.Context, appt *Appointment, policy ConflictPolicy) error

	// ListByDoctor returns every committed booking of the doctor, including
	// all bookings this process has created before the call.
	ListByDoctor(ctx context.Context, doctorID string) ([]Appointment, error)
}

// AvailabilityStore exposes the windows a doctor opened on a date. An empty
// result means no availability; an error means the store could not answer.
type AvailabilityStore interface {
	Windows(ctx context.Context, doctorID, date string) ([]Window, error)
}

// EventRecorder appends to the audit trail. Failures never affect admission.
type EventRecorder interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Notifier delivers the best-effort "new appointment" message.
type Notifier interface {
	Notify(ctx context.Context, appt Appointment) error
}
