package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a step of the admission state machine.
type Stage string

const (
	StageReceived            Stage = "received"
	StageAvailabilityChecked Stage = "availability_checked"
	StageConflictChecked     Stage = "conflict_checked"
	StageCommitted           Stage = "committed"
	StageRejected            Stage = "rejected"
)

// Appointment is a committed booking. It is never updated after Create.
type Appointment struct {
	ID        uuid.UUID
	DoctorID  string
	PatientID string
	Start     time.Time // wall clock, UTC location, no zone semantics
	CreatedAt time.Time
}

// Date returns the date key of the appointment start.
func (a Appointment) Date() string {
	return DateKey(a.Start)
}

// TimeOfDay returns the wall clock time of the appointment start.
func (a Appointment) TimeOfDay() TimeOfDay {
	return ClockOf(a.Start)
}

// Window is a half-open availability interval [Start, End) on one date.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// NewWindow parses a window from its HH:MM[:SS] bounds. The end bound may
// also be 24:00, the end of the day.
func NewWindow(start, end string) (Window, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseWindowEnd(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: s, End: e}
	if err := w.validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func parseWindowEnd(s string) (TimeOfDay, error) {
	if s == "24:00" || s == "24:00:00" {
		return endOfDay, nil
	}
	return ParseTimeOfDay(s)
}

func (w Window) Contains(t TimeOfDay) bool {
	return w.Start <= t && t < w.End
}

func (w Window) String() string {
	return w.Start.Short() + "-" + w.End.Short()
}

// ConflictPolicy is the separation rule between two bookings of one doctor.
type ConflictPolicy struct {
	MinGap time.Duration
	// AcrossMidnight compares bookings regardless of their date. When false
	// only bookings on the same date are compared.
	AcrossMidnight bool
}

// GuardScope is the partition inside which the store enforces the policy
// at write time: the date key, or "*" when every date is compared.
func (p ConflictPolicy) GuardScope(a Appointment) string {
	if p.AcrossMidnight {
		return "*"
	}
	return a.Date()
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// CreateRequest is an inbound booking proposal as received from a caller.
type CreateRequest struct {
	DoctorID       string
	PatientID      string
	Start          string // canonical YYYY-MM-DDTHH:MM[:SS]
	IdempotencyKey string
}

// DaySchedule lists the booked times of one doctor on one date.
type DaySchedule struct {
	Date  string
	Times []TimeOfDay
}
