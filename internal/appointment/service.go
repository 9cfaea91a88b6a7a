package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/config"
	redisclient "github.com/hackgods/appointment-admission/internal/redis"
)

const (
	EventAppointmentCommitted = "APPOINTMENT_COMMITTED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"

	maxIdempotencyKeyLen = 255
	readBackoff          = 50 * time.Millisecond
)

var now = time.Now

// idempotencyNamespace scopes the UUIDv5 ids derived from idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1c9f52-93a4-4c1e-8d6b-2b8f0c7f4e1a")

// Dependencies are the collaborators of the admission controller. Repo and
// Availability are required; the rest are optional.
type Dependencies struct {
	Repo         Repository
	Availability AvailabilityStore
	Events       EventRecorder
	Notifier     Notifier
	Idempotency  redisclient.IdempotencyStore
	Logger       zerolog.Logger
}

type Service struct {
	repo         Repository
	availability AvailabilityStore
	events       EventRecorder
	notifier     Notifier
	idem         redisclient.IdempotencyStore
	policy       ConflictPolicy
	callTimeout  time.Duration
	readRetries  int
	log          zerolog.Logger
	newID        func() uuid.UUID
}

func NewService(deps Dependencies, cfg config.Config) *Service {
	return &Service{
		repo:         deps.Repo,
		availability: deps.Availability,
		events:       deps.Events,
		notifier:     deps.Notifier,
		idem:         deps.Idempotency,
		policy: ConflictPolicy{
			MinGap:         cfg.MinGap,
			AcrossMidnight: cfg.ConflictAcrossMidnight,
		},
		callTimeout: cfg.CallTimeout,
		readRetries: cfg.ReadRetries,
		log:         deps.Logger,
		newID:       uuid.New,
	}
}

// CreateAppointment runs one admission: availability, then conflicts, then
// the guarded write. It returns the committed appointment or an error that
// ReasonOf classifies.
//
// With an idempotency key the appointment id is derived from (doctor, key),
// so a retry after an ambiguous create cannot book twice: either the id
// precondition fails or the earlier commit is found and replayed.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	candidate, err := s.parseRequest(req)
	if err != nil {
		s.log.Info().
			Str("stage", string(StageRejected)).
			Str("reason", string(ReasonValidation)).
			Err(err).
			Msg("appointment rejected")
		return nil, err
	}

	if req.IdempotencyKey == "" {
		return s.admit(ctx, candidate, false)
	}
	if s.idem == nil {
		return s.admit(ctx, candidate, true)
	}
	return s.admitOnce(ctx, candidate, req.IdempotencyKey)
}

// DoctorAppointments groups the doctor's bookings by date, both ascending.
func (s *Service) DoctorAppointments(ctx context.Context, doctorID string) ([]DaySchedule, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}

	appts, err := s.listByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w: %w", ErrUpstreamUnavailable, err)
	}

	return groupByDate(appts), nil
}

func (s *Service) parseRequest(req CreateRequest) (*Appointment, error) {
	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key longer than %d bytes", ErrInvalidInput, maxIdempotencyKeyLen)
	}

	start, err := ParseInstant(req.Start)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	if req.IdempotencyKey != "" {
		id = idempotentID(doctorID, req.IdempotencyKey)
	}

	return &Appointment{
		ID:        id,
		DoctorID:  doctorID,
		PatientID: patientID,
		Start:     start,
	}, nil
}

// admit walks Received -> AvailabilityChecked -> ConflictChecked ->
// Committed, leaving for Rejected at the first failure.
func (s *Service) admit(ctx context.Context, c *Appointment, replayable bool) (*Appointment, error) {
	log := s.log.With().
		Str("appointment_id", c.ID.String()).
		Str("doctor_id", c.DoctorID).
		Str("start", FormatInstant(c.Start)).
		Logger()
	log.Debug().Str("stage", string(StageReceived)).Msg("admission received")

	if err := s.ValidateAvailability(ctx, c.DoctorID, c.Date(), c.TimeOfDay()); err != nil {
		return nil, s.reject(ctx, log, c, StageReceived, err)
	}
	log.Debug().Str("stage", string(StageAvailabilityChecked)).Msg("availability confirmed")

	existing, err := s.listByDoctor(ctx, c.DoctorID)
	if err != nil {
		err = fmt.Errorf("load doctor appointments: %w: %w", ErrUpstreamUnavailable, err)
		return nil, s.reject(ctx, log, c, StageAvailabilityChecked, err)
	}

	if replayable {
		if prior, ok := findByID(existing, c.ID); ok {
			if !sameRequest(prior, c) {
				err := fmt.Errorf("appointment %s: %w", c.ID, ErrIdempotencyMismatch)
				return nil, s.reject(ctx, log, c, StageAvailabilityChecked, err)
			}
			log.Info().Msg("idempotency key matches a committed appointment, replaying")
			return &prior, nil
		}
	}

	if Conflicts(*c, existing, s.policy) {
		return nil, s.reject(ctx, log, c, StageAvailabilityChecked, ErrConflict)
	}
	log.Debug().Str("stage", string(StageConflictChecked)).Msg("no conflicting booking")

	if err := s.commit(ctx, c); err != nil {
		return nil, s.reject(ctx, log, c, StageConflictChecked, err)
	}

	log.Info().
		Str("stage", string(StageCommitted)).
		Str("patient_id", c.PatientID).
		Msg("appointment committed")

	s.logEvent(ctx, &c.ID, EventAppointmentCommitted, eventPayload(c, StageCommitted, ReasonNone))
	s.notify(ctx, log, *c)

	return c, nil
}

// commit issues the single create. It is never retried: a repeated create
// after an ambiguous failure is only safe behind an idempotency key.
func (s *Service) commit(ctx context.Context, c *Appointment) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	err := s.repo.Create(callCtx, c, s.policy)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAppointmentExists):
		return fmt.Errorf("create appointment %s: %w", c.ID, ErrDuplicateID)
	case errors.Is(err, ErrSlotTaken):
		// A concurrent admission committed first.
		return fmt.Errorf("create appointment: %w: %w", ErrConflict, err)
	default:
		return fmt.Errorf("create appointment: %w: %w", ErrStoreFailure, err)
	}
}

func (s *Service) reject(ctx context.Context, log zerolog.Logger, c *Appointment, from Stage, err error) error {
	reason := ReasonOf(err)

	evt := log.Info()
	if reason.Retryable() {
		evt = log.Warn()
	}
	evt.Str("stage", string(StageRejected)).
		Str("from", string(from)).
		Str("reason", string(reason)).
		Err(err).
		Msg("appointment rejected")

	s.logEvent(ctx, nil, EventAppointmentRejected, eventPayload(c, from, reason))
	return err
}

func (s *Service) notify(ctx context.Context, log zerolog.Logger, appt Appointment) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := s.callContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.notifier.Notify(notifyCtx, appt); err != nil {
		log.Warn().Err(err).Msg("failed to notify doctor of new appointment")
	}
}

func (s *Service) listByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	var appts []Appointment
	err := s.retryRead(ctx, "appointments", func(callCtx context.Context) error {
		var err error
		appts, err = s.repo.ListByDoctor(callCtx, doctorID)
		return err
	})
	return appts, err
}

// retryRead runs fn up to readRetries+1 times with a linear backoff, each
// attempt under its own call timeout.
func (s *Service) retryRead(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(time.Duration(attempt) * readBackoff):
			}
		}

		callCtx, cancel := s.callContext(ctx)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		s.log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("read failed")
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     now(),
	}

	evCtx, cancel := s.callContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.events.InsertEvent(evCtx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}

func eventPayload(c *Appointment, stage Stage, reason Reason) map[string]any {
	payload := map[string]any{
		"appointment_id": c.ID.String(),
		"doctor_id":      c.DoctorID,
		"patient_id":     c.PatientID,
		"start":          FormatInstant(c.Start),
		"stage":          string(stage),
	}
	if reason != ReasonNone {
		payload["reason"] = string(reason)
	}
	return payload
}

func idempotentID(doctorID, key string) uuid.UUID {
	return uuid.NewSHA1(idempotencyNamespace, []byte(doctorID+"\x00"+key))
}

func findByID(appts []Appointment, id uuid.UUID) (Appointment, bool) {
	for _, a := range appts {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}

func groupByDate(appts []Appointment) []DaySchedule {
	sorted := make([]Appointment, len(appts))
	copy(sorted, appts)
	sortByStart(sorted)

	var days []DaySchedule
	for _, a := range sorted {
		date := a.Date()
		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, DaySchedule{Date: date})
		}
		last := &days[len(days)-1]
		last.Times = append(last.Times, a.TimeOfDay())
	}
	return days
}
