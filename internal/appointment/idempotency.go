package appointment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/appointment-admission/internal/redis"
)

type storedAppointment struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	Start     string    `json:"start"`
	CreatedAt time.Time `json:"created_at"`
}

// storedOutcome is the terminal result kept in the idempotency store,
// together with the fingerprint of the request that produced it.
type storedOutcome struct {
	Fingerprint string             `json:"fingerprint"`
	Appointment *storedAppointment `json:"appointment,omitempty"`
	Reason      Reason             `json:"reason,omitempty"`
	Details     string             `json:"details,omitempty"`
}

// admitOnce wraps admit with the idempotency store. Deterministic outcomes
// are stored and replayed; retryable failures release the key.
func (s *Service) admitOnce(ctx context.Context, c *Appointment, key string) (*Appointment, error) {
	scoped := c.DoctorID + ":" + key
	log := s.log.With().Str("doctor_id", c.DoctorID).Str("idempotency_key", key).Logger()

	claimCtx, cancel := s.callContext(ctx)
	token, prior, err := s.idem.Claim(claimCtx, scoped)
	cancel()

	switch {
	case errors.Is(err, redisclient.ErrRequestInFlight):
		log.Info().Str("reason", string(ReasonRequestInFlight)).Msg("appointment rejected")
		return nil, fmt.Errorf("idempotency key %q: %w", key, err)
	case err != nil:
		// The derived id still guards the create, so admission proceeds
		// without a stored outcome.
		log.Warn().Err(err).Msg("idempotency store unavailable")
		return s.admit(ctx, c, true)
	case prior != nil:
		outcome, err := decodeOutcome(prior)
		if err != nil {
			log.Warn().Err(err).Msg("discarding unreadable idempotency record")
			return s.admit(ctx, c, true)
		}
		if outcome.Fingerprint != requestFingerprint(c) {
			log.Info().Str("reason", string(ReasonIdempotencyMismatch)).Msg("appointment rejected")
			return nil, fmt.Errorf("idempotency key %q: %w", key, ErrIdempotencyMismatch)
		}
		log.Info().Msg("replaying stored admission outcome")
		return outcome.result()
	}

	appt, admitErr := s.admit(ctx, c, true)

	storeCtx, cancel := s.callContext(context.WithoutCancel(ctx))
	defer cancel()

	if ReasonOf(admitErr).Deterministic() {
		payload, err := encodeOutcome(c, appt, admitErr)
		if err == nil {
			err = s.idem.Complete(storeCtx, scoped, token, payload)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to store admission outcome")
		}
	} else if err := s.idem.Release(storeCtx, scoped, token); err != nil {
		log.Warn().Err(err).Msg("failed to release idempotency key")
	}

	return appt, admitErr
}

func encodeOutcome(c, appt *Appointment, admitErr error) ([]byte, error) {
	out := storedOutcome{Fingerprint: requestFingerprint(c)}
	if appt != nil {
		out.Appointment = &storedAppointment{
			ID:        appt.ID,
			DoctorID:  appt.DoctorID,
			PatientID: appt.PatientID,
			Start:     FormatInstant(appt.Start),
			CreatedAt: appt.CreatedAt,
		}
	} else {
		out.Reason = ReasonOf(admitErr)
		out.Details = admitErr.Error()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal admission outcome: %w", err)
	}
	return data, nil
}

func decodeOutcome(data []byte) (storedOutcome, error) {
	var out storedOutcome
	if err := json.Unmarshal(data, &out); err != nil {
		return storedOutcome{}, fmt.Errorf("unmarshal admission outcome: %w", err)
	}
	if out.Appointment == nil && out.Reason == ReasonNone {
		return storedOutcome{}, errors.New("admission outcome has neither appointment nor reason")
	}
	return out, nil
}

func (o storedOutcome) result() (*Appointment, error) {
	if o.Appointment == nil {
		return nil, fmt.Errorf("replayed outcome (%s): %w", o.Details, errorForReason(o.Reason))
	}

	start, err := ParseInstant(o.Appointment.Start)
	if err != nil {
		return nil, fmt.Errorf("replayed outcome: %w: %v", ErrStoreFailure, err)
	}
	return &Appointment{
		ID:        o.Appointment.ID,
		DoctorID:  o.Appointment.DoctorID,
		PatientID: o.Appointment.PatientID,
		Start:     start,
		CreatedAt: o.Appointment.CreatedAt,
	}, nil
}

// requestFingerprint identifies the booking a request asks for. A key
// replays only for a request with the same fingerprint.
func requestFingerprint(c *Appointment) string {
	sum := sha256.Sum256([]byte(c.DoctorID + "\x00" + c.PatientID + "\x00" + FormatInstant(c.Start)))
	return hex.EncodeToString(sum[:])
}

// sameRequest reports whether a committed appointment is the one c asks for.
func sameRequest(prior Appointment, c *Appointment) bool {
	return prior.DoctorID == c.DoctorID && prior.PatientID == c.PatientID && prior.Start.Equal(c.Start)
}
