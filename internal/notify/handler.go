package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Handler consumes TypeAppointmentNotify tasks. Doctor ids are their email
// addresses; any other id cannot be mailed and is dropped without retry.
type Handler struct {
	mailer Mailer
	log    zerolog.Logger
}

func NewHandler(mailer Mailer, log zerolog.Logger) *Handler {
	return &Handler{mailer: mailer, log: log}
}

// Register wires the handler into an asynq mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeAppointmentNotify, h)
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.log.Error().Err(err).Msg("invalid notify payload")
		return fmt.Errorf("unmarshal notify payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.With().
		Str("appointment_id", p.AppointmentID).
		Str("doctor_id", p.DoctorID).
		Logger()

	if _, err := mail.ParseAddress(p.DoctorID); err != nil {
		log.Warn().Err(err).Msg("doctor id is not an email address, skipping notification")
		return fmt.Errorf("doctor %q: %v: %w", p.DoctorID, err, asynq.SkipRetry)
	}

	if err := h.mailer.Send(ctx, AppointmentEmail(p)); err != nil {
		log.Warn().Err(err).Msg("failed to send appointment email")
		return err
	}

	log.Info().Msg("appointment email sent")
	return nil
}
