package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/appointment"
)

const TypeAppointmentNotify = "appointment:notify"

const (
	maxRetry    = 5
	taskTimeout = 30 * time.Second
)

// Payload is the task body for TypeAppointmentNotify.
type Payload struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id"`
	Start         string `json:"start"`
}

// NewNotifyTask builds the task for a committed appointment. The task id is
// the appointment id, so a second enqueue of the same booking is a no-op.
func NewNotifyTask(appt appointment.Appointment) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(Payload{
		AppointmentID: appt.ID.String(),
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Start:         appointment.FormatInstant(appt.Start),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal notify payload: %w", err)
	}

	task := asynq.NewTask(TypeAppointmentNotify, b)
	opts := []asynq.Option{
		asynq.TaskID(appt.ID.String()),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	}
	return task, opts, nil
}

// Enqueuer is the part of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands committed appointments to the notify worker.
type QueueNotifier struct {
	client Enqueuer
	log    zerolog.Logger
}

func NewQueueNotifier(client Enqueuer, log zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{client: client, log: log}
}

func (n *QueueNotifier) Notify(ctx context.Context, appt appointment.Appointment) error {
	task, opts, err := NewNotifyTask(appt)
	if err != nil {
		return err
	}

	info, err := n.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue notify task: %w", err)
	}

	n.log.Debug().
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Str("appointment_id", appt.ID.String()).
		Msg("notify task enqueued")
	return nil
}
