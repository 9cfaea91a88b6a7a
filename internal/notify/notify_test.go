package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-admission/internal/appointment"
	"github.com/hackgods/appointment-admission/internal/config"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

type fakeMailer struct {
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func testAppointment() appointment.Appointment {
	return appointment.Appointment{
		ID:        uuid.MustParse("7d7c1f0e-2b43-4b8a-9d3e-0a7f5c2e9b11"),
		DoctorID:  "house@clinic.example",
		PatientID: "patient@example.com",
		Start:     time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestQueueNotifier_Notify(t *testing.T) {
	client := &fakeEnqueuer{}
	n := NewQueueNotifier(client, zerolog.Nop())

	if err := n.Notify(context.Background(), testAppointment()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(client.tasks))
	}

	task := client.tasks[0]
	if task.Type() != TypeAppointmentNotify {
		t.Errorf("unexpected task type %s", task.Type())
	}

	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.DoctorID != "house@clinic.example" || p.Start != "2024-01-10T09:00:00" || p.AppointmentID != testAppointment().ID.String() {
		t.Errorf("unexpected payload %+v", p)
	}
	if len(client.opts[0]) != 3 {
		t.Errorf("expected task id, retry and timeout options, got %d", len(client.opts[0]))
	}
}

func TestQueueNotifier_Errors(t *testing.T) {
	n := NewQueueNotifier(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, zerolog.Nop())
	if err := n.Notify(context.Background(), testAppointment()); err != nil {
		t.Errorf("a duplicate enqueue of the same booking is not an error, got %v", err)
	}

	boom := errors.New("redis down")
	n = NewQueueNotifier(&fakeEnqueuer{err: boom}, zerolog.Nop())
	if err := n.Notify(context.Background(), testAppointment()); !errors.Is(err, boom) {
		t.Errorf("expected enqueue error, got %v", err)
	}
}

func TestHandler_ProcessTask(t *testing.T) {
	mailer := &fakeMailer{}
	h := NewHandler(mailer, zerolog.Nop())

	task, _, err := NewNotifyTask(testAppointment())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "house@clinic.example" || msg.Subject != "Health&Med - Nova consulta agendada" {
		t.Errorf("unexpected message %+v", msg)
	}
	for _, want := range []string{"Dr. house@clinic.example", "Paciente: patient@example.com", "Data e horário: 2024-01-10T09:00:00"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestHandler_SkipsUndeliverable(t *testing.T) {
	mailer := &fakeMailer{}
	h := NewHandler(mailer, zerolog.Nop())

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeAppointmentNotify, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload must skip retry, got %v", err)
	}

	appt := testAppointment()
	appt.DoctorID = "dr-42"
	task, _, _ := NewNotifyTask(appt)
	if err := h.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("non-email doctor id must skip retry, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("nothing should be sent, got %d", len(mailer.sent))
	}
}

func TestHandler_RetriesSendFailures(t *testing.T) {
	boom := errors.New("421 try later")
	h := NewHandler(&fakeMailer{err: boom}, zerolog.Nop())

	task, _, _ := NewNotifyTask(testAppointment())
	err := h.ProcessTask(context.Background(), task)
	if !errors.Is(err, boom) || errors.Is(err, asynq.SkipRetry) {
		t.Errorf("send failure must be retried, got %v", err)
	}
}

func TestAppointmentEmail_EscapesHTML(t *testing.T) {
	msg := AppointmentEmail(Payload{DoctorID: "a@b.c", PatientID: "<script>", Start: "2024-01-10T09:00:00"})
	if strings.Contains(msg.HTML, "<script>") {
		t.Error("patient id must be escaped")
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(config.Config{
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPPassword: "secret",
		SenderEmail:  "noreply@example.com",
	})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), Message{To: "house@clinic.example", Subject: appointmentSubject, HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "house@clinic.example" {
		t.Errorf("unexpected envelope addr=%s from=%s to=%v", gotAddr, gotFrom, gotTo)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when a password is configured")
	}

	raw := string(gotMsg)
	for _, want := range []string{"To: house@clinic.example\r\n", "Content-Type: text/html", "\r\n\r\n<p>hi</p>"} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, Message{To: "x@y.z"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled context to abort, got %v", err)
	}
}
