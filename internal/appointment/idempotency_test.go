package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/appointment-admission/internal/redis"
)

// memoryIdempotency mirrors the Redis store's pending/done records.
type memoryIdempotency struct {
	mu       sync.Mutex
	pending  map[string]string
	done     map[string][]byte
	claimErr error
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{pending: make(map[string]string), done: make(map[string][]byte)}
}

func (m *memoryIdempotency) Claim(_ context.Context, key string) (string, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return "", nil, m.claimErr
	}
	if payload, ok := m.done[key]; ok {
		return "", payload, nil
	}
	if _, ok := m.pending[key]; ok {
		return "", nil, redisclient.ErrRequestInFlight
	}
	token := uuid.NewString()
	m.pending[key] = token
	return token, nil, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key, token string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[key] != token {
		return redisclient.ErrClaimLost
	}
	delete(m.pending, key)
	m.done[key] = payload
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[key] == token {
		delete(m.pending, key)
	}
	return nil
}

func newIdempotentService(repo Repository, avail AvailabilityStore, idem redisclient.IdempotencyStore) *Service {
	return NewService(Dependencies{
		Repo:         repo,
		Availability: avail,
		Idempotency:  idem,
		Logger:       zerolog.Nop(),
	}, testConfig())
}

func keyed(start, key string) CreateRequest {
	return CreateRequest{DoctorID: "dr-d", PatientID: "p-1", Start: start, IdempotencyKey: key}
}

func TestIdempotentID(t *testing.T) {
	a := idempotentID("dr-d", "key-1")
	if a != idempotentID("dr-d", "key-1") {
		t.Error("derived id must be stable")
	}
	if a == idempotentID("dr-e", "key-1") {
		t.Error("derived id must be scoped to the doctor")
	}
	if idempotentID("dr-d", "ke") == idempotentID("dr-dk", "e") {
		t.Error("doctor and key must not run together")
	}
}

func TestCreateAppointment_IdempotentReplay(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	repo := NewMemoryRepository()
	idem := newMemoryIdempotency()
	svc := newIdempotentService(repo, avail, idem)
	ctx := context.Background()

	first, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if first.ID != second.ID || !first.Start.Equal(second.Start) || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Errorf("replay returned a different appointment: %+v vs %+v", first, second)
	}

	stored, _ := repo.ListByDoctor(ctx, "dr-d")
	if len(stored) != 1 {
		t.Errorf("expected a single stored booking, got %d", len(stored))
	}
}

func TestCreateAppointment_KeyReusedForDifferentRequest(t *testing.T) {
	tests := []struct {
		name   string
		second CreateRequest
	}{
		{"other start", CreateRequest{DoctorID: "dr-d", PatientID: "alice", Start: "2024-01-10T11:00:00", IdempotencyKey: "k1"}},
		{"other patient", CreateRequest{DoctorID: "dr-d", PatientID: "bob", Start: "2024-01-10T09:00:00", IdempotencyKey: "k1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avail := NewMemoryAvailability()
			avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
			repo := NewMemoryRepository()
			idem := newMemoryIdempotency()
			svc := newIdempotentService(repo, avail, idem)
			ctx := context.Background()

			original := CreateRequest{DoctorID: "dr-d", PatientID: "alice", Start: "2024-01-10T09:00:00", IdempotencyKey: "k1"}
			first, err := svc.CreateAppointment(ctx, original)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			appt, err := svc.CreateAppointment(ctx, tt.second)
			if ReasonOf(err) != ReasonIdempotencyMismatch || appt != nil {
				t.Fatalf("expected idempotency_mismatch, got %+v, %v", appt, err)
			}

			stored, _ := repo.ListByDoctor(ctx, "dr-d")
			if len(stored) != 1 {
				t.Errorf("expected a single stored booking, got %d", len(stored))
			}

			again, err := svc.CreateAppointment(ctx, original)
			if err != nil || again.ID != first.ID {
				t.Errorf("original request must still replay, got %+v, %v", again, err)
			}
		})
	}
}

func TestCreateAppointment_KeyReusedAfterRejection(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	svc := newIdempotentService(NewMemoryRepository(), avail, newMemoryIdempotency())
	ctx := context.Background()

	if _, err := svc.CreateAppointment(ctx, keyed("2024-01-10T13:00:00", "k1")); ReasonOf(err) != ReasonTimeUnavailable {
		t.Fatalf("expected time_unavailable, got %v", err)
	}
	if _, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "k1")); ReasonOf(err) != ReasonIdempotencyMismatch {
		t.Errorf("expected idempotency_mismatch, got %v", err)
	}
}

// Without a stored outcome the derived id finds the earlier commit, and the
// commit itself must match the request.
func TestCreateAppointment_KeyReusedWithoutStoredOutcome(t *testing.T) {
	tests := []struct {
		name string
		idem func() *memoryIdempotency
	}{
		{"no store", func() *memoryIdempotency { return nil }},
		{"store down", func() *memoryIdempotency {
			m := newMemoryIdempotency()
			m.claimErr = errors.New("redis: connection refused")
			return m
		}},
		{"record lost", newMemoryIdempotency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avail := NewMemoryAvailability()
			avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
			repo := NewMemoryRepository()
			ctx := context.Background()

			seed := newTestService(repo, avail, testConfig())
			if _, err := seed.CreateAppointment(ctx, CreateRequest{DoctorID: "dr-d", PatientID: "alice", Start: "2024-01-10T09:00:00", IdempotencyKey: "k1"}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			svc := seed
			idem := tt.idem()
			if idem != nil {
				svc = newIdempotentService(repo, avail, idem)
			}

			appt, err := svc.CreateAppointment(ctx, CreateRequest{DoctorID: "dr-d", PatientID: "bob", Start: "2024-01-10T11:00:00", IdempotencyKey: "k1"})
			if ReasonOf(err) != ReasonIdempotencyMismatch || appt != nil {
				t.Fatalf("expected idempotency_mismatch, got %+v, %v", appt, err)
			}
			if idem != nil && (len(idem.pending) != 0 || len(idem.done) != 0) {
				t.Errorf("a mismatch must not be stored, got pending=%v done=%v", idem.pending, idem.done)
			}

			stored, _ := repo.ListByDoctor(ctx, "dr-d")
			if len(stored) != 1 || stored[0].PatientID != "alice" {
				t.Errorf("expected only alice's booking, got %+v", stored)
			}
		})
	}
}

func TestRequestFingerprint(t *testing.T) {
	a := booking("dr-d", "2024-01-10T09:00:00")
	b := a
	b.ID = uuid.New()
	if requestFingerprint(&a) != requestFingerprint(&b) {
		t.Error("fingerprint must not depend on the id")
	}
	b.PatientID = "other"
	if requestFingerprint(&a) == requestFingerprint(&b) {
		t.Error("fingerprint must cover the patient")
	}
	c := booking("dr-d", "2024-01-10T09:00:01")
	if requestFingerprint(&a) == requestFingerprint(&c) {
		t.Error("fingerprint must cover the start")
	}
}

func TestCreateAppointment_IdempotentRejectionReplay(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	idem := newMemoryIdempotency()
	svc := newIdempotentService(NewMemoryRepository(), avail, idem)
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, keyed("2024-01-10T13:00:00", "late"))
	if ReasonOf(err) != ReasonTimeUnavailable {
		t.Fatalf("expected time_unavailable, got %v", err)
	}

	// Opening the afternoon does not change an outcome already decided.
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "12:00", "18:00"))
	_, err = svc.CreateAppointment(ctx, keyed("2024-01-10T13:00:00", "late"))
	if ReasonOf(err) != ReasonTimeUnavailable {
		t.Errorf("expected the stored rejection to replay, got %v", err)
	}
}

func TestCreateAppointment_RetryableFailureReleasesKey(t *testing.T) {
	repo := NewMemoryRepository()
	idem := newMemoryIdempotency()
	ctx := context.Background()

	svc := newIdempotentService(repo, failingAvailability{err: errors.New("down")}, idem)
	if _, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1")); ReasonOf(err) != ReasonUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}
	if len(idem.pending) != 0 || len(idem.done) != 0 {
		t.Fatalf("retryable failure must leave no record, got pending=%v done=%v", idem.pending, idem.done)
	}

	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	svc = newIdempotentService(repo, avail, idem)
	if _, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1")); err != nil {
		t.Errorf("retry after recovery must commit, got %v", err)
	}
}

func TestCreateAppointment_RequestInFlight(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	idem := newMemoryIdempotency()
	idem.pending["dr-d:key-1"] = "someone-else"
	svc := newIdempotentService(NewMemoryRepository(), avail, idem)

	_, err := svc.CreateAppointment(context.Background(), keyed("2024-01-10T10:00:00", "key-1"))
	if ReasonOf(err) != ReasonRequestInFlight || !ReasonOf(err).Retryable() {
		t.Errorf("expected request_in_flight, got %v", err)
	}
}

func TestCreateAppointment_IdempotencyStoreDown(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	repo := NewMemoryRepository()
	idem := newMemoryIdempotency()
	idem.claimErr = errors.New("redis: connection refused")
	svc := newIdempotentService(repo, avail, idem)
	ctx := context.Background()

	first, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil {
		t.Fatalf("admission must not depend on the idempotency store, got %v", err)
	}
	second, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil || second.ID != first.ID {
		t.Errorf("derived id must still replay the commit, got %+v, %v", second, err)
	}
}

// ambiguousRepo commits the write but reports a failure, like a timeout
// after the row reached the store.
type ambiguousRepo struct {
	*MemoryRepository
	fail bool
}

func (r *ambiguousRepo) Create(ctx context.Context, appt *Appointment, policy ConflictPolicy) error {
	if err := r.MemoryRepository.Create(ctx, appt, policy); err != nil {
		return err
	}
	if r.fail {
		return context.DeadlineExceeded
	}
	return nil
}

func TestCreateAppointment_RetryAfterAmbiguousWrite(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	repo := &ambiguousRepo{MemoryRepository: NewMemoryRepository(), fail: true}
	idem := newMemoryIdempotency()
	svc := newIdempotentService(repo, avail, idem)
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if ReasonOf(err) != ReasonStoreError {
		t.Fatalf("expected store_error, got %v", err)
	}

	repo.fail = false
	appt, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil {
		t.Fatalf("retry must find the earlier commit, got %v", err)
	}
	if appt.ID != idempotentID("dr-d", "key-1") {
		t.Errorf("unexpected id %s", appt.ID)
	}

	stored, _ := repo.ListByDoctor(ctx, "dr-d")
	if len(stored) != 1 {
		t.Errorf("expected exactly one booking, got %d", len(stored))
	}
}

func TestCreateAppointment_KeyWithoutStoreUsesDerivedID(t *testing.T) {
	avail := NewMemoryAvailability()
	avail.Add("dr-d", "2024-01-10", mustWindow(t, "09:00", "12:00"))
	svc := newTestService(NewMemoryRepository(), avail, testConfig())
	ctx := context.Background()

	first, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-1"))
	if err != nil || second.ID != first.ID {
		t.Errorf("expected replay of %s, got %+v, %v", first.ID, second, err)
	}

	// A different key is a different request and conflicts.
	if _, err := svc.CreateAppointment(ctx, keyed("2024-01-10T10:00:00", "key-2")); ReasonOf(err) != ReasonConflict {
		t.Errorf("expected conflict for a new key, got %v", err)
	}
}

func TestDecodeOutcome(t *testing.T) {
	if _, err := decodeOutcome([]byte(`{}`)); err == nil {
		t.Error("empty outcome must be rejected")
	}
	if _, err := decodeOutcome([]byte(`not json`)); err == nil {
		t.Error("garbage must be rejected")
	}

	out, err := decodeOutcome([]byte(`{"reason":"conflict","details":"taken"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, replayErr := out.result()
	if !errors.Is(replayErr, ErrConflict) || !strings.Contains(replayErr.Error(), "taken") {
		t.Errorf("unexpected replayed error %v", replayErr)
	}

	out, err = decodeOutcome([]byte(`{"appointment":{"id":"` + uuid.Nil.String() + `","start":"bad"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := out.result(); ReasonOf(err) != ReasonStoreError {
		t.Errorf("corrupt stored start must be a store error, got %v", err)
	}
}
