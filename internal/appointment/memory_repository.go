package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Create checks the id and the
// guard ranges under one mutex, giving the same write-time guard as the
// Postgres exclusion constraint.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]Appointment
	guards map[uuid.UUID]guardRange
	events []EventLog
}

// guardRange is [from, to) within scope, fixed when the row is written.
type guardRange struct {
	doctorID string
	scope    string
	from, to time.Time
}

func newGuardRange(a Appointment, policy ConflictPolicy) guardRange {
	return guardRange{
		doctorID: a.DoctorID,
		scope:    policy.GuardScope(a),
		from:     a.Start,
		to:       a.Start.Add(policy.MinGap),
	}
}

func (g guardRange) overlaps(o guardRange) bool {
	return g.doctorID == o.doctorID && g.scope == o.scope &&
		g.from.Before(o.to) && o.from.Before(g.to)
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]Appointment),
		guards: make(map[uuid.UUID]guardRange),
	}
}

func (r *MemoryRepository) Create(_ context.Context, appt *Appointment, policy ConflictPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[appt.ID]; ok {
		return ErrAppointmentExists
	}
	guard := newGuardRange(*appt, policy)
	for _, existing := range r.guards {
		if guard.overlaps(existing) {
			return ErrSlotTaken
		}
	}

	appt.CreatedAt = now()
	r.byID[appt.ID] = *appt
	r.guards[appt.ID] = guard
	return nil
}

func (r *MemoryRepository) ListByDoctor(_ context.Context, doctorID string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.byID {
		if a.DoctorID == doctorID {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded audit trail.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

// MemoryAvailability is an in-process AvailabilityStore keyed by doctor and date.
type MemoryAvailability struct {
	mu      sync.RWMutex
	windows map[string]map[string][]Window
}

func NewMemoryAvailability() *MemoryAvailability {
	return &MemoryAvailability{windows: make(map[string]map[string][]Window)}
}

// Add opens windows for the doctor on date.
func (m *MemoryAvailability) Add(doctorID, date string, windows ...Window) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDate, ok := m.windows[doctorID]
	if !ok {
		byDate = make(map[string][]Window)
		m.windows[doctorID] = byDate
	}
	byDate[date] = append(byDate[date], windows...)
}

func (m *MemoryAvailability) Windows(_ context.Context, doctorID, date string) ([]Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.windows[doctorID][date]
	out := make([]Window, len(src))
	copy(out, src)
	return out, nil
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Start.Equal(appts[j].Start) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].Start.Before(appts[j].Start)
	})
}
