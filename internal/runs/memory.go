package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"comfyforge/internal/services"
)

// MemoryStore keeps records in process with retention and a size cap.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*Record
	order      []string // submission order, oldest first
	retention  time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore returns a store keeping finished runs for retention and at
// most maxEntries runs overall.
func NewMemoryStore(retention time.Duration, maxEntries int) *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*Record),
		retention:  retention,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the time source (tests).
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Save(_ context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return services.Wrap(services.ErrValidation, "runs", "save", "record id is required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.ID]; !exists {
		m.order = append(m.order, record.ID)
	}
	m.records[record.ID] = record.clone()
	m.pruneLocked(record.ID, true)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked("", false)
	record, ok := m.records[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "runs", "get", fmt.Sprintf("run %s", id), nil)
	}
	return record.clone(), nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked("", false)
	var out []*Record
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.records[m.order[i]].clone())
	}
	return out, nil
}

// Len returns the number of retained records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }

// pruneLocked drops finished records past retention, then the oldest
// finished records beyond the cap. Pending and running records are never
// evicted, so the store may exceed the cap while many runs are in flight.
// The cap is enforced only on writes, and never against the record named
// by saved.
func (m *MemoryStore) pruneLocked(saved string, capped bool) {
	var cutoff time.Time
	if m.retention > 0 {
		cutoff = m.now().Add(-m.retention)
	}
	excess := 0
	if capped && m.maxEntries > 0 {
		excess = len(m.order) - m.maxEntries
	}
	kept := m.order[:0]
	for _, id := range m.order {
		record := m.records[id]
		if record.Status.Terminal() {
			expired := !cutoff.IsZero() && record.UpdatedAt.Before(cutoff)
			if expired || (excess > 0 && id != saved) {
				delete(m.records, id)
				excess--
				continue
			}
		}
		kept = append(kept, id)
	}
	m.order = kept
}
