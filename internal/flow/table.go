package flow

import (
	"sync"

	"socksmon/internal/models"
)

// DefaultCapacity is the number of flows the session table holds.
const DefaultCapacity = 1024

// Table keeps the most recent AuthEvent per flow key.
//
// It is a best-effort cache: capacity is fixed, and inserting a new key into
// a full table evicts an arbitrary existing entry. Entries are never removed
// otherwise. Each Upsert replaces a key's value as one operation; there is
// no ordering between different keys.
type Table struct {
	mu       sync.RWMutex
	entries  map[models.FlowKey]models.AuthEvent
	capacity int
	evicted  uint64
}

// NewTable creates a table bounded to capacity entries.
// A non-positive capacity selects DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		entries:  make(map[models.FlowKey]models.AuthEvent, capacity),
		capacity: capacity,
	}
}

// Upsert inserts or overwrites the event stored under key.
func (t *Table) Upsert(key models.FlowKey, ev models.AuthEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		t.evictAny()
	}
	t.entries[key] = ev
}

// evictAny drops whichever entry map iteration yields first.
func (t *Table) evictAny() {
	for k := range t.entries {
		delete(t.entries, k)
		t.evicted++
		return
	}
}

// Lookup returns the event stored under key.
func (t *Table) Lookup(key models.FlowKey) (models.AuthEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ev, ok := t.entries[key]
	return ev, ok
}

// Snapshot returns a copy of every stored event.
func (t *Table) Snapshot() []models.AuthEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]models.AuthEvent, 0, len(t.entries))
	for _, ev := range t.entries {
		result = append(result, ev)
	}
	return result
}

// Len returns the number of stored flows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Capacity returns the maximum number of stored flows.
func (t *Table) Capacity() int {
	return t.capacity
}

// Evicted returns how many entries were dropped to make room.
func (t *Table) Evicted() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evicted
}
