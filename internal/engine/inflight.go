package engine

import (
	"sync"

	"github.com/mattsoldo/lumctl/internal/entity"
)

// InFlightTracker is a reference-counted membership set of entities with an
// outstanding network write. While an entity is present, push events for it
// are discarded. A single boolean per entity would be cleared too early when
// two writes for the same entity overlap, so the marker counts writes:
// incremented on each write start, decremented on each settle, raised until
// the last one finishes.
//
// There is no timeout. A write that never settles leaves its entity excluded
// from push updates until the periodic poller overwrites it regardless of
// marker state.
type InFlightTracker struct {
	mu   sync.Mutex
	refs map[entity.ID]int
}

// NewInFlightTracker creates an empty tracker.
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{refs: make(map[entity.ID]int)}
}

// Add raises the marker for id.
func (t *InFlightTracker) Add(id entity.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs[id]++
}

// Remove lowers the marker for id. The marker clears only when every
// overlapping write has settled.
func (t *InFlightTracker) Remove(id entity.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refs[id] <= 1 {
		delete(t.refs, id)
		return
	}
	t.refs[id]--
}

// Has reports whether any write for id is still in flight.
func (t *InFlightTracker) Has(id entity.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs[id] > 0
}
