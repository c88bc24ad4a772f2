package engine

import (
	"sync"
	"time"

	"github.com/mattsoldo/lumctl/internal/entity"
)

// Default intent freshness windows. A fixture intent only needs to bridge a
// single round-trip. A group's displayed value is an average over many
// fixtures, so its intent gets a longer grace period to avoid visibly
// snapping back before all members converge.
const (
	DefaultFixtureIntentWindow = 500 * time.Millisecond
	DefaultGroupIntentWindow   = 5000 * time.Millisecond
)

// IntentFields carries the control values the operator just set, on the
// display scale (brightness 0-100).
type IntentFields struct {
	Brightness *float64
	ColorTempK *int
}

// IntentRecord is a short-lived record of operator input. It bridges the
// latency between a user action and the store reflecting the write's effect.
// It is never the system of record.
type IntentRecord struct {
	IntentFields
	WrittenAt time.Time
}

// IntentCache holds per-entity intent records. Record is last-write-wins
// with no merging across calls; expiry is purely read-side via IsFresh.
type IntentCache struct {
	mu    sync.Mutex
	recs  map[entity.ID]IntentRecord
	clock Clock

	fixtureWindow time.Duration
	groupWindow   time.Duration
}

// NewIntentCache creates a cache with the given freshness windows. Zero
// windows fall back to the defaults.
func NewIntentCache(clock Clock, fixtureWindow, groupWindow time.Duration) *IntentCache {
	if fixtureWindow == 0 {
		fixtureWindow = DefaultFixtureIntentWindow
	}
	if groupWindow == 0 {
		groupWindow = DefaultGroupIntentWindow
	}
	return &IntentCache{
		recs:          make(map[entity.ID]IntentRecord),
		clock:         clock,
		fixtureWindow: fixtureWindow,
		groupWindow:   groupWindow,
	}
}

// Record stores fields with the current timestamp, unconditionally
// overwriting any previous record for id.
func (c *IntentCache) Record(id entity.ID, fields IntentFields) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[id] = IntentRecord{IntentFields: fields, WrittenAt: c.clock.Now()}
}

// Get returns the record for id, fresh or not.
func (c *IntentCache) Get(id entity.ID) (IntentRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[id]
	return rec, ok
}

// IsFresh reports whether a live record exists for id that covers axis and
// whose freshness window has not elapsed.
func (c *IntentCache) IsFresh(id entity.ID, axis entity.Axis) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.recs[id]
	if !ok {
		return false
	}

	switch axis {
	case entity.AxisBrightness:
		if rec.Brightness == nil {
			return false
		}
	case entity.AxisColorTemp:
		if rec.ColorTempK == nil {
			return false
		}
	default:
		return false
	}

	return c.clock.Now().Sub(rec.WrittenAt) < c.window(id.Kind)
}

// ClearAll drops every record. Bulk actions (all-off, panic) call this so
// stale intents do not mask the post-action state.
func (c *IntentCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = make(map[entity.ID]IntentRecord)
}

func (c *IntentCache) window(kind entity.Kind) time.Duration {
	if kind == entity.KindGroup {
		return c.groupWindow
	}
	return c.fixtureWindow
}
