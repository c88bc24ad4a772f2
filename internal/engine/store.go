package engine

import (
	"sync"
	"time"

	"github.com/mattsoldo/lumctl/internal/entity"
)

// ObservedState is the best-known backend state for one entity. Goal fields
// are the target the backend is driving toward; current fields are the last
// reported actually-measured values (fixtures fade, so the two diverge
// during a transition). Brightness is on the internal 0-1000 scale.
type ObservedState struct {
	GoalBrightness    int
	GoalColorTempK    *int
	CurrentBrightness int
	CurrentColorTempK *int
	On                bool
	OverrideActive    bool
	OverrideExpiresAt *time.Time
}

// Equal compares two states by value, including nullable fields.
func (o ObservedState) Equal(other ObservedState) bool {
	return o.GoalBrightness == other.GoalBrightness &&
		o.CurrentBrightness == other.CurrentBrightness &&
		o.On == other.On &&
		o.OverrideActive == other.OverrideActive &&
		intPtrEqual(o.GoalColorTempK, other.GoalColorTempK) &&
		intPtrEqual(o.CurrentColorTempK, other.CurrentColorTempK) &&
		timePtrEqual(o.OverrideExpiresAt, other.OverrideExpiresAt)
}

// RemotePatch is a partial ObservedState carried by a push event or a
// settled write response. Nil fields are left untouched. A patch is applied
// atomically: either the whole merged state is stored or nothing changes.
type RemotePatch struct {
	GoalBrightness    *int
	GoalColorTempK    *int
	CurrentBrightness *int
	CurrentColorTempK *int
	On                *bool
}

// DisplayState is what the operator actually sees: brightness on the 0-100
// scale, color temperature in Kelvin (nil when undefined for the entity).
type DisplayState struct {
	Brightness float64
	ColorTempK *int
	On         bool
}

// PendingChecker gates remote merges on in-flight writes.
type PendingChecker interface {
	Has(id entity.ID) bool
}

// Store is the goal-state store: the single shared mutable resource of the
// engine. It owns every ObservedState plus the group topology needed to
// compute group display values. Mutation happens only through ApplyRemote,
// ApplyLocal and ReplaceAll.
type Store struct {
	mu      sync.RWMutex
	states  map[entity.ID]ObservedState
	members map[int64][]int64 // group id -> member fixture ids
	tunable map[int64]bool    // fixture id -> supports color tuning

	pending PendingChecker
	intents *IntentCache

	changes uint64
}

// NewStore creates an empty store gated by pending and overlaid by intents.
func NewStore(pending PendingChecker, intents *IntentCache) *Store {
	return &Store{
		states:  make(map[entity.ID]ObservedState),
		members: make(map[int64][]int64),
		tunable: make(map[int64]bool),
		pending: pending,
		intents: intents,
	}
}

// SetTopology replaces the group membership and fixture capability maps.
// Called by the poller after each full refetch.
func (s *Store) SetTopology(members map[int64][]int64, tunable map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
	s.tunable = tunable
}

// GroupMembers returns the member fixture ids of a group.
func (s *Store) GroupMembers(groupID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.members[groupID]))
	copy(out, s.members[groupID])
	return out
}

// Read returns the stored state for id.
func (s *Store) Read(id entity.ID) (ObservedState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok
}

// Changes returns the number of state mutations that actually changed a
// value. Merges that produce an identical state do not count, so UI layers
// keyed off this counter never re-render needlessly.
func (s *Store) Changes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changes
}

// ApplyRemote merges a partial state for id unless a write for id is in
// flight. Returns true only if the stored value changed; a merge that lands
// on a bitwise-identical state is a complete no-op.
func (s *Store) ApplyRemote(id entity.ID, p RemotePatch) bool {
	if s.pending.Has(id) {
		return false
	}
	return s.apply(id, p)
}

// ApplyLocal merges a partial state for id ignoring the in-flight gate.
// Used for the engine's own settled write responses, which are trusted by
// construction (sequence gating happens before the call).
func (s *Store) ApplyLocal(id entity.ID, p RemotePatch) bool {
	return s.apply(id, p)
}

func (s *Store) apply(id entity.ID, p RemotePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.states[id]
	if p.GoalBrightness != nil {
		merged.GoalBrightness = *p.GoalBrightness
	}
	if p.GoalColorTempK != nil {
		ct := *p.GoalColorTempK
		merged.GoalColorTempK = &ct
	}
	if p.CurrentBrightness != nil {
		merged.CurrentBrightness = *p.CurrentBrightness
	}
	if p.CurrentColorTempK != nil {
		ct := *p.CurrentColorTempK
		merged.CurrentColorTempK = &ct
	}
	if p.On != nil {
		merged.On = *p.On
	}

	if existing, ok := s.states[id]; ok && existing.Equal(merged) {
		return false
	}

	s.states[id] = merged
	s.changes++
	return true
}

// ReplaceAll swaps in a freshly rebuilt state map, regardless of in-flight
// markers. This is the poller's full-resync path and the backstop that
// recovers entities stranded by a write that never settled.
func (s *Store) ReplaceAll(states map[entity.ID]ObservedState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := len(states) != len(s.states)
	if !changed {
		for id, st := range states {
			prev, ok := s.states[id]
			if !ok || !prev.Equal(st) {
				changed = true
				break
			}
		}
	}

	s.states = states
	if changed {
		s.changes++
	}
}

// ReadDisplayed returns the value actually shown to the operator: a live,
// unexpired intent wins for the fields it covers; otherwise the stored
// state is used. Group values are computed as the arithmetic mean over the
// group's member fixtures, with the color-temperature mean restricted to
// color-tunable fixtures (nil if none are).
func (s *Store) ReadDisplayed(id entity.ID) (DisplayState, bool) {
	var disp DisplayState
	var ok bool

	if id.Kind == entity.KindGroup {
		disp, ok = s.groupDisplay(id.Num)
	} else {
		disp, ok = s.fixtureDisplay(id)
	}
	if !ok {
		return DisplayState{}, false
	}

	if s.intents.IsFresh(id, entity.AxisBrightness) {
		if rec, recOK := s.intents.Get(id); recOK && rec.Brightness != nil {
			disp.Brightness = *rec.Brightness
		}
	}
	if s.intents.IsFresh(id, entity.AxisColorTemp) {
		if rec, recOK := s.intents.Get(id); recOK && rec.ColorTempK != nil {
			ct := *rec.ColorTempK
			disp.ColorTempK = &ct
		}
	}

	return disp, true
}

func (s *Store) fixtureDisplay(id entity.ID) (DisplayState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return DisplayState{}, false
	}

	disp := DisplayState{
		Brightness: entity.InternalToDisplay(st.GoalBrightness),
		On:         st.On,
	}
	if st.GoalColorTempK != nil {
		ct := *st.GoalColorTempK
		disp.ColorTempK = &ct
	}
	return disp, true
}

func (s *Store) groupDisplay(groupID int64) (DisplayState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fixtures, ok := s.members[groupID]
	if !ok {
		return DisplayState{}, false
	}

	var disp DisplayState
	var briSum, briN int
	var ctSum, ctN int
	for _, fid := range fixtures {
		st, stOK := s.states[entity.FixtureID(fid)]
		if !stOK {
			continue
		}
		briSum += st.GoalBrightness
		briN++
		if st.On {
			disp.On = true
		}
		if s.tunable[fid] && st.GoalColorTempK != nil {
			ctSum += *st.GoalColorTempK
			ctN++
		}
	}

	if briN > 0 {
		disp.Brightness = entity.InternalToDisplay(briSum / briN)
	}
	if ctN > 0 {
		ct := ctSum / ctN
		disp.ColorTempK = &ct
	}
	return disp, true
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
