package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mattsoldo/lumctl/internal/entity"
)

// DefaultQuietPeriod is the debounce window for slider input. Anything in
// the 20-100ms range is reasonable: shorter chatters the network, longer
// lags visibly.
const DefaultQuietPeriod = 50 * time.Millisecond

// WriteFunc performs the actual network write for a coalesced value. The
// value is on the wire scale for brightness (0.0-1.0) and Kelvin for color
// temperature.
type WriteFunc func(id entity.ID, axis entity.Axis, value float64) (*RemotePatch, error)

// SettleFunc is invoked after every write settles, success or failure.
// latest is true only when no newer write for the same entity was issued
// while this one was in flight; stale responses must not be trusted.
type SettleFunc func(id entity.ID, axis entity.Axis, value float64, patch *RemotePatch, latest bool, err error)

// Dispatcher coalesces a burst of control events per (entity, axis) into a
// single outbound write issued after a quiet period. It is the only
// component that raises in-flight markers for user-initiated writes.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[timerKey]*pendingWrite
	seq     map[entity.ID]uint64

	sched    Scheduler
	quiet    time.Duration
	tracker  *InFlightTracker
	write    WriteFunc
	onSettle SettleFunc
}

type timerKey struct {
	ID   entity.ID
	Axis entity.Axis
}

type pendingWrite struct {
	value float64
	timer Timer
}

// NewDispatcher creates a dispatcher. A zero quiet period falls back to the
// default.
func NewDispatcher(sched Scheduler, tracker *InFlightTracker, quiet time.Duration, write WriteFunc, onSettle SettleFunc) *Dispatcher {
	if quiet == 0 {
		quiet = DefaultQuietPeriod
	}
	return &Dispatcher{
		pending:  make(map[timerKey]*pendingWrite),
		seq:      make(map[entity.ID]uint64),
		sched:    sched,
		quiet:    quiet,
		tracker:  tracker,
		write:    write,
		onSettle: onSettle,
	}
}

// Schedule cancels any outstanding timer for (id, axis), overwrites the
// pending payload with value and restarts the quiet period. At most one
// timer exists per (entity, axis); brightness and color temperature are
// debounced independently.
func (d *Dispatcher) Schedule(id entity.ID, axis entity.Axis, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := timerKey{ID: id, Axis: axis}
	if pw, ok := d.pending[key]; ok {
		pw.timer.Stop()
		pw.value = value
		pw.timer = d.sched.AfterFunc(d.quiet, func() { d.fire(key) })
		return
	}

	pw := &pendingWrite{value: value}
	pw.timer = d.sched.AfterFunc(d.quiet, func() { d.fire(key) })
	d.pending[key] = pw
}

// Stop cancels every outstanding timer. Writes already in flight settle on
// their own.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, pw := range d.pending {
		pw.timer.Stop()
		delete(d.pending, key)
	}
}

// fire issues the network write with the latest coalesced value. It runs on
// the timer goroutine, so the blocking call costs nothing to the caller.
func (d *Dispatcher) fire(key timerKey) {
	d.mu.Lock()
	pw, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	value := pw.value

	d.seq[key.ID]++
	seq := d.seq[key.ID]
	d.tracker.Add(key.ID)
	d.mu.Unlock()

	patch, err := d.write(key.ID, key.Axis, value)

	d.mu.Lock()
	latest := seq == d.seq[key.ID]
	d.mu.Unlock()

	// Marker comes down unconditionally; only trust of the response is
	// conditional on being the latest write for the entity.
	d.tracker.Remove(key.ID)

	if err != nil {
		log.Warn().
			Err(err).
			Stringer("entity", key.ID).
			Str("axis", string(key.Axis)).
			Float64("value", value).
			Msg("Control write failed")
	}

	if d.onSettle != nil {
		d.onSettle(key.ID, key.Axis, value, patch, latest, err)
	}
}
