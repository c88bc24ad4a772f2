package engine

import (
	"sync"
	"time"
)

// virtualTime is a combined fake Clock and Scheduler. Advancing it fires
// due timers synchronously on the calling goroutine, in deadline order, so
// tests are fully deterministic.
type virtualTime struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	vt       *virtualTime
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

func newVirtualTime() *virtualTime {
	return &virtualTime{now: time.Unix(1700000000, 0)}
}

func (v *virtualTime) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *virtualTime) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &fakeTimer{vt: v, deadline: v.now.Add(d), fn: fn}
	v.timers = append(v.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.vt.mu.Lock()
	defer t.vt.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every timer that comes due.
// Reentrant: a timer callback may schedule new timers or advance further.
func (v *virtualTime) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		var next *fakeTimer
		for _, t := range v.timers {
			if t.fired || t.stopped || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			if target.After(v.now) {
				v.now = target
			}
			v.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline.After(v.now) {
			v.now = next.deadline
		}
		fn := next.fn
		v.mu.Unlock()
		fn()
	}
}
