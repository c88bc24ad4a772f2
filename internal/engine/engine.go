// Package engine implements the real-time control reconciliation engine:
// operator input is coalesced into infrequent backend writes while
// asynchronous push notifications and a periodic full poll are merged into
// the goal-state store without ever letting a stale notification overwrite
// a write the user just issued.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mattsoldo/lumctl/internal/api"
	"github.com/mattsoldo/lumctl/internal/entity"
	"github.com/mattsoldo/lumctl/internal/eventbus"
	"github.com/mattsoldo/lumctl/internal/push"
)

// DefaultPollInterval is the period of the reconciliation poller, the sole
// full-resync path and the only recovery from a missed push message.
const DefaultPollInterval = 2000 * time.Millisecond

// Backend is the REST surface the engine consumes.
type Backend interface {
	SetFixture(ctx context.Context, id int64, req api.ControlRequest) (*api.FixtureState, error)
	SetGroup(ctx context.Context, id int64, req api.ControlRequest) error
	ClearFixtureOverride(ctx context.Context, id int64) error
	AllOff(ctx context.Context) error
	Panic(ctx context.Context) error
	Fixtures(ctx context.Context) ([]api.Fixture, error)
	FixtureModels(ctx context.Context) ([]api.FixtureModel, error)
	Groups(ctx context.Context) ([]api.Group, error)
	GroupFixtures(ctx context.Context, id int64) ([]api.Fixture, error)
	FixtureState(ctx context.Context, id int64) (*api.FixtureState, error)
}

// ActionRecorder persists settled control actions for auditing.
type ActionRecorder interface {
	RecordWrite(id entity.ID, axis entity.Axis, value float64, err error)
	RecordBulk(action string, err error)
}

// Metrics counts engine activity.
type Metrics interface {
	RecordWrite(err error)
	RecordPushApplied()
	RecordPushDropped()
	RecordPoll(err error)
	RecordStaleSettle()
}

// Options configures an Engine. Zero values fall back to production
// defaults; tests inject a fake clock and scheduler.
type Options struct {
	Clock               Clock
	Scheduler           Scheduler
	QuietPeriod         time.Duration
	FixtureIntentWindow time.Duration
	GroupIntentWindow   time.Duration
	PollInterval        time.Duration
	WriteTimeout        time.Duration
	Recorder            ActionRecorder
	Metrics             Metrics
}

// Engine owns the goal-state store, intent cache, in-flight tracker,
// debounced dispatcher and the reconciliation poller.
type Engine struct {
	backend Backend
	clock   Clock

	store      *Store
	intents    *IntentCache
	tracker    *InFlightTracker
	dispatcher *Dispatcher

	pollInterval time.Duration
	writeTimeout time.Duration
	pollNow      chan struct{}

	recorder ActionRecorder
	metrics  Metrics
}

// New creates an engine around backend.
func New(backend Backend, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	e := &Engine{
		backend:      backend,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		pollNow:      make(chan struct{}, 1),
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
	}

	e.tracker = NewInFlightTracker()
	e.intents = NewIntentCache(opts.Clock, opts.FixtureIntentWindow, opts.GroupIntentWindow)
	e.store = NewStore(e.tracker, e.intents)
	e.dispatcher = NewDispatcher(opts.Scheduler, e.tracker, opts.QuietPeriod, e.performWrite, e.handleSettle)

	return e
}

// Store exposes the goal-state store for read-only consumers.
func (e *Engine) Store() *Store { return e.store }

// ReadDisplayed returns the value shown to the operator for id.
func (e *Engine) ReadDisplayed(id entity.ID) (DisplayState, bool) {
	return e.store.ReadDisplayed(id)
}

// SetBrightness records operator intent for a brightness value on the
// display scale (0-100) and schedules a debounced write.
func (e *Engine) SetBrightness(id entity.ID, display float64) {
	if display < 0 {
		display = 0
	} else if display > 100 {
		display = 100
	}

	v := display
	e.intents.Record(id, IntentFields{Brightness: &v})
	e.dispatcher.Schedule(id, entity.AxisBrightness, entity.DisplayToWire(display))
}

// SetColorTemp records operator intent for a color temperature in Kelvin
// and schedules a debounced write.
func (e *Engine) SetColorTemp(id entity.ID, kelvin int) {
	ct := kelvin
	e.intents.Record(id, IntentFields{ColorTempK: &ct})
	e.dispatcher.Schedule(id, entity.AxisColorTemp, float64(kelvin))
}

// performWrite is the dispatcher's network write. It runs on the timer
// goroutine after the quiet period elapses.
func (e *Engine) performWrite(id entity.ID, axis entity.Axis, value float64) (*RemotePatch, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()

	var req api.ControlRequest
	switch axis {
	case entity.AxisBrightness:
		v := value
		req.Brightness = &v
	case entity.AxisColorTemp:
		ct := int(value)
		req.ColorTemp = &ct
	}

	if id.Kind == entity.KindFixture {
		state, err := e.backend.SetFixture(ctx, id.Num, req)
		if err != nil {
			return nil, err
		}
		patch := patchFromState(state)
		return &patch, nil
	}

	if err := e.backend.SetGroup(ctx, id.Num, req); err != nil {
		return nil, err
	}

	// Group writes return no state; trust the written value as the goal.
	var patch RemotePatch
	switch axis {
	case entity.AxisBrightness:
		gb := entity.WireToInternal(value)
		patch.GoalBrightness = &gb
	case entity.AxisColorTemp:
		ct := int(value)
		patch.GoalColorTempK = &ct
	}
	return &patch, nil
}

// handleSettle runs after every write settles. Only the response of the
// latest write per entity may touch the store; superseded responses have
// already been overtaken by a newer payload.
func (e *Engine) handleSettle(id entity.ID, axis entity.Axis, value float64, patch *RemotePatch, latest bool, err error) {
	e.metrics.RecordWrite(err)
	e.recorder.RecordWrite(id, axis, value, err)

	if err != nil || patch == nil {
		return
	}
	if !latest {
		e.metrics.RecordStaleSettle()
		log.Debug().
			Stringer("entity", id).
			Str("axis", string(axis)).
			Msg("Ignoring superseded write response")
		return
	}

	e.store.ApplyLocal(id, *patch)
}

// HandlePush merges one push message. Events for a pending entity are
// silently dropped, not queued: the poller reconciles any divergence. Group
// events additionally fan out to member fixtures, gated per fixture so a
// write in flight for one member never blocks updates to its siblings.
func (e *Engine) HandlePush(msg push.Message) {
	switch msg.Type {
	case push.TypeFixtureStateChanged:
		id := entity.FixtureID(msg.FixtureID)
		if e.tracker.Has(id) {
			e.metrics.RecordPushDropped()
			return
		}
		if e.store.ApplyRemote(id, pushPatch(msg)) {
			e.metrics.RecordPushApplied()
		}

	case push.TypeGroupStateChanged:
		gid := entity.GroupID(msg.GroupID)
		if e.tracker.Has(gid) {
			e.metrics.RecordPushDropped()
			return
		}

		patch := pushPatch(msg)
		applied := e.store.ApplyRemote(gid, patch)

		// The backend reports a group change once, but state is tracked per
		// fixture.
		for _, fid := range e.store.GroupMembers(msg.GroupID) {
			fixID := entity.FixtureID(fid)
			if e.tracker.Has(fixID) {
				e.metrics.RecordPushDropped()
				continue
			}
			if e.store.ApplyRemote(fixID, patch) {
				applied = true
			}
		}
		if applied {
			e.metrics.RecordPushApplied()
		}
	}
}

// Bind subscribes the engine to push events on bus.
func (e *Engine) Bind(bus *eventbus.Bus) {
	handler := func(ev eventbus.Event) {
		if msg, ok := ev.Data.(push.Message); ok {
			e.HandlePush(msg)
		}
	}
	bus.Subscribe(eventbus.EventTypeFixtureState, handler)
	bus.Subscribe(eventbus.EventTypeGroupState, handler)
	bus.Subscribe(eventbus.EventTypeConnectivity, func(ev eventbus.Event) {
		if c, ok := ev.Data.(push.Connectivity); ok {
			log.Info().Bool("connected", c.Connected).Msg("Push channel connectivity changed")
		}
	})
}

// PollOnce refetches the full fixture/group topology and every fixture's
// state, then rebuilds the store from scratch. Entities with a still-fresh
// intent get the intent's value substituted for the fetched one, so a poll
// landing mid-drag does not snap the slider backward. Any fetch error
// aborts the poll and retains the previous state unchanged.
func (e *Engine) PollOnce(ctx context.Context) error {
	err := e.pollOnce(ctx)
	e.metrics.RecordPoll(err)
	if err != nil {
		log.Warn().Err(err).Msg("Reconciliation poll failed, keeping previous state")
	}
	return err
}

func (e *Engine) pollOnce(ctx context.Context) error {
	fixtures, err := e.backend.Fixtures(ctx)
	if err != nil {
		return err
	}
	models, err := e.backend.FixtureModels(ctx)
	if err != nil {
		return err
	}
	groups, err := e.backend.Groups(ctx)
	if err != nil {
		return err
	}

	tuningByModel := make(map[int64]bool, len(models))
	for _, m := range models {
		tuningByModel[m.ID] = m.ColorTuning
	}
	tunable := make(map[int64]bool, len(fixtures))
	for _, f := range fixtures {
		tunable[f.ID] = tuningByModel[f.ModelID]
	}

	members := make(map[int64][]int64, len(groups))
	for _, g := range groups {
		groupFixtures, err := e.backend.GroupFixtures(ctx, g.ID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(groupFixtures))
		for _, f := range groupFixtures {
			ids = append(ids, f.ID)
		}
		members[g.ID] = ids
	}

	states := make(map[entity.ID]ObservedState, len(fixtures)+len(groups))
	for _, f := range fixtures {
		state, err := e.backend.FixtureState(ctx, f.ID)
		if err != nil {
			return err
		}

		id := entity.FixtureID(f.ID)
		obs := observedFromState(state)
		e.substituteIntent(id, &obs)
		states[id] = obs
	}

	for gid, ids := range members {
		id := entity.GroupID(gid)
		obs := groupObserved(states, ids, tunable)
		e.substituteIntent(id, &obs)
		states[id] = obs
	}

	e.store.SetTopology(members, tunable)
	e.store.ReplaceAll(states)
	return nil
}

// substituteIntent overwrites the fetched goal fields with a still-fresh
// operator intent.
func (e *Engine) substituteIntent(id entity.ID, obs *ObservedState) {
	if e.intents.IsFresh(id, entity.AxisBrightness) {
		if rec, ok := e.intents.Get(id); ok && rec.Brightness != nil {
			obs.GoalBrightness = entity.DisplayToInternal(*rec.Brightness)
		}
	}
	if e.intents.IsFresh(id, entity.AxisColorTemp) {
		if rec, ok := e.intents.Get(id); ok && rec.ColorTempK != nil {
			ct := *rec.ColorTempK
			obs.GoalColorTempK = &ct
		}
	}
}

// AllOff turns every fixture off. Intents are cleared and an immediate poll
// is triggered regardless of outcome.
func (e *Engine) AllOff(ctx context.Context) error {
	err := e.backend.AllOff(ctx)
	e.recorder.RecordBulk("all_off", err)
	e.intents.ClearAll()
	e.TriggerPoll()
	if err != nil {
		log.Error().Err(err).Msg("All-off failed")
	}
	return err
}

// Panic triggers the panic bulk action. Same completion contract as AllOff.
func (e *Engine) Panic(ctx context.Context) error {
	err := e.backend.Panic(ctx)
	e.recorder.RecordBulk("panic", err)
	e.intents.ClearAll()
	e.TriggerPoll()
	if err != nil {
		log.Error().Err(err).Msg("Panic action failed")
	}
	return err
}

// ClearOverride clears an active manual override on a fixture and triggers
// a poll to pick up the reverted state.
func (e *Engine) ClearOverride(ctx context.Context, fixtureID int64) error {
	err := e.backend.ClearFixtureOverride(ctx, fixtureID)
	e.TriggerPoll()
	return err
}

// TriggerPoll requests an immediate reconciliation poll.
func (e *Engine) TriggerPoll() {
	select {
	case e.pollNow <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run polls immediately, then on every tick or trigger until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Dur("poll_interval", e.pollInterval).Msg("Reconciliation engine started")

	e.PollOnce(ctx)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciliation engine stopping")
			e.dispatcher.Stop()
			return nil

		case <-e.pollNow:
			e.PollOnce(ctx)

		case <-ticker.C:
			e.PollOnce(ctx)
		}
	}
}

// pushPatch converts a push message into a store patch. Both goal fields of
// the payload land together or not at all.
func pushPatch(msg push.Message) RemotePatch {
	b := entity.WireToInternal(msg.Brightness)
	patch := RemotePatch{
		GoalBrightness:    &b,
		CurrentBrightness: &b,
	}
	if msg.ColorTemp != nil {
		ct := *msg.ColorTemp
		patch.GoalColorTempK = &ct
		patch.CurrentColorTempK = &ct
	}
	return patch
}

// patchFromState converts a full backend fixture state into a patch.
func patchFromState(st *api.FixtureState) RemotePatch {
	gb := entity.WireToInternal(st.GoalBrightness)
	cb := entity.WireToInternal(st.CurrentBrightness)
	on := st.IsOn
	patch := RemotePatch{
		GoalBrightness:    &gb,
		CurrentBrightness: &cb,
		On:                &on,
	}
	if st.GoalColorTemp != nil {
		ct := *st.GoalColorTemp
		patch.GoalColorTempK = &ct
	}
	if st.CurrentColorTemp != nil {
		ct := *st.CurrentColorTemp
		patch.CurrentColorTempK = &ct
	}
	return patch
}

// observedFromState converts a backend fixture state into an ObservedState.
func observedFromState(st *api.FixtureState) ObservedState {
	obs := ObservedState{
		GoalBrightness:    entity.WireToInternal(st.GoalBrightness),
		CurrentBrightness: entity.WireToInternal(st.CurrentBrightness),
		On:                st.IsOn,
		OverrideActive:    st.OverrideActive,
	}
	if st.GoalColorTemp != nil {
		ct := *st.GoalColorTemp
		obs.GoalColorTempK = &ct
	}
	if st.CurrentColorTemp != nil {
		ct := *st.CurrentColorTemp
		obs.CurrentColorTempK = &ct
	}
	if st.OverrideExpiresAt != nil {
		sec := *st.OverrideExpiresAt
		t := time.Unix(int64(sec), int64((sec-float64(int64(sec)))*1e9)).UTC()
		obs.OverrideExpiresAt = &t
	}
	return obs
}

// groupObserved derives a group's ObservedState from its member fixtures.
func groupObserved(states map[entity.ID]ObservedState, memberIDs []int64, tunable map[int64]bool) ObservedState {
	var obs ObservedState
	var briGoal, briCur, n int
	var ctSum, ctN int

	for _, fid := range memberIDs {
		st, ok := states[entity.FixtureID(fid)]
		if !ok {
			continue
		}
		briGoal += st.GoalBrightness
		briCur += st.CurrentBrightness
		n++
		if st.On {
			obs.On = true
		}
		if tunable[fid] && st.GoalColorTempK != nil {
			ctSum += *st.GoalColorTempK
			ctN++
		}
	}

	if n > 0 {
		obs.GoalBrightness = briGoal / n
		obs.CurrentBrightness = briCur / n
	}
	if ctN > 0 {
		ct := ctSum / ctN
		obs.GoalColorTempK = &ct
	}
	return obs
}

type nopRecorder struct{}

func (nopRecorder) RecordWrite(entity.ID, entity.Axis, float64, error) {}
func (nopRecorder) RecordBulk(string, error)                           {}

type nopMetrics struct{}

func (nopMetrics) RecordWrite(error)  {}
func (nopMetrics) RecordPushApplied() {}
func (nopMetrics) RecordPushDropped() {}
func (nopMetrics) RecordPoll(error)   {}
func (nopMetrics) RecordStaleSettle() {}
