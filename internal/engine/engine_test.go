package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mattsoldo/lumctl/internal/api"
	"github.com/mattsoldo/lumctl/internal/entity"
	"github.com/mattsoldo/lumctl/internal/push"
)

type fixtureWrite struct {
	id  int64
	req api.ControlRequest
}

type fakeBackend struct {
	mu sync.Mutex

	fixtures      []api.Fixture
	models        []api.FixtureModel
	groups        []api.Group
	groupFixtures map[int64][]api.Fixture
	states        map[int64]api.FixtureState

	fixtureWrites []fixtureWrite
	groupWrites   []fixtureWrite
	allOffCalls   int
	panicCalls    int
	clearedIDs    []int64

	fetchErr     error
	onSetFixture func(id int64, req api.ControlRequest)
}

func (b *fakeBackend) SetFixture(_ context.Context, id int64, req api.ControlRequest) (*api.FixtureState, error) {
	b.mu.Lock()
	b.fixtureWrites = append(b.fixtureWrites, fixtureWrite{id: id, req: req})
	hook := b.onSetFixture
	state := b.states[id]
	b.mu.Unlock()

	if hook != nil {
		hook(id, req)
	}

	state.FixtureID = id
	if req.Brightness != nil {
		state.GoalBrightness = *req.Brightness
		state.IsOn = *req.Brightness > 0
	}
	if req.ColorTemp != nil {
		ct := *req.ColorTemp
		state.GoalColorTemp = &ct
	}
	return &state, nil
}

func (b *fakeBackend) SetGroup(_ context.Context, id int64, req api.ControlRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groupWrites = append(b.groupWrites, fixtureWrite{id: id, req: req})
	return nil
}

func (b *fakeBackend) ClearFixtureOverride(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearedIDs = append(b.clearedIDs, id)
	return nil
}

func (b *fakeBackend) AllOff(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allOffCalls++
	return nil
}

func (b *fakeBackend) Panic(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panicCalls++
	return nil
}

func (b *fakeBackend) Fixtures(context.Context) ([]api.Fixture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fixtures, b.fetchErr
}

func (b *fakeBackend) FixtureModels(context.Context) ([]api.FixtureModel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.models, b.fetchErr
}

func (b *fakeBackend) Groups(context.Context) ([]api.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.groups, b.fetchErr
}

func (b *fakeBackend) GroupFixtures(_ context.Context, id int64) ([]api.Fixture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.groupFixtures[id], b.fetchErr
}

func (b *fakeBackend) FixtureState(_ context.Context, id int64) (*api.FixtureState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	state := b.states[id]
	state.FixtureID = id
	return &state, nil
}

// threeFixtureBackend builds a backend with one group of three
// non-color-tunable fixtures, all at zero brightness.
func threeFixtureBackend() *fakeBackend {
	return &fakeBackend{
		fixtures: []api.Fixture{
			{ID: 1, Name: "left", ModelID: 1},
			{ID: 2, Name: "middle", ModelID: 1},
			{ID: 3, Name: "right", ModelID: 1},
		},
		models: []api.FixtureModel{{ID: 1, Name: "spot", ColorTuning: false}},
		groups: []api.Group{{ID: 1, Name: "living room"}},
		groupFixtures: map[int64][]api.Fixture{
			1: {{ID: 1, ModelID: 1}, {ID: 2, ModelID: 1}, {ID: 3, ModelID: 1}},
		},
		states: map[int64]api.FixtureState{1: {}, 2: {}, 3: {}},
	}
}

func newTestEngine(backend Backend) (*Engine, *virtualTime) {
	vt := newVirtualTime()
	e := New(backend, Options{Clock: vt, Scheduler: vt})
	return e, vt
}

func TestSliderDragProducesSingleWrite(t *testing.T) {
	backend := threeFixtureBackend()
	e, vt := newTestEngine(backend)
	id := entity.FixtureID(1)

	// Drag from 0 to 80: a burst of events inside the debounce window
	for _, v := range []float64{100, 100, 100, 80} {
		e.SetBrightness(id, v)
		vt.Advance(40 * time.Millisecond)
	}
	vt.Advance(60 * time.Millisecond)

	if len(backend.fixtureWrites) != 1 {
		t.Fatalf("POSTs = %d, want exactly 1", len(backend.fixtureWrites))
	}
	w := backend.fixtureWrites[0]
	if w.id != 1 || w.req.Brightness == nil || *w.req.Brightness != 0.80 {
		t.Errorf("write = %+v, want brightness 0.80 for fixture 1", w)
	}
}

func TestPushWhilePendingIsDropped(t *testing.T) {
	backend := threeFixtureBackend()
	e, vt := newTestEngine(backend)
	id := entity.FixtureID(1)

	// A contradictory push arrives while our own write is on the wire
	backend.onSetFixture = func(int64, api.ControlRequest) {
		e.HandlePush(push.Message{Type: push.TypeFixtureStateChanged, FixtureID: 1, Brightness: 0.99})
	}

	e.SetBrightness(id, 40)
	vt.Advance(60 * time.Millisecond)

	st, ok := e.Store().Read(id)
	if !ok {
		t.Fatal("fixture state missing")
	}
	if st.GoalBrightness == 990 {
		t.Error("stale push overwrote the in-flight write")
	}
	if st.GoalBrightness != 400 {
		t.Errorf("GoalBrightness = %d, want 400 from the settled write", st.GoalBrightness)
	}
}

func TestPushWhileIdleAppliesPayload(t *testing.T) {
	backend := threeFixtureBackend()
	e, _ := newTestEngine(backend)
	id := entity.FixtureID(2)

	e.HandlePush(push.Message{Type: push.TypeFixtureStateChanged, FixtureID: 2, Brightness: 0.5, ColorTemp: iptr(3000)})

	st, ok := e.Store().Read(id)
	if !ok {
		t.Fatal("fixture state missing")
	}
	if st.GoalBrightness != 500 || st.CurrentBrightness != 500 {
		t.Errorf("brightness = %d/%d, want 500/500", st.GoalBrightness, st.CurrentBrightness)
	}
	if st.GoalColorTempK == nil || *st.GoalColorTempK != 3000 {
		t.Errorf("GoalColorTempK = %v, want 3000", st.GoalColorTempK)
	}
}

func TestPollKeepsFreshIntent(t *testing.T) {
	backend := threeFixtureBackend()
	e, vt := newTestEngine(backend)
	id := entity.FixtureID(1)

	// Poll lands 10ms after the user set 40, with the server still at 0
	e.SetBrightness(id, 40)
	vt.Advance(10 * time.Millisecond)

	if err := e.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	disp, ok := e.ReadDisplayed(id)
	if !ok {
		t.Fatal("fixture missing")
	}
	if disp.Brightness != 40 {
		t.Errorf("displayed = %v, want intent value 40, not the server's 0", disp.Brightness)
	}
	st, _ := e.Store().Read(id)
	if st.GoalBrightness != 400 {
		t.Errorf("stored goal = %d, want substituted 400", st.GoalBrightness)
	}
}

func TestGroupIntentFallsBackToFixtureAverage(t *testing.T) {
	backend := threeFixtureBackend()
	e, vt := newTestEngine(backend)
	gid := entity.GroupID(1)

	if err := e.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	e.SetBrightness(gid, 60)

	disp, ok := e.ReadDisplayed(gid)
	if !ok {
		t.Fatal("group missing")
	}
	if disp.Brightness != 60 {
		t.Errorf("displayed = %v immediately after input, want 60", disp.Brightness)
	}

	// The write fires, but no fixture ever corroborates the new level
	vt.Advance(60 * time.Millisecond)
	if len(backend.groupWrites) != 1 {
		t.Fatalf("group POSTs = %d, want 1", len(backend.groupWrites))
	}
	disp, _ = e.ReadDisplayed(gid)
	if disp.Brightness != 60 {
		t.Errorf("displayed = %v inside the group window, want 60", disp.Brightness)
	}

	// After the 5s group window the fixture-derived average wins again
	vt.Advance(5 * time.Second)
	disp, _ = e.ReadDisplayed(gid)
	if disp.Brightness != 0 {
		t.Errorf("displayed = %v after window expiry, want fixture average 0", disp.Brightness)
	}
}

func TestGroupPushFansOutPerFixture(t *testing.T) {
	backend := threeFixtureBackend()
	e, _ := newTestEngine(backend)

	if err := e.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	// A group write in flight for fixture 2 must not block updates to its
	// siblings.
	e.tracker.Add(entity.FixtureID(2))
	e.HandlePush(push.Message{Type: push.TypeGroupStateChanged, GroupID: 1, Brightness: 0.8})
	e.tracker.Remove(entity.FixtureID(2))

	for _, tc := range []struct {
		id   entity.ID
		want int
	}{
		{entity.FixtureID(1), 800},
		{entity.FixtureID(2), 0},
		{entity.FixtureID(3), 800},
		{entity.GroupID(1), 800},
	} {
		st, ok := e.Store().Read(tc.id)
		if !ok {
			t.Fatalf("%s missing", tc.id)
		}
		if st.GoalBrightness != tc.want {
			t.Errorf("%s GoalBrightness = %d, want %d", tc.id, st.GoalBrightness, tc.want)
		}
	}
}

func TestGroupPushDroppedWhileGroupPending(t *testing.T) {
	backend := threeFixtureBackend()
	e, _ := newTestEngine(backend)

	if err := e.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	e.tracker.Add(entity.GroupID(1))
	e.HandlePush(push.Message{Type: push.TypeGroupStateChanged, GroupID: 1, Brightness: 0.8})
	e.tracker.Remove(entity.GroupID(1))

	st, _ := e.Store().Read(entity.FixtureID(1))
	if st.GoalBrightness != 0 {
		t.Errorf("fixture updated by a push dropped at the group gate: %d", st.GoalBrightness)
	}
}

func TestAllOffClearsIntentsAndTriggersPoll(t *testing.T) {
	backend := threeFixtureBackend()
	e, _ := newTestEngine(backend)

	e.SetBrightness(entity.FixtureID(1), 40)

	if err := e.AllOff(context.Background()); err != nil {
		t.Fatalf("AllOff: %v", err)
	}

	if backend.allOffCalls != 1 {
		t.Errorf("allOffCalls = %d, want 1", backend.allOffCalls)
	}
	if e.intents.IsFresh(entity.FixtureID(1), entity.AxisBrightness) {
		t.Error("intent survived the bulk action")
	}
	if len(e.pollNow) != 1 {
		t.Error("no immediate poll was triggered")
	}
}

func TestPollErrorRetainsPreviousState(t *testing.T) {
	backend := threeFixtureBackend()
	backend.states[1] = api.FixtureState{GoalBrightness: 0.3, CurrentBrightness: 0.3, IsOn: true}
	e, _ := newTestEngine(backend)

	if err := e.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	backend.mu.Lock()
	backend.fetchErr = errors.New("backend unreachable")
	backend.mu.Unlock()

	if err := e.PollOnce(context.Background()); err == nil {
		t.Fatal("PollOnce should fail when the backend is unreachable")
	}

	st, ok := e.Store().Read(entity.FixtureID(1))
	if !ok || st.GoalBrightness != 300 {
		t.Errorf("state after failed poll = %+v, want retained goal 300", st)
	}
}

func TestClearOverrideTriggersPoll(t *testing.T) {
	backend := threeFixtureBackend()
	e, _ := newTestEngine(backend)

	if err := e.ClearOverride(context.Background(), 2); err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}

	if len(backend.clearedIDs) != 1 || backend.clearedIDs[0] != 2 {
		t.Errorf("clearedIDs = %v, want [2]", backend.clearedIDs)
	}
	if len(e.pollNow) != 1 {
		t.Error("no immediate poll was triggered")
	}
}
