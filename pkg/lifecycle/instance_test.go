package lifecycle_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/perception/pkg/docstore"
	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("connection refused")

type fakeStore struct {
	mu        sync.Mutex
	runs      map[string]model.Run
	creates   int
	updates   int
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]model.Run)}
}

func (f *fakeStore) CreateRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return fmt.Errorf("creating run: %w: %w", docstore.ErrUnavailable, f.createErr)
	}

	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	}

	run.Rev = 1
	f.creates++
	f.runs[run.ID] = *run

	return nil
}

func (f *fakeStore) UpdateRun(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return fmt.Errorf("updating run: %w: %w", docstore.ErrUnavailable, f.updateErr)
	}

	cur, ok := f.runs[run.ID]
	if !ok {
		return docstore.ErrNotFound
	}

	if cur.Rev != run.Rev {
		return docstore.ErrConflict
	}

	run.Rev++
	f.updates++
	f.runs[run.ID] = *run

	return nil
}

func (f *fakeStore) all() []model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}

	return out
}

func (f *fakeStore) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createErr = err
}

// stepClock advances by 100ms on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(100 * time.Millisecond)

	return c.now
}

type memoryChannels struct {
	mu       sync.Mutex
	channels []*timing.MemoryChannel
}

func (m *memoryChannels) OpenChannel(_ context.Context, _ string) (timing.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := timing.NewMemoryChannel()
	m.channels = append(m.channels, ch)

	return ch, nil
}

func (m *memoryChannels) last() *timing.MemoryChannel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.channels[len(m.channels)-1]
}

type harness struct {
	store    *fakeStore
	channels *memoryChannels
	adapter  lifecycle.Adapter
}

func newHarness() *harness {
	h := &harness{
		store:    newFakeStore(),
		channels: &memoryChannels{},
	}

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	h.adapter = lifecycle.Adapter{
		Store:    h.store,
		Channels: h.channels,
		Now:      clock.Now,
	}

	return h
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newInstance(h *harness, mode timing.Mode) *lifecycle.Instance {
	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"

	return lifecycle.NewInstance(
		testLogger(),
		"inst-1",
		model.Test{ID: "t1", Source: "<p>hello</p>"},
		&ua,
		mode,
		h.adapter,
	)
}

func toggle(t *testing.T, inst *lifecycle.Instance, want lifecycle.State) lifecycle.Snapshot {
	t.Helper()

	snap, err := inst.Toggle(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, snap.State)

	return snap
}

func TestInstance_UserModeCycle(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeUser)

	assert.Equal(t, lifecycle.StateIdle, inst.State())

	snap := toggle(t, inst, lifecycle.StateReady)
	require.NotNil(t, snap.Run)
	assert.Equal(t, "t1", snap.Run.TestID)
	assert.Nil(t, snap.Run.StartTime)
	assert.False(t, snap.Embedded)

	snap = toggle(t, inst, lifecycle.StateRunning)
	require.NotNil(t, snap.Run.StartTime)
	assert.True(t, snap.Embedded)

	content, ok := inst.Frame().Current()
	require.True(t, ok)
	assert.Contains(t, content.Markup, "<p>hello</p>")

	snap = toggle(t, inst, lifecycle.StateDone)
	assert.True(t, snap.Persisted)
	assert.False(t, snap.Embedded)

	runs := h.store.all()
	require.Len(t, runs, 1)

	delta, ok := runs[0].Delta()
	require.True(t, ok)
	assert.InDelta(t, 100, delta, 0.001)
	assert.Nil(t, runs[0].MeasurementPayload)

	snap = toggle(t, inst, lifecycle.StateReady)
	assert.False(t, snap.Persisted)
	assert.Empty(t, snap.Run.ID, "a fresh scaffold is allocated")

	toggle(t, inst, lifecycle.StateRunning)
	toggle(t, inst, lifecycle.StateDone)

	assert.Len(t, h.store.all(), 2, "re-running creates a new run")
}

func TestInstance_ResetPersistsNothing(t *testing.T) {
	for _, steps := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("after %d toggles", steps), func(t *testing.T) {
			h := newHarness()
			inst := newInstance(h, timing.ModeContent)

			for i := 0; i < steps; i++ {
				_, err := inst.Toggle(context.Background())
				require.NoError(t, err)
			}

			snap, err := inst.Reset(context.Background())
			require.NoError(t, err)

			if steps == 0 {
				assert.Equal(t, lifecycle.StateIdle, snap.State)
				assert.Nil(t, snap.Run)
			} else {
				assert.Equal(t, lifecycle.StateReady, snap.State)
				require.NotNil(t, snap.Run)
				assert.Nil(t, snap.Run.StartTime)
			}

			assert.False(t, snap.Embedded)
			assert.Empty(t, h.store.all())
		})
	}
}

func TestInstance_ResetAfterDoneKeepsPersistedRun(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeUser)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)
	toggle(t, inst, lifecycle.StateDone)

	snap, err := inst.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateReady, snap.State)

	assert.Len(t, h.store.all(), 1)
}

func TestInstance_PersistFailureHoldsState(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeUser)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)

	h.store.setCreateErr(errStoreDown)

	snap, err := inst.Toggle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Equal(t, lifecycle.StateRunning, snap.State)
	assert.False(t, snap.Persisted)
	require.NotNil(t, snap.Run.StopTime)

	start, stop := *snap.Run.StartTime, *snap.Run.StopTime

	h.store.setCreateErr(nil)

	snap = toggle(t, inst, lifecycle.StateDone)
	assert.True(t, snap.Persisted)

	runs := h.store.all()
	require.Len(t, runs, 1)
	assert.True(t, start.Equal(*runs[0].StartTime))
	assert.True(t, stop.Equal(*runs[0].StopTime), "retry persists the original stamps")
}

func TestInstance_ContentModePayloadMerged(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeContent)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)

	ch := h.channels.last()

	// Payload posted before the stop instruction is not accepted.
	assert.False(t, ch.Post(json.RawMessage(`{"early":1}`)))

	snap := toggle(t, inst, lifecycle.StateDone)
	assert.True(t, snap.Persisted)
	assert.True(t, snap.Embedded, "content stays until it reports")

	in := <-ch.Instructions()
	assert.Equal(t, timing.InstructionStop, in.Type)

	require.True(t, ch.Post(json.RawMessage(`{"paint_ms":42}`)))

	runs := h.store.all()
	require.Len(t, runs, 1)
	assert.JSONEq(t, `{"paint_ms":42}`, string(runs[0].MeasurementPayload))
	assert.Equal(t, int64(2), runs[0].Rev)
	assert.Equal(t, 1, h.store.updates)

	snap = inst.Snapshot()
	assert.False(t, snap.Embedded, "reporting content is torn down")
	assert.JSONEq(t, `{"paint_ms":42}`, string(snap.Run.MeasurementPayload))

	assert.False(t, ch.Post(json.RawMessage(`{"late":1}`)), "channel closed after payload")
}

func TestInstance_ContentModePayloadHeldUntilPersisted(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeContent)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)

	h.store.setCreateErr(errStoreDown)

	_, err := inst.Toggle(context.Background())
	require.Error(t, err)

	ch := h.channels.last()
	require.True(t, ch.Post(json.RawMessage(`{"paint_ms":7}`)))

	assert.Empty(t, h.store.all())

	h.store.setCreateErr(nil)
	toggle(t, inst, lifecycle.StateDone)

	runs := h.store.all()
	require.Len(t, runs, 1)
	assert.JSONEq(t, `{"paint_ms":7}`, string(runs[0].MeasurementPayload))
	assert.Equal(t, 0, h.store.updates, "held payload goes out with the first write")
	assert.False(t, inst.Snapshot().Embedded)
}

func TestInstance_PersistRetrySendsStopOnce(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeContent)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)

	h.store.setCreateErr(errStoreDown)

	_, err := inst.Toggle(context.Background())
	require.Error(t, err)

	ch := h.channels.last()
	in := <-ch.Instructions()
	assert.Equal(t, timing.InstructionStop, in.Type)
	require.True(t, ch.Post(json.RawMessage(`{"paint_ms":7}`)))

	_, err = inst.Toggle(context.Background())
	require.Error(t, err)

	select {
	case in := <-ch.Instructions():
		t.Fatalf("unexpected second instruction %q", in.Type)
	default:
	}

	assert.False(t, ch.Post(json.RawMessage(`{"paint_ms":8}`)), "held payload is not replaced")

	h.store.setCreateErr(nil)
	toggle(t, inst, lifecycle.StateDone)

	runs := h.store.all()
	require.Len(t, runs, 1)
	assert.JSONEq(t, `{"paint_ms":7}`, string(runs[0].MeasurementPayload))
}

func TestInstance_StampsAtMicrosecondPrecision(t *testing.T) {
	h := newHarness()
	h.adapter.Now = func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	}

	inst := newInstance(h, timing.ModeUser)

	toggle(t, inst, lifecycle.StateReady)
	snap := toggle(t, inst, lifecycle.StateRunning)

	require.NotNil(t, snap.Run.StartTime)
	assert.Equal(t, 123456000, snap.Run.StartTime.Nanosecond())
}

func TestInstance_PayloadUpdateFailureKeepsTiming(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeContent)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)
	toggle(t, inst, lifecycle.StateDone)

	h.store.mu.Lock()
	h.store.updateErr = errStoreDown
	h.store.mu.Unlock()

	ch := h.channels.last()
	<-ch.Instructions()
	require.True(t, ch.Post(json.RawMessage(`{"paint_ms":9}`)))

	runs := h.store.all()
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].MeasurementPayload)
	assert.False(t, runs[0].InFlight())

	snap := inst.Snapshot()
	assert.Equal(t, lifecycle.StateDone, snap.State)
	assert.Nil(t, snap.Run.MeasurementPayload)
}

func TestInstance_StalePayloadAfterResetDropped(t *testing.T) {
	h := newHarness()
	inst := newInstance(h, timing.ModeContent)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)
	toggle(t, inst, lifecycle.StateDone)

	old := h.channels.last()

	_, err := inst.Reset(context.Background())
	require.NoError(t, err)

	assert.False(t, old.Post(json.RawMessage(`{"paint_ms":1}`)))
	assert.Equal(t, 0, h.store.updates)
}

func TestInstance_ContentModeWithoutOpener(t *testing.T) {
	h := newHarness()
	h.adapter.Channels = nil

	inst := newInstance(h, timing.ModeContent)
	toggle(t, inst, lifecycle.StateReady)

	snap, err := inst.Toggle(context.Background())
	require.ErrorIs(t, err, lifecycle.ErrNoChannelOpener)
	assert.Equal(t, lifecycle.StateReady, snap.State)
}

type recordingEmbedder struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmbedder) Embed(_ context.Context, id string, c timing.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "embed:"+id+":"+c.EmbedURL())

	return nil
}

func (r *recordingEmbedder) Teardown(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "teardown:"+id)

	return nil
}

func TestInstance_EmbedderNotified(t *testing.T) {
	h := newHarness()
	emb := &recordingEmbedder{}
	h.adapter.Embedder = emb

	inst := lifecycle.NewInstance(
		testLogger(), "inst-2",
		model.Test{ID: "t2", URL: "https://example.com/page"},
		nil, timing.ModeUser, h.adapter,
	)

	toggle(t, inst, lifecycle.StateReady)
	toggle(t, inst, lifecycle.StateRunning)
	toggle(t, inst, lifecycle.StateDone)

	assert.Equal(t, []string{
		"embed:inst-2:https://example.com/page",
		"teardown:inst-2",
	}, emb.events)
}
