package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKPLab/CARE-broker/internal/clock"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/hub/hubtest"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/skills"
)

type fakeQuotas struct {
	mu       sync.Mutex
	exceeded bool
	commits  [][2]string
	released []string
}

func (q *fakeQuotas) CheckQuota(string, quota.Kind, bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exceeded
}

func (q *fakeQuotas) CommitJob(_, reservationID, taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commits = append(q.commits, [2]string{reservationID, taskID})
	return true
}

func (q *fakeQuotas) ReleaseJob(_, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
}

func (q *fakeQuotas) Role(string) string { return "guest" }

func (q *fakeQuotas) setExceeded(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exceeded = v
}

func (q *fakeQuotas) releasedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.released...)
}

type fixture struct {
	m        *Manager
	hub      *hub.Hub
	skills   *skills.Registry
	quotas   *fakeQuotas
	store    *MemoryStore
	clock    *clock.Fake
	req      *hubtest.Recorder
	provider *hubtest.Recorder
}

type fixtureOption func(*Options)

func withKiller(maxDuration time.Duration) fixtureOption {
	return func(o *Options) {
		o.Killer = KillerConfig{Enabled: true, Interval: time.Second, MaxDuration: maxDuration}
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	h := hub.New()
	clk := clock.NewFake(time.Unix(1000, 0))
	reg := skills.NewRegistry(skills.Options{Emitter: h, Clock: clk, Pick: func(int) int { return 0 }})
	f := &fixture{
		hub:      h,
		skills:   reg,
		quotas:   &fakeQuotas{},
		store:    NewMemoryStore(),
		clock:    clk,
		req:      hubtest.NewRecorder(),
		provider: hubtest.NewRecorder(),
	}
	h.Attach("req", f.req)
	h.Attach("prov", f.provider)

	o := Options{
		Store:       f.store,
		Emitter:     h,
		Quotas:      f.quotas,
		Router:      reg,
		Clock:       clk,
		ScrubMaxAge: time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.m = NewManager(o)
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) register(t *testing.T, sessionID, raw string) {
	t.Helper()
	cfg, err := protocol.ParseSkillConfig(json.RawMessage(raw))
	require.NoError(t, err)
	require.NoError(t, f.skills.Register(sessionID, cfg))
}

func (f *fixture) create(t *testing.T, config string) Task {
	t.Helper()
	if !f.skills.Available("prov", "echo") {
		f.register(t, "prov", `{"name":"echo"}`)
	}
	req := protocol.SkillRequest{
		ID:       json.RawMessage(`7`),
		ClientID: json.RawMessage(`"c1"`),
		Name:     "echo",
		Data:     json.RawMessage(`{"text":"hi"}`),
	}
	if config != "" {
		req.Config = json.RawMessage(config)
	}
	task, err := f.m.Create(CreateRequest{
		RequesterID:   "req",
		ProviderID:    "prov",
		ReservationID: "res-1",
		Request:       req,
	})
	require.NoError(t, err)
	return task
}

func result(taskID, body string) protocol.TaskResult {
	var res protocol.TaskResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		panic(err)
	}
	res.ID = protocol.StringID(taskID)
	return res
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestCreateDispatchesToProvider(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	assert.Equal(t, StatusCreated, task.Status)
	requests := f.provider.Events(protocol.EventTaskRequest)
	require.Len(t, requests, 1)
	got := decode[protocol.TaskRequest](t, requests[0])
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "echo", got.Name)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Data))
	assert.Equal(t, [][2]string{{"res-1", task.ID}}, f.quotas.commits)

	f.m.Flush()
	stored, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, stored.Status)
}

func TestCreateRejectsIncompleteRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Create(CreateRequest{RequesterID: "req", ProviderID: "prov"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.m.Create(CreateRequest{RequesterID: "req", Request: protocol.SkillRequest{Name: "echo"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFinishDeliversResultsWithStats(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, `{"return_stats":true}`)
	f.clock.Advance(1500 * time.Millisecond)

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{"text":"hi"},"stats":{"tokens":3}}`)))

	results := f.req.Events(protocol.EventSkillResults)
	require.Len(t, results, 1)
	out := decode[protocol.SkillResults](t, results[0])
	assert.JSONEq(t, `7`, string(out.ID))
	assert.JSONEq(t, `"c1"`, string(out.ClientID))
	assert.JSONEq(t, `{"text":"hi"}`, string(out.Data))
	require.NotNil(t, out.Stats)
	assert.Equal(t, 1.5, out.Stats.Duration)
	assert.Equal(t, "prov", out.Stats.Host)
	assert.JSONEq(t, `{"tokens":3}`, string(out.Stats.Result))
	assert.Equal(t, []string{task.ID}, f.quotas.releasedIDs())

	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "prov", got.FinishedBy)
}

func TestDuplicateFinalizeIsNoop(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{"n":1}}`)))
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{"n":2}}`)))
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"error":"late"}`)))

	assert.Len(t, f.req.Events(protocol.EventSkillResults), 1)
	assert.Empty(t, f.req.ErrorCodes())
	assert.Len(t, f.quotas.releasedIDs(), 1)
}

func TestUpdateUnknownTask(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	assert.ErrorIs(t, f.m.Update("prov", result("missing", `{"data":{}}`)), ErrTaskNotFound)
	assert.ErrorIs(t, f.m.Update("other", result(task.ID, `{"data":{}}`)), ErrTaskNotFound)
	assert.Empty(t, f.req.Events(protocol.EventSkillResults))
}

func TestUpdateErrorReportsExecutionError(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"error":{"msg":"boom"}}`)))

	errs := f.req.Events(protocol.EventError)
	require.Len(t, errs, 1)
	payload := decode[protocol.ErrorPayload](t, errs[0])
	assert.Equal(t, protocol.CodeExecutionError, payload.Code)
	assert.JSONEq(t, `{"msg":"boom"}`, string(payload.Error))
	assert.JSONEq(t, `7`, string(payload.ID))

	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, []string{task.ID}, f.quotas.releasedIDs())
}

func TestStatusUpdatesForwardedWhenRequested(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, `{"status":true}`)

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"loading","data":{"p":1}}`)))
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"running","data":{"p":2}}`)))

	statuses := f.req.Events(protocol.EventSkillStatus)
	require.Len(t, statuses, 2)
	second := decode[protocol.SkillStatus](t, statuses[1])
	require.Len(t, second.Data, 1)
	assert.Equal(t, "running", second.Data[0].Status)
	assert.JSONEq(t, `{"p":2}`, string(second.Data[0].Data))

	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Len(t, got.Updates, 2)
}

func TestStatusUpdatesNotForwardedByDefault(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"loading"}`)))

	assert.Empty(t, f.req.Events(protocol.EventSkillStatus))
	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, Status("loading"), got.Status)
}

func TestStatusWindowSkipsStaleEntries(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, `{"status":5}`)

	f.quotas.setExceeded(true)
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"first"}`)))
	assert.Empty(t, f.req.Events(protocol.EventSkillStatus))

	f.clock.Advance(10 * time.Second)
	f.quotas.setExceeded(false)
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"second"}`)))

	statuses := f.req.Events(protocol.EventSkillStatus)
	require.Len(t, statuses, 1)
	payload := decode[protocol.SkillStatus](t, statuses[0])
	require.Len(t, payload.Data, 1)
	assert.Equal(t, "second", payload.Data[0].Status)
}

func TestProviderCannotReportReservedStatus(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"status":"aborted"}`)))

	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Empty(t, f.quotas.releasedIDs())
}

func TestMinDelayDeliversOnce(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, `{"min_delay":2}`)
	f.clock.Advance(500 * time.Millisecond)

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{}}`)))
	assert.Empty(t, f.req.Events(protocol.EventSkillResults))

	f.clock.Advance(time.Second)
	assert.Empty(t, f.req.Events(protocol.EventSkillResults))

	f.clock.Advance(500 * time.Millisecond)
	assert.Len(t, f.req.Events(protocol.EventSkillResults), 1)

	f.clock.Advance(time.Minute)
	assert.Len(t, f.req.Events(protocol.EventSkillResults), 1)
	assert.Zero(t, f.m.delays.Pending())
}

func TestMinDelayAlreadyElapsedDeliversImmediately(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, `{"min_delay":1}`)
	f.clock.Advance(3 * time.Second)

	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{}}`)))
	assert.Len(t, f.req.Events(protocol.EventSkillResults), 1)
}

func TestSimulateFinishesWithExample(t *testing.T) {
	f := newFixture(t)
	f.register(t, "prov", `{"name":"echo","output":{"example":{"text":"example"}}}`)

	task := f.create(t, `{"simulate":true}`)

	assert.Empty(t, f.provider.Events(protocol.EventTaskRequest))
	results := f.req.Events(protocol.EventSkillResults)
	require.Len(t, results, 1)
	out := decode[protocol.SkillResults](t, results[0])
	assert.JSONEq(t, `{"text":"example"}`, string(out.Data))
	assert.Equal(t, []string{task.ID}, f.quotas.releasedIDs())
}

func TestSimulateDelayIsScheduled(t *testing.T) {
	f := newFixture(t)
	f.register(t, "prov", `{"name":"echo"}`)

	task := f.create(t, `{"simulate":3}`)
	assert.Empty(t, f.req.Events(protocol.EventSkillResults))

	f.clock.Advance(3 * time.Second)
	results := f.req.Events(protocol.EventSkillResults)
	require.Len(t, results, 1)
	out := decode[protocol.SkillResults](t, results[0])
	assert.JSONEq(t, `{}`, string(out.Data))

	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
}

func TestAbortByUser(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "prov", `{"name":"echo"}`)
		f.create(t, "")

		assert.True(t, f.m.AbortByUser("req", json.RawMessage(`7`)))
		assert.Equal(t, []protocol.Code{protocol.CodeAbortUnsupported}, f.req.ErrorCodes())
	})

	t.Run("accepted then terminal", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "prov", `{"name":"echo","features":["kill"]}`)
		task := f.create(t, "")

		assert.True(t, f.m.AbortByUser("req", json.RawMessage(`"7"`)))
		kills := f.provider.Events(protocol.EventTaskKill)
		require.Len(t, kills, 1)
		assert.Equal(t, task.ID, decode[protocol.TaskKill](t, kills[0]).ID)

		assert.True(t, f.m.AbortByUser("req", json.RawMessage(`7`)))
		assert.Equal(t, []protocol.Code{protocol.CodeAbortAccepted, protocol.CodeAbortTerminal}, f.req.ErrorCodes())

		got, err := f.m.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, got.Status)
		assert.Equal(t, []string{task.ID}, f.quotas.releasedIDs())
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "")
		assert.False(t, f.m.AbortByUser("req", json.RawMessage(`8`)))
		assert.False(t, f.m.AbortByUser("other", json.RawMessage(`7`)))
		assert.Empty(t, f.req.ErrorCodes())
	})
}

func TestProviderDisconnectWithoutAlternate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "prov", `{"name":"echo"}`)
	task := f.create(t, "")

	f.skills.Unregister("prov")
	f.m.TerminateByDisconnect("prov")

	assert.Equal(t, []protocol.Code{protocol.CodeProviderLost}, f.req.ErrorCodes())
	assert.Empty(t, f.provider.Events(protocol.EventTaskKill))
	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
	assert.Equal(t, reasonProviderGone, got.Reason)
}

func TestProviderDisconnectReroutes(t *testing.T) {
	f := newFixture(t)
	alt := hubtest.NewRecorder()
	f.hub.Attach("alt", alt)
	f.register(t, "prov", `{"name":"echo"}`)
	f.register(t, "alt", `{"name":"echo"}`)
	task := f.create(t, "")

	f.m.TerminateByDisconnect("prov")

	assert.Equal(t, []protocol.Code{protocol.CodeProviderRerouted}, f.req.ErrorCodes())
	requests := alt.Events(protocol.EventTaskRequest)
	require.Len(t, requests, 1)
	replacementID := decode[protocol.TaskRequest](t, requests[0]).ID

	replacement, err := f.m.Get(replacementID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, replacement.ParentID)
	assert.Equal(t, "alt", replacement.ProviderID)
	assert.Contains(t, f.quotas.commits, [2]string{task.ID, replacementID})

	parent, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, parent.Status)

	require.NoError(t, f.m.Update("alt", result(replacementID, `{"data":{"ok":true}}`)))
	assert.Len(t, f.req.Events(protocol.EventSkillResults), 1)
}

func TestCreateRefusesSuspendedProvider(t *testing.T) {
	f := newFixture(t)
	f.register(t, "prov", `{"name":"echo"}`)
	f.skills.Suspend("prov")

	_, err := f.m.Create(CreateRequest{
		RequesterID:   "req",
		ProviderID:    "prov",
		ReservationID: "res-1",
		Request:       protocol.SkillRequest{ID: json.RawMessage(`1`), Name: "echo"},
	})
	assert.ErrorIs(t, err, ErrProviderGone)
	assert.Zero(t, f.m.OpenCount())
	assert.Empty(t, f.provider.Events(protocol.EventTaskRequest))
	assert.Empty(t, f.quotas.commits)
}

func TestFailoverSkipsSuspendedAlternate(t *testing.T) {
	f := newFixture(t)
	alt := hubtest.NewRecorder()
	f.hub.Attach("alt", alt)
	f.register(t, "prov", `{"name":"echo"}`)
	f.register(t, "alt", `{"name":"echo"}`)
	task := f.create(t, "")

	// Both providers are leaving at once.
	f.skills.Suspend("prov")
	f.skills.Suspend("alt")
	f.m.TerminateByDisconnect("prov")

	assert.Equal(t, []protocol.Code{protocol.CodeProviderLost}, f.req.ErrorCodes())
	assert.Empty(t, alt.Events(protocol.EventTaskRequest))
	assert.Zero(t, f.m.OpenCount())
	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
}

func TestRequesterDisconnectKillsSupportedTasks(t *testing.T) {
	f := newFixture(t)
	f.register(t, "prov", `{"name":"echo","features":["abort"]}`)
	task := f.create(t, "")

	f.m.TerminateByDisconnect("req")

	kills := f.provider.Events(protocol.EventTaskKill)
	require.Len(t, kills, 1)
	assert.Equal(t, task.ID, decode[protocol.TaskKill](t, kills[0]).ID)
	assert.Empty(t, f.req.ErrorCodes())

	f.m.Flush()
	stored, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, stored.Status)
	assert.Equal(t, reasonRequesterGone, stored.Reason)
	assert.Zero(t, f.m.OpenCount())
}

func TestScrubHonorsDonate(t *testing.T) {
	f := newFixture(t)
	plain := f.create(t, "")
	donated := f.create(t, `{"donate":true}`)
	open := f.create(t, "")
	require.NoError(t, f.m.Update("prov", result(plain.ID, `{"data":{}}`)))
	require.NoError(t, f.m.Update("prov", result(donated.ID, `{"data":{}}`)))

	n, err := f.m.Scrub(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.m.Scrub(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ctx := context.Background()
	_, err = f.store.GetTask(ctx, plain.ID)
	assert.ErrorIs(t, err, ErrStoreNotFound)
	_, err = f.store.GetTask(ctx, donated.ID)
	assert.NoError(t, err)
	_, err = f.store.GetTask(ctx, open.ID)
	assert.NoError(t, err)
	_, err = f.m.Get(plain.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestKillOverdue(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, `{"max_runtime":1}`)
		f.clock.Advance(time.Hour)
		assert.Zero(t, f.m.KillOverdue())
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, withKiller(10*time.Second))
		capped := f.create(t, `{"max_runtime":60}`)
		short := f.create(t, `{"max_runtime":2}`)
		assert.Equal(t, 10*time.Second, capped.MaxRuntime)
		assert.Equal(t, 2*time.Second, short.MaxRuntime)

		f.clock.Advance(3 * time.Second)
		assert.Equal(t, 1, f.m.KillOverdue())
		f.clock.Advance(10 * time.Second)
		assert.Equal(t, 1, f.m.KillOverdue())
		assert.Zero(t, f.m.KillOverdue())

		assert.Len(t, f.provider.Events(protocol.EventTaskKill), 2)
		assert.Equal(t, []protocol.Code{protocol.CodeAborted, protocol.CodeAborted}, f.req.ErrorCodes())
	})
}

func runLoop(t *testing.T, loop func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("loop did not stop after cancel")
		}
	})
}

func TestRunKillerFollowsClock(t *testing.T) {
	f := newFixture(t, withKiller(10*time.Second))
	task := f.create(t, `{"max_runtime":2}`)
	runLoop(t, f.m.RunKiller)

	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, f.m.OpenCount())

	f.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return f.m.OpenCount() == 0 }, time.Second, time.Millisecond)
	got, err := f.m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, reasonMaxRuntime, got.Reason)
}

func TestRunScrubberFollowsClock(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "")
	require.NoError(t, f.m.Update("prov", result(task.ID, `{"data":{}}`)))
	runLoop(t, func(ctx context.Context) error { return f.m.RunScrubber(ctx, time.Hour) })

	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	f.clock.Advance(30 * time.Minute)
	_, err := f.m.Get(task.ID)
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	require.Eventually(t, func() bool {
		_, err := f.m.Get(task.ID)
		return errors.Is(err, ErrTaskNotFound)
	}, time.Second, time.Millisecond)
}

func TestRecoverAbortsLeftoverTasks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(500, 0).UTC()
	require.NoError(t, store.SaveTask(ctx, Task{ID: "old", RequesterID: "gone", Skill: "echo", Status: StatusRunning, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.SaveTask(ctx, Task{ID: "done", RequesterID: "gone", Skill: "echo", Status: StatusFinished, CreatedAt: now, UpdatedAt: now}))

	m := NewManager(Options{Store: store, Clock: clock.NewFake(time.Unix(1000, 0))})
	t.Cleanup(m.Close)

	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := store.GetTask(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
	assert.Equal(t, reasonBrokerRestarted, got.Reason)
}

func TestListByRequesterMergesStoreAndMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Unix(10, 0).UTC()
	require.NoError(t, f.store.SaveTask(ctx, Task{ID: "persisted", RequesterID: "req", Skill: "echo", Status: StatusFinished, CreatedAt: old, UpdatedAt: old}))
	live := f.create(t, "")
	f.m.Flush()

	list := f.m.ListByRequester("req", 10)
	require.Len(t, list, 2)
	assert.Equal(t, live.ID, list[0].ID)
	assert.Equal(t, "persisted", list[1].ID)

	assert.Len(t, f.m.ListByRequester("req", 1), 1)
}

func TestStatsCountsByStatus(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "")
	f.create(t, "")
	require.NoError(t, f.m.Update("prov", result(a.ID, `{"data":{}}`)))

	counts, err := f.m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusFinished: 1, StatusCreated: 1}, counts)
}
