package skills

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKPLab/CARE-broker/internal/clock"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/hub/hubtest"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/roles"
)

func mustConfig(t *testing.T, raw string) protocol.SkillConfig {
	t.Helper()
	cfg, err := protocol.ParseSkillConfig(json.RawMessage(raw))
	require.NoError(t, err)
	return cfg
}

func newTestRegistry(t *testing.T) (*Registry, *hub.Hub) {
	t.Helper()
	h := hub.New()
	r := NewRegistry(Options{
		Emitter: h,
		Clock:   clock.NewFake(time.Unix(0, 0)),
		Pick:    func(int) int { return 0 },
	})
	return r, h
}

func summaries(t *testing.T, env protocol.Envelope) []protocol.SkillSummary {
	t.Helper()
	var out []protocol.SkillSummary
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestRegisterBroadcastsNodeCount(t *testing.T) {
	r, h := newTestRegistry(t)
	watcher := hubtest.NewRecorder()
	h.Attach("w", watcher)

	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo"}`)))
	require.NoError(t, r.Register("p2", mustConfig(t, `{"name":"echo"}`)))

	updates := watcher.Events(protocol.EventSkillUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, []protocol.SkillSummary{{Name: "echo", Nodes: 2}}, summaries(t, updates[1]))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	cfg := mustConfig(t, `{"name":"echo","features":["kill"]}`)

	require.NoError(t, r.Register("p1", cfg))
	require.NoError(t, r.Register("p1", mustConfig(t, `{"features":["kill"],"name":"echo"}`)))

	all := r.Aggregate("", "", false)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Nodes)
}

func TestRegisterRejectsDifferentConfig(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo"}`)))

	err := r.Register("p2", mustConfig(t, `{"name":"echo","features":["kill"]}`))
	assert.ErrorIs(t, err, ErrConflict)
	err = r.Register("p1", mustConfig(t, `{"name":"echo","roles":["admin"]}`))
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, r.Register("p1", mustConfig(t, `{"features":[]}`)), ErrMissingName)
}

func TestUnregisterAnnouncesZeroedCount(t *testing.T) {
	r, h := newTestRegistry(t)
	watcher := hubtest.NewRecorder()
	h.Attach("w", watcher)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo"}`)))
	watcher.Reset()

	removed := r.Unregister("p1")
	require.Len(t, removed, 1)
	assert.False(t, removed[0].Connected)

	updates := watcher.Events(protocol.EventSkillUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []protocol.SkillSummary{{Name: "echo", Nodes: 0}}, summaries(t, updates[0]))

	_, ok := r.SelectProvider(roles.Guest, "echo")
	assert.False(t, ok)
	assert.Empty(t, r.Unregister("p1"))
}

func TestRoleRestrictedSkillAnnouncesToRoleRooms(t *testing.T) {
	r, h := newTestRegistry(t)
	guest, user := hubtest.NewRecorder(), hubtest.NewRecorder()
	h.Attach("g", guest)
	h.Join("g", roles.Room(roles.Guest))
	h.Attach("u", user)
	h.Join("u", roles.Room(roles.User))

	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"secret","roles":["user"]}`)))

	assert.Empty(t, guest.Events(protocol.EventSkillUpdate))
	assert.Len(t, user.Events(protocol.EventSkillUpdate), 1)
}

func TestSelectProviderFiltersByRoleAndExclusion(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"secret","roles":["user"]}`)))
	require.NoError(t, r.Register("p2", mustConfig(t, `{"name":"secret","roles":["user"]}`)))

	_, ok := r.SelectProvider(roles.Guest, "secret")
	assert.False(t, ok)

	id, ok := r.SelectProvider(roles.User, "secret", "p1")
	require.True(t, ok)
	assert.Equal(t, "p2", id)

	id, ok = r.SelectProvider(roles.Admin, "secret")
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = r.SelectProvider(roles.Admin, "secret", "p1", "p2")
	assert.False(t, ok)
}

func TestSuspendRemovesFromSelectionQuietly(t *testing.T) {
	r, h := newTestRegistry(t)
	watcher := hubtest.NewRecorder()
	h.Attach("w", watcher)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo"}`)))
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"upper"}`)))
	require.NoError(t, r.Register("p2", mustConfig(t, `{"name":"echo"}`)))
	before := len(watcher.Events(protocol.EventSkillUpdate))

	assert.True(t, r.Available("p1", "echo"))
	assert.Equal(t, 2, r.Suspend("p1"))
	assert.Zero(t, r.Suspend("p1"))
	assert.Len(t, watcher.Events(protocol.EventSkillUpdate), before)

	assert.False(t, r.Available("p1", "echo"))
	assert.False(t, r.Available("p1", "missing"))
	assert.True(t, r.Available("p2", "echo"))
	id, ok := r.SelectProvider(roles.Guest, "echo")
	require.True(t, ok)
	assert.Equal(t, "p2", id)
	_, ok = r.SelectProvider(roles.Guest, "upper")
	assert.False(t, ok)

	removed := r.Unregister("p1")
	assert.Len(t, removed, 2)
	updates := watcher.Events(protocol.EventSkillUpdate)
	assert.Equal(t, []protocol.SkillSummary{{Name: "echo", Nodes: 1}}, summaries(t, updates[len(updates)-2]))
}

func TestAggregateUsesFirstConfig(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"b","output":{"example":{"x":1}}}`)))
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"a"}`)))
	require.NoError(t, r.Register("p2", mustConfig(t, `{"name":"b","output":{"example":{"x":1}}}`)))

	all := r.Aggregate("", "", true)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
	assert.Equal(t, 2, all[1].Nodes)
	require.NotNil(t, all[1].Config)
	assert.JSONEq(t, `{"x":1}`, string(all[1].Config.OutputExample()))

	got, ok := r.Config(roles.Guest, "b")
	require.True(t, ok)
	assert.Equal(t, 2, got.Nodes)
	_, ok = r.Config(roles.Guest, "missing")
	assert.False(t, ok)
}

func TestSendAllSkipsEmptyList(t *testing.T) {
	r, h := newTestRegistry(t)
	rec := hubtest.NewRecorder()
	h.Attach("s", rec)

	r.SendAll(roles.Guest, "s")
	assert.Empty(t, rec.All())

	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo"}`)))
	rec.Reset()
	r.SendAll(roles.Guest, "s")
	updates := rec.Events(protocol.EventSkillUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []protocol.SkillSummary{{Name: "echo", Nodes: 1}}, summaries(t, updates[0]))
}

func TestHasFeature(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.Register("p1", mustConfig(t, `{"name":"echo","features":["abort"]}`)))

	assert.True(t, r.HasFeature("p1", "echo", []string{"kill", "abort"}, false))
	assert.False(t, r.HasFeature("p1", "echo", []string{"kill", "abort"}, true))
	assert.False(t, r.HasFeature("p2", "echo", []string{"abort"}, false))
	assert.Equal(t, []string{"echo"}, r.Provides("p1"))
}
