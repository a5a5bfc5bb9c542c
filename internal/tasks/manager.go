package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/clock"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/quota"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidRequest = errors.New("invalid task request")

	// ErrProviderGone means the chosen provider started disconnecting
	// before the task could be recorded.
	ErrProviderGone = errors.New("provider no longer available")
)

const (
	defaultRetainPerRequester = 256

	reasonUser            = "aborted by user"
	reasonProviderGone    = "provider disconnected"
	reasonRequesterGone   = "requester disconnected"
	reasonMaxRuntime      = "max runtime exceeded"
	reasonBrokerRestarted = "broker restart"
)

var abortFeatures = []string{"kill", "abort"}

// Quotas is the part of the session registry the task manager needs.
type Quotas interface {
	CheckQuota(sessionID string, kind quota.Kind, consume bool) bool
	CommitJob(sessionID, reservationID, taskID string) bool
	ReleaseJob(sessionID, id string)
	Role(sessionID string) string
}

// Router is the part of the skill registry the task manager needs.
type Router interface {
	SelectProvider(role, name string, exclude ...string) (string, bool)
	HasFeature(sessionID, name string, features []string, matchAll bool) bool
	ProviderConfig(sessionID, name string) (protocol.SkillConfig, bool)
	Available(sessionID, name string) bool
}

// Observer receives every task that reaches a terminal state.
type Observer interface {
	TaskEnded(skill string, status Status, duration time.Duration)
}

type KillerConfig struct {
	Enabled     bool
	Interval    time.Duration
	MaxDuration time.Duration
}

type Options struct {
	Store    Store
	Emitter  hub.Emitter
	Quotas   Quotas
	Router   Router
	Clock    clock.Clock
	Logger   *zap.Logger
	Observer Observer
	Killer   KillerConfig
	// ScrubMaxAge is how long terminal tasks are kept. Zero disables scrubbing.
	ScrubMaxAge time.Duration
	// RetainPerRequester bounds the terminal tasks kept in memory for each
	// connected requester. Older ones are still reachable through the store.
	RetainPerRequester int
}

// Manager owns the lifecycle of every task: creation, provider updates,
// finalization, aborts and failover.
type Manager struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	byRequester map[string][]string

	store    Store
	emitter  hub.Emitter
	quotas   Quotas
	router   Router
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer
	killer   KillerConfig
	maxAge   time.Duration
	retain   int

	delays *DelayQueue
	writer *writer
}

func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetainPerRequester <= 0 {
		opts.RetainPerRequester = defaultRetainPerRequester
	}
	logger := opts.Logger.With(zap.String("component", "tasks"))
	return &Manager{
		tasks:       make(map[string]*Task),
		byRequester: make(map[string][]string),
		store:       opts.Store,
		emitter:     opts.Emitter,
		quotas:      opts.Quotas,
		router:      opts.Router,
		clock:       opts.Clock,
		logger:      logger,
		observer:    opts.Observer,
		killer:      opts.Killer,
		maxAge:      opts.ScrubMaxAge,
		retain:      opts.RetainPerRequester,
		delays:      NewDelayQueue(opts.Clock),
		writer:      newWriter(opts.Store, logger),
	}
}

// Create records a new task and dispatches it to its provider, or, for a
// simulated request, schedules its completion with the capability's example
// output.
func (m *Manager) Create(req CreateRequest) (Task, error) {
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" || req.Request.Name == "" {
		return Task{}, ErrInvalidRequest
	}
	if req.ProviderID == "" {
		return Task{}, fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	}
	opts := req.Request.Options()
	now := m.clock.Now().UTC()

	task := &Task{
		ID:          uuid.NewString(),
		RequesterID: req.RequesterID,
		ProviderID:  req.ProviderID,
		Skill:       req.Request.Name,
		Request:     req.Request,
		Status:      StatusCreated,
		ParentID:    req.ParentID,
		Simulated:   opts.Simulate,
		Donate:      opts.Donate,
		MaxRuntime:  m.effectiveMaxRuntime(opts.MaxRuntime),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	// Checked under the lock so a task either lands before a provider's
	// disconnect scan or is refused after it.
	if !task.Simulated && m.router != nil && !m.router.Available(task.ProviderID, task.Skill) {
		m.mu.Unlock()
		return Task{}, ErrProviderGone
	}
	m.tasks[task.ID] = task
	m.byRequester[task.RequesterID] = append(m.byRequester[task.RequesterID], task.ID)
	m.writer.enqueue(task.Clone())
	snapshot := task.Clone()
	m.mu.Unlock()

	if req.ReservationID != "" && m.quotas != nil {
		if !m.quotas.CommitJob(req.RequesterID, req.ReservationID, task.ID) {
			m.logger.Debug("job reservation not found", zap.String("task_id", task.ID))
		}
	}

	m.logger.Debug("task created",
		zap.String("task_id", task.ID),
		zap.String("skill", task.Skill),
		zap.String("requester_id", task.RequesterID),
		zap.String("provider_id", task.ProviderID),
		zap.Bool("simulated", task.Simulated),
	)

	if snapshot.Simulated {
		example := protocol.EmptyObject
		if m.router != nil {
			if cfg, ok := m.router.ProviderConfig(snapshot.ProviderID, snapshot.Skill); ok {
				example = cfg.OutputExample()
			}
		}
		id := snapshot.ID
		m.delays.Schedule(id, opts.SimulateDelay, func() {
			m.complete(id, "", protocol.TaskResult{ID: protocol.StringID(id), Data: example})
		})
		return snapshot, nil
	}

	m.emit(snapshot.ProviderID, protocol.EventTaskRequest, protocol.TaskRequest{
		ID:   snapshot.ID,
		Name: snapshot.Skill,
		Data: dataOrEmpty(snapshot.Request.Data),
	})
	return snapshot, nil
}

func (m *Manager) effectiveMaxRuntime(requested time.Duration) time.Duration {
	if !m.killer.Enabled || m.killer.MaxDuration <= 0 {
		return requested
	}
	if requested <= 0 || requested > m.killer.MaxDuration {
		return m.killer.MaxDuration
	}
	return requested
}

// Update applies a taskResults/taskUpdate report from providerID. Reports
// for terminal tasks are ignored. ErrTaskNotFound means the task is unknown
// or belongs to another provider.
func (m *Manager) Update(providerID string, res protocol.TaskResult) error {
	taskID, ok := protocol.IDString(res.ID)
	if !ok {
		return ErrTaskNotFound
	}

	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if ok && task.ProviderID != providerID {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if !ok {
		m.mu.Unlock()
		persisted, err := m.lookupStore(taskID)
		if err != nil || persisted.ProviderID != providerID {
			return ErrTaskNotFound
		}
		return nil
	}
	if task.Terminal() {
		m.mu.Unlock()
		return nil
	}

	switch {
	case protocol.Present(res.Error):
		m.failLocked(task, providerID, res.Error)
	case res.Status != "" && Status(res.Status) != StatusFinished:
		m.progressLocked(task, res)
	default:
		m.mu.Unlock()
		m.complete(taskID, providerID, res)
		return nil
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) failLocked(task *Task, providerID string, detail json.RawMessage) {
	now := m.clock.Now().UTC()
	task.Status = StatusError
	task.Error = detail
	task.FinishedBy = providerID
	m.endLocked(task, now)

	m.releaseJob(task)
	m.emit(task.RequesterID, protocol.EventError, protocol.ErrorPayload{
		Code:  protocol.CodeExecutionError,
		ID:    task.Request.ID,
		Error: detail,
	})
	m.logger.Info("task failed", zap.String("task_id", task.ID), zap.String("provider_id", providerID))
}

func (m *Manager) progressLocked(task *Task, res protocol.TaskResult) {
	now := m.clock.Now().UTC()
	task.Updates = append(task.Updates, Update{
		Status: res.Status,
		Data:   dataOrEmpty(res.Data),
		At:     now,
	})
	status := Status(res.Status)
	if status.reserved() {
		status = StatusRunning
	}
	task.Status = status
	task.UpdatedAt = now

	opts := task.Request.Options()
	if opts.Status != protocol.StatusOff {
		m.forwardUpdatesLocked(task, opts, now)
	}
	m.writer.enqueue(task.Clone())
}

func (m *Manager) forwardUpdatesLocked(task *Task, opts protocol.RequestOptions, now time.Time) {
	var pending []int
	for i, u := range task.Updates {
		if u.Sent {
			continue
		}
		if opts.Status == protocol.StatusRecent && !u.At.After(now.Add(-opts.StatusWindow)) {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return
	}
	if m.quotas != nil && m.quotas.CheckQuota(task.RequesterID, quota.KindResults, true) {
		return
	}
	entries := make([]protocol.StatusEntry, 0, len(pending))
	for _, i := range pending {
		task.Updates[i].Sent = true
		u := task.Updates[i]
		entries = append(entries, protocol.StatusEntry{Status: u.Status, Updated: u.At, Data: u.Data})
	}
	m.emit(task.RequesterID, protocol.EventSkillStatus, protocol.SkillStatus{
		ID:       task.Request.ID,
		ClientID: task.Request.ClientID,
		Data:     entries,
	})
}

// complete finalizes a task with a result. A second completion is a no-op.
func (m *Manager) complete(taskID, finisher string, res protocol.TaskResult) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || task.Terminal() {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now().UTC()
	task.Status = StatusFinished
	task.Result = res.Data
	task.FinishedBy = finisher
	m.endLocked(task, now)
	snapshot := task.Clone()
	m.mu.Unlock()

	m.releaseJob(&snapshot)

	opts := snapshot.Request.Options()
	out := protocol.SkillResults{
		ID:       snapshot.Request.ID,
		ClientID: snapshot.Request.ClientID,
		Data:     dataOrEmpty(res.Data),
	}
	if opts.ReturnStats {
		out.Stats = &protocol.Stats{
			Duration: snapshot.Duration.Seconds(),
			Host:     finisher,
			Result:   res.Stats,
		}
	}
	deliver := func() { m.emit(snapshot.RequesterID, protocol.EventSkillResults, out) }
	if opts.MinDelay > 0 {
		m.delays.Schedule(snapshot.ID, opts.MinDelay-snapshot.Duration, deliver)
	} else {
		deliver()
	}
	m.logger.Debug("task finished",
		zap.String("task_id", snapshot.ID),
		zap.Duration("duration", snapshot.Duration),
	)
}

// endLocked moves a task into its terminal state bookkeeping. Status must
// already be set.
func (m *Manager) endLocked(task *Task, now time.Time) {
	task.UpdatedAt = now
	task.EndedAt = &now
	task.Duration = now.Sub(task.CreatedAt)
	m.writer.enqueue(task.Clone())
	if m.observer != nil {
		m.observer.TaskEnded(task.Skill, task.Status, task.Duration)
	}
	m.retainLocked(task.RequesterID)
}

// retainLocked evicts the oldest terminal tasks of a requester beyond the
// in-memory bound.
func (m *Manager) retainLocked(requesterID string) {
	ids := m.byRequester[requesterID]
	terminal := 0
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok && t.Terminal() {
			terminal++
		}
	}
	excess := terminal - m.retain
	if excess <= 0 {
		return
	}
	kept := ids[:0]
	for _, id := range ids {
		t, ok := m.tasks[id]
		if !ok {
			continue
		}
		if excess > 0 && t.Terminal() {
			delete(m.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.byRequester[requesterID] = kept
}

// AbortByUser handles a requester's abort request for its own request id.
// It returns false when no such task exists.
func (m *Manager) AbortByUser(requesterID string, externalID json.RawMessage) bool {
	ext, ok := protocol.IDString(externalID)
	if !ok {
		return false
	}

	m.mu.Lock()
	var task *Task
	ids := m.byRequester[requesterID]
	for i := len(ids) - 1; i >= 0; i-- {
		t, ok := m.tasks[ids[i]]
		if !ok {
			continue
		}
		if id, ok := t.ExternalID(); ok && id == ext {
			task = t
			break
		}
	}
	if task == nil {
		m.mu.Unlock()
		return false
	}
	snapshot := task.Clone()
	m.mu.Unlock()

	if m.router == nil || !m.router.HasFeature(snapshot.ProviderID, snapshot.Skill, abortFeatures, false) {
		m.emitCode(requesterID, protocol.CodeAbortUnsupported, snapshot.Request.ID)
		return true
	}
	if snapshot.Terminal() {
		m.emitCode(requesterID, protocol.CodeAbortTerminal, snapshot.Request.ID)
		return true
	}
	m.abort(snapshot.ID, reasonUser, true, protocol.CodeAbortAccepted)
	return true
}

// Abort stops a running task. kill tells the provider to stop working on
// it; a non-zero code is reported to the requester.
func (m *Manager) Abort(taskID, reason string, kill bool, code protocol.Code) error {
	if !m.abort(taskID, reason, kill, code) {
		return ErrTaskNotFound
	}
	return nil
}

func (m *Manager) abort(taskID, reason string, kill bool, code protocol.Code) bool {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if task.Terminal() {
		m.mu.Unlock()
		return true
	}
	now := m.clock.Now().UTC()
	task.Status = StatusAborted
	task.Reason = reason
	m.endLocked(task, now)
	snapshot := task.Clone()
	m.mu.Unlock()

	m.delays.Cancel(taskID)
	if kill && !snapshot.Simulated && snapshot.ProviderID != "" {
		m.emit(snapshot.ProviderID, protocol.EventTaskKill, protocol.TaskKill{ID: snapshot.ID})
	}
	m.releaseJob(&snapshot)
	if code != 0 {
		m.emitCode(snapshot.RequesterID, code, snapshot.Request.ID)
	}
	m.logger.Info("task aborted",
		zap.String("task_id", snapshot.ID),
		zap.String("reason", reason),
		zap.Int("code", int(code)),
	)
	return true
}

// TerminateByDisconnect handles every open task touching sessionID. Tasks
// whose provider left are moved to another provider when one is available;
// tasks whose requester left are aborted.
func (m *Manager) TerminateByDisconnect(sessionID string) {
	m.mu.Lock()
	var affected []Task
	for _, t := range m.tasks {
		if t.Terminal() {
			continue
		}
		if t.RequesterID == sessionID || (t.ProviderID == sessionID && !t.Simulated) {
			affected = append(affected, t.Clone())
		}
	}
	m.mu.Unlock()
	sort.Slice(affected, func(i, j int) bool { return affected[i].CreatedAt.Before(affected[j].CreatedAt) })

	for _, t := range affected {
		if t.RequesterID == sessionID {
			kill := m.router != nil && m.router.HasFeature(t.ProviderID, t.Skill, abortFeatures, false)
			m.abort(t.ID, reasonRequesterGone, kill, 0)
			continue
		}
		m.failover(t, sessionID)
	}
	m.forget(sessionID)
}

func (m *Manager) failover(t Task, goneProvider string) {
	role := ""
	if m.quotas != nil {
		role = m.quotas.Role(t.RequesterID)
	}
	if m.router == nil {
		m.abort(t.ID, reasonProviderGone, false, protocol.CodeProviderLost)
		return
	}
	exclude := []string{goneProvider}
	for {
		alternate, ok := m.router.SelectProvider(role, t.Skill, exclude...)
		if !ok {
			m.abort(t.ID, reasonProviderGone, false, protocol.CodeProviderLost)
			return
		}
		// The replacement takes over the original's job slot.
		replacement, err := m.Create(CreateRequest{
			RequesterID:   t.RequesterID,
			ProviderID:    alternate,
			ReservationID: t.ID,
			ParentID:      t.ID,
			Request:       t.Request,
		})
		if errors.Is(err, ErrProviderGone) {
			exclude = append(exclude, alternate)
			continue
		}
		if err != nil {
			m.logger.Error("failover create failed", zap.String("task_id", t.ID), zap.Error(err))
			m.abort(t.ID, reasonProviderGone, false, protocol.CodeProviderLost)
			return
		}
		m.abort(t.ID, reasonProviderGone, false, protocol.CodeProviderRerouted)
		m.logger.Info("task rerouted",
			zap.String("task_id", t.ID),
			zap.String("replacement_id", replacement.ID),
			zap.String("provider_id", alternate),
		)
		return
	}
}

// forget drops the in-memory history of a departed requester.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byRequester[sessionID]
	if len(ids) == 0 {
		return
	}
	kept := ids[:0]
	for _, id := range ids {
		t, ok := m.tasks[id]
		if !ok {
			continue
		}
		if t.Terminal() {
			delete(m.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	if len(kept) == 0 {
		delete(m.byRequester, sessionID)
		return
	}
	m.byRequester[sessionID] = kept
}

// KillOverdue aborts every open task past its max runtime and returns how
// many were aborted. It does nothing unless the task killer is enabled.
func (m *Manager) KillOverdue() int {
	if !m.killer.Enabled {
		return 0
	}
	now := m.clock.Now()
	m.mu.Lock()
	var overdue []string
	for id, t := range m.tasks {
		if t.Terminal() {
			continue
		}
		if deadline, ok := t.Deadline(); ok && !now.Before(deadline) {
			overdue = append(overdue, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(overdue)

	for _, id := range overdue {
		m.abort(id, reasonMaxRuntime, true, protocol.CodeAborted)
	}
	return len(overdue)
}

// RunKiller calls KillOverdue periodically until ctx is done.
func (m *Manager) RunKiller(ctx context.Context) error {
	if !m.killer.Enabled {
		return nil
	}
	interval := m.killer.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	clock.Every(ctx, m.clock, interval, func() {
		if n := m.KillOverdue(); n > 0 {
			m.logger.Info("aborted overdue tasks", zap.Int("count", n))
		}
	})
	return nil
}

// Scrub deletes terminal tasks older than the configured max age unless
// their request donated them. It returns the number of tasks removed.
func (m *Manager) Scrub(ctx context.Context) (int, error) {
	if m.maxAge <= 0 {
		return 0, nil
	}
	before := m.clock.Now().UTC().Add(-m.maxAge)
	m.writer.flush()

	removed := make(map[string]struct{})
	m.mu.Lock()
	for id, t := range m.tasks {
		if retired(*t, before) {
			delete(m.tasks, id)
			removed[id] = struct{}{}
		}
	}
	m.mu.Unlock()

	list, err := m.store.ListRetiredTasks(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list retired tasks: %w", err)
	}
	for _, t := range list {
		removed[t.ID] = struct{}{}
	}
	for id := range removed {
		if err := m.store.DeleteTask(ctx, id); err != nil {
			return 0, fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	if len(removed) > 0 {
		m.logger.Info("scrubbed tasks", zap.Int("count", len(removed)))
	}
	return len(removed), nil
}

// RunScrubber calls Scrub every interval until ctx is done.
func (m *Manager) RunScrubber(ctx context.Context, interval time.Duration) error {
	if m.maxAge <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	clock.Every(ctx, m.clock, interval, func() {
		if _, err := m.Scrub(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("scrub failed", zap.Error(err))
		}
	})
	return nil
}

// Recover aborts tasks a previous broker process left open. Their sessions
// are gone, so nobody is notified.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	open, err := m.store.ListOpenTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open tasks: %w", err)
	}
	now := m.clock.Now().UTC()
	n := 0
	for _, t := range open {
		m.mu.Lock()
		_, live := m.tasks[t.ID]
		m.mu.Unlock()
		if live {
			continue
		}
		t.Status = StatusAborted
		t.Reason = reasonBrokerRestarted
		t.UpdatedAt = now
		t.EndedAt = &now
		if err := m.store.SaveTask(ctx, t); err != nil {
			return n, fmt.Errorf("save recovered task: %w", err)
		}
		n++
	}
	if n > 0 {
		m.logger.Info("aborted tasks left open by previous run", zap.Int("count", n))
	}
	return n, nil
}

func (m *Manager) Get(taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return Task{}, ErrTaskNotFound
	}
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	var snapshot Task
	if ok {
		snapshot = task.Clone()
	}
	m.mu.Unlock()
	if ok {
		return snapshot, nil
	}
	return m.lookupStore(taskID)
}

func (m *Manager) lookupStore(taskID string) (Task, error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	persisted, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrStoreNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return persisted, nil
}

// ListByRequester merges live and persisted tasks of a requester, newest
// first.
func (m *Manager) ListByRequester(requesterID string, limit int) []Task {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil
	}

	m.mu.Lock()
	ids := m.byRequester[requesterID]
	memOut := make([]Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			memOut = append(memOut, t.Clone())
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	persisted, err := m.store.ListTasksByRequester(ctx, requesterID, limit)
	if err != nil {
		m.logger.Warn("list persisted tasks failed", zap.Error(err))
	}

	merged := make(map[string]Task, len(persisted)+len(memOut))
	for _, t := range persisted {
		merged[t.ID] = t
	}
	for _, t := range memOut {
		merged[t.ID] = t
	}
	out := make([]Task, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	sortNewestFirst(out)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// OpenCount returns the number of non-terminal tasks held in memory.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.Terminal() {
			n++
		}
	}
	return n
}

// Stats counts persisted tasks by status.
func (m *Manager) Stats(ctx context.Context) (map[Status]int, error) {
	m.writer.flush()
	return m.store.CountTasksByStatus(ctx)
}

// Flush blocks until every queued task write has reached the store.
func (m *Manager) Flush() {
	m.writer.flush()
}

// Close cancels pending delayed work and drains queued writes.
func (m *Manager) Close() {
	m.delays.Stop()
	m.writer.close()
}

func (m *Manager) releaseJob(t *Task) {
	if m.quotas != nil {
		m.quotas.ReleaseJob(t.RequesterID, t.ID)
	}
}

func (m *Manager) emit(room string, event protocol.Event, data any) {
	if m.emitter != nil && room != "" {
		m.emitter.Emit(room, event, data)
	}
}

func (m *Manager) emitCode(room string, code protocol.Code, id json.RawMessage) {
	m.emit(room, protocol.EventError, protocol.ErrorPayload{Code: code, ID: id})
}

func dataOrEmpty(data json.RawMessage) json.RawMessage {
	if !protocol.Present(data) {
		return protocol.EmptyObject
	}
	return data
}
