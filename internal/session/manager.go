package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/clock"
	"github.com/UKPLab/CARE-broker/internal/quota"
	"github.com/UKPLab/CARE-broker/internal/roles"
	"github.com/UKPLab/CARE-broker/internal/users"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrUnknownRole = errors.New("unknown role")
)

const persistTimeout = 2 * time.Second

type entry struct {
	session Session
	quota   *quota.Set
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	hooks    []DisconnectHook

	roles    *roles.Table
	rooms    Rooms
	store    users.Store
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

type Options struct {
	Roles         *roles.Table
	Rooms         Rooms
	Store         users.Store
	Clock         clock.Clock
	QuotaInterval time.Duration
	Logger        *zap.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.QuotaInterval <= 0 {
		opts.QuotaInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Roles == nil {
		opts.Roles = roles.NewTable(nil)
	}
	return &Manager{
		sessions: make(map[string]*entry),
		roles:    opts.Roles,
		rooms:    opts.Rooms,
		store:    opts.Store,
		clock:    opts.Clock,
		interval: opts.QuotaInterval,
		logger:   opts.Logger.With(zap.String("component", "session")),
	}
}

// OnDisconnect appends a hook run by Disconnect in registration order.
func (m *Manager) OnDisconnect(hook DisconnectHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Connect registers a session as guest, joins its rooms and initializes
// its quota state.
func (m *Manager) Connect(sessionID, ip string, metadata json.RawMessage) Session {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	role := m.roles.MustGet(roles.Guest)
	now := m.clock.Now().UTC()
	e := &entry{
		session: Session{
			ID:           sessionID,
			IP:           ip,
			Role:         role.Name,
			Connected:    true,
			FirstContact: now,
			LastContact:  now,
			Metadata:     metadata,
		},
		quota: quota.NewSet(role.Limits, m.interval, m.clock),
	}

	m.mu.Lock()
	m.sessions[sessionID] = e
	s := e.session
	m.mu.Unlock()

	if m.rooms != nil {
		m.rooms.Join(sessionID, sessionID)
		m.rooms.Join(sessionID, role.Room)
	}
	m.persist(s)
	m.logger.Debug("session connected", zap.String("session_id", sessionID), zap.String("ip", ip))
	return s
}

// Disconnect marks the session disconnected, leaves its rooms, runs the
// disconnect hooks and finally discards its quota state. Calling it for an
// unknown or already disconnected session is a no-op.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok || !e.session.Connected {
		m.mu.Unlock()
		return
	}
	e.session.Connected = false
	e.session.LastContact = m.clock.Now().UTC()
	e.session.secret = ""
	s := e.session
	hooks := append([]DisconnectHook(nil), m.hooks...)
	m.mu.Unlock()

	if m.rooms != nil {
		m.rooms.Leave(sessionID, roles.Room(s.Role))
		m.rooms.Leave(sessionID, sessionID)
	}
	for _, hook := range hooks {
		hook(sessionID)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.persist(s)
	m.logger.Debug("session disconnected", zap.String("session_id", sessionID))
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.session, nil
}

// Role returns the session's role, or guest for unknown sessions.
func (m *Manager) Role(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.sessions[sessionID]; ok {
		return e.session.Role
	}
	return roles.Guest
}

// Connected reports whether the session is registered and connected.
func (m *Manager) Connected(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return ok && e.session.Connected
}

func (m *Manager) quotaOf(sessionID string, touch bool) *quota.Set {
	if touch {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if touch {
		e.session.LastContact = m.clock.Now().UTC()
	}
	return e.quota
}

// CheckQuota reports whether the session exceeded the given window and
// touches its last contact. Unknown sessions are always exceeded.
func (m *Manager) CheckQuota(sessionID string, kind quota.Kind, consume bool) bool {
	q := m.quotaOf(sessionID, true)
	if q == nil {
		return true
	}
	return q.Check(kind, consume)
}

// ReserveJob takes a job slot under a fresh reservation id.
func (m *Manager) ReserveJob(sessionID string) (string, bool) {
	q := m.quotaOf(sessionID, false)
	if q == nil {
		return "", false
	}
	reservation := uuid.NewString()
	if !q.ReserveJob(reservation) {
		return "", false
	}
	return reservation, true
}

func (m *Manager) CommitJob(sessionID, reservationID, taskID string) bool {
	q := m.quotaOf(sessionID, false)
	if q == nil {
		return false
	}
	return q.CommitJob(reservationID, taskID)
}

// ReleaseJob frees the slot holding id. Unknown sessions and ids are
// ignored.
func (m *Manager) ReleaseJob(sessionID, id string) {
	if q := m.quotaOf(sessionID, false); q != nil {
		q.ReleaseJob(id)
	}
}

func (m *Manager) JobsInUse(sessionID string) int {
	if q := m.quotaOf(sessionID, false); q != nil {
		return q.JobsInUse()
	}
	return 0
}

// SetRole moves the session to role. A changed role applies the new limits,
// keeping held job slots, and moves role-room membership.
func (m *Manager) SetRole(sessionID, role string) error {
	r, ok := m.roles.Get(role)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	previous := e.session.Role
	if previous != r.Name {
		e.session.Role = r.Name
		e.quota.Resize(r.Limits)
	}
	s := e.session
	m.mu.Unlock()

	if previous != r.Name && m.rooms != nil {
		m.rooms.Leave(sessionID, roles.Room(previous))
		m.rooms.Join(sessionID, r.Room)
	}
	m.persist(s)
	return nil
}

// LinkUser records the authenticated user key on the session.
func (m *Manager) LinkUser(sessionID, userKey string) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	e.session.UserKey = userKey
	s := e.session
	m.mu.Unlock()
	m.persist(s)
	return nil
}

func (m *Manager) SetSecret(sessionID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.session.secret = secret
	return nil
}

// TakeSecret returns and clears the pending auth secret.
func (m *Manager) TakeSecret(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || e.session.secret == "" {
		return "", false
	}
	secret := e.session.secret
	e.session.secret = ""
	return secret, true
}

// ApplyRoles replaces role limits and resizes the quota state of every
// session holding a changed role. Held job slots survive.
func (m *Manager) ApplyRoles(limits map[string]quota.Limits) []string {
	changed := m.roles.Apply(limits)
	if len(changed) == 0 {
		return nil
	}
	set := make(map[string]quota.Limits, len(changed))
	for _, name := range changed {
		set[name] = m.roles.MustGet(name).Limits
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.sessions {
		if l, ok := set[e.session.Role]; ok {
			e.quota.Resize(l)
		}
	}
	return changed
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.session.Connected {
			count++
		}
	}
	return count
}

// CountByRole returns the number of connected sessions per role.
func (m *Manager) CountByRole() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(roles.Names))
	for _, e := range m.sessions {
		if e.session.Connected {
			out[e.session.Role]++
		}
	}
	return out
}

func (m *Manager) persist(s Session) {
	if m.store == nil {
		return
	}
	client := users.Client{
		SessionID:    s.ID,
		IP:           s.IP,
		Role:         s.Role,
		UserKey:      s.UserKey,
		Connected:    s.Connected,
		FirstContact: s.FirstContact,
		LastContact:  s.LastContact,
		Metadata:     s.Metadata,
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.SaveClient(ctx, client); err != nil {
		m.logger.Warn("persist client failed", zap.String("session_id", client.SessionID), zap.Error(err))
	}
}
