package skills

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/clock"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/roles"
)

var (
	ErrMissingName = errors.New("skill config has no name")
	ErrConflict    = errors.New("skill already registered with a different config")
)

// Registration is one provider's declaration of a capability.
type Registration struct {
	SessionID string
	Config    protocol.SkillConfig
	Connected bool
	Created   time.Time
	Updated   time.Time
}

// Registry tracks which sessions provide which capabilities. Registrations
// are kept in arrival order per name so the first one defines the
// aggregated config.
type Registry struct {
	mu     sync.RWMutex
	byName map[string][]*Registration

	emitter hub.Emitter
	clock   clock.Clock
	pick    func(n int) int
	logger  *zap.Logger
}

type Options struct {
	Emitter hub.Emitter
	Clock   clock.Clock
	Logger  *zap.Logger
	// Pick chooses an index in [0, n). Defaults to a uniform random choice.
	Pick func(n int) int
}

func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	return &Registry{
		byName:  make(map[string][]*Registration),
		emitter: opts.Emitter,
		clock:   opts.Clock,
		pick:    opts.Pick,
		logger:  opts.Logger.With(zap.String("component", "skills")),
	}
}

// Register records that sessionID provides cfg.Name. Registering the same
// config twice is a no-op. A config that differs from any live
// registration of that name is rejected.
func (r *Registry) Register(sessionID string, cfg protocol.SkillConfig) error {
	if cfg.Name == "" {
		return ErrMissingName
	}
	now := r.clock.Now().UTC()

	r.mu.Lock()
	var own *Registration
	for _, reg := range r.byName[cfg.Name] {
		if !reg.Config.Equal(cfg) {
			r.mu.Unlock()
			return ErrConflict
		}
		if reg.SessionID == sessionID {
			own = reg
		}
	}
	if own != nil {
		own.Updated = now
		r.mu.Unlock()
		return nil
	}
	r.byName[cfg.Name] = append(r.byName[cfg.Name], &Registration{
		SessionID: sessionID,
		Config:    cfg,
		Connected: true,
		Created:   now,
		Updated:   now,
	})
	nodes := 0
	for _, reg := range r.byName[cfg.Name] {
		if reg.Connected {
			nodes++
		}
	}
	r.mu.Unlock()

	r.logger.Info("skill registered",
		zap.String("skill", cfg.Name),
		zap.String("session_id", sessionID),
		zap.Int("nodes", nodes),
	)
	r.announce(cfg, nodes)
	return nil
}

// Unregister drops every registration of sessionID and announces the new
// node counts.
func (r *Registry) Unregister(sessionID string) []Registration {
	now := r.clock.Now().UTC()
	type update struct {
		cfg   protocol.SkillConfig
		nodes int
	}
	var (
		removed []Registration
		updates []update
	)

	r.mu.Lock()
	for name, regs := range r.byName {
		kept := regs[:0]
		var last *Registration
		for _, reg := range regs {
			if reg.SessionID == sessionID {
				last = reg
				continue
			}
			kept = append(kept, reg)
		}
		if last == nil {
			continue
		}
		last.Connected = false
		last.Updated = now
		removed = append(removed, *last)
		if len(kept) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = kept
		}
		updates = append(updates, update{cfg: last.Config, nodes: len(kept)})
	}
	r.mu.Unlock()

	sort.Slice(updates, func(i, j int) bool { return updates[i].cfg.Name < updates[j].cfg.Name })
	for _, u := range updates {
		r.announce(u.cfg, u.nodes)
	}
	if len(removed) > 0 {
		r.logger.Info("skills unregistered", zap.String("session_id", sessionID), zap.Int("count", len(removed)))
	}
	return removed
}

// Suspend takes every registration of sessionID out of provider selection
// without announcing anything. Unregister removes them afterwards.
func (r *Registry) Suspend(sessionID string) int {
	now := r.clock.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, regs := range r.byName {
		for _, reg := range regs {
			if reg.SessionID == sessionID && reg.Connected {
				reg.Connected = false
				reg.Updated = now
				n++
			}
		}
	}
	return n
}

// Available reports whether sessionID still serves name.
func (r *Registry) Available(sessionID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byName[name] {
		if reg.SessionID == sessionID {
			return reg.Connected
		}
	}
	return false
}

// announce sends the node count of one capability to the rooms allowed to
// see it, or to everyone when the config restricts nothing.
func (r *Registry) announce(cfg protocol.SkillConfig, nodes int) {
	if r.emitter == nil {
		return
	}
	payload := []protocol.SkillSummary{{Name: cfg.Name, Nodes: nodes}}
	if len(cfg.Roles) == 0 {
		r.emitter.Broadcast(protocol.EventSkillUpdate, payload)
		return
	}
	for _, role := range cfg.Roles {
		r.emitter.Emit(roles.Room(role), protocol.EventSkillUpdate, payload)
	}
}

// SelectProvider picks a random connected provider of name visible to role,
// skipping the excluded sessions.
func (r *Registry) SelectProvider(role, name string, exclude ...string) (string, bool) {
	r.mu.RLock()
	var candidates []string
	for _, reg := range r.byName[name] {
		if !reg.Connected || !reg.Config.VisibleTo(role) || contains(exclude, reg.SessionID) {
			continue
		}
		candidates = append(candidates, reg.SessionID)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return "", false
	}
	return candidates[r.pick(len(candidates))], true
}

// Aggregate summarizes connected registrations per name, sorted by name.
// An empty role applies no visibility filter and an empty name matches
// every capability.
func (r *Registry) Aggregate(role, name string, withConfig bool) []protocol.SkillSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		if name == "" || n == name {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	out := make([]protocol.SkillSummary, 0, len(names))
	for _, n := range names {
		var (
			first *Registration
			nodes int
		)
		for _, reg := range r.byName[n] {
			if !reg.Connected || (role != "" && !reg.Config.VisibleTo(role)) {
				continue
			}
			if first == nil {
				first = reg
			}
			nodes++
		}
		if first == nil {
			continue
		}
		summary := protocol.SkillSummary{Name: n, Nodes: nodes}
		if withConfig {
			cfg := first.Config
			summary.Config = &cfg
		}
		out = append(out, summary)
	}
	return out
}

// Config returns the aggregated config of name as seen by role.
func (r *Registry) Config(role, name string) (protocol.SkillSummary, bool) {
	if name == "" {
		return protocol.SkillSummary{}, false
	}
	all := r.Aggregate(role, name, true)
	if len(all) == 0 {
		return protocol.SkillSummary{}, false
	}
	return all[0], true
}

// SendAll emits the capability list visible to role into room. Nothing is
// sent while the list is empty.
func (r *Registry) SendAll(role, room string) {
	if r.emitter == nil {
		return
	}
	all := r.Aggregate(role, "", false)
	if len(all) == 0 {
		return
	}
	r.emitter.Emit(room, protocol.EventSkillUpdate, all)
}

// HasFeature reports whether the provider's registration of name declares
// the features. Unknown providers have none.
func (r *Registry) HasFeature(sessionID, name string, features []string, matchAll bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byName[name] {
		if reg.SessionID == sessionID {
			return reg.Config.HasFeature(features, matchAll)
		}
	}
	return false
}

// ProviderConfig returns the config sessionID registered for name.
func (r *Registry) ProviderConfig(sessionID, name string) (protocol.SkillConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byName[name] {
		if reg.SessionID == sessionID {
			return reg.Config, true
		}
	}
	return protocol.SkillConfig{}, false
}

// Provides lists the capability names registered by sessionID.
func (r *Registry) Provides(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, regs := range r.byName {
		for _, reg := range regs {
			if reg.SessionID == sessionID {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of distinct capabilities with a live provider.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
