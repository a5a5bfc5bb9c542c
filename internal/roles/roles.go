// Package roles holds the fixed access tiers and their quota limits.
package roles

import (
	"fmt"
	"sort"
	"sync"

	"github.com/UKPLab/CARE-broker/internal/quota"
)

const (
	Guest = "guest"
	User  = "user"
	Admin = "admin"
)

// Names lists the seeded roles from least to most privileged.
var Names = []string{Guest, User, Admin}

type Role struct {
	Name   string       `json:"name"`
	Limits quota.Limits `json:"quota"`
	Room   string       `json:"room"`
}

// Room returns the broadcast group of a role.
func Room(name string) string {
	return "role:" + name
}

// Table is the role lookup used by the session registry. Limits may be
// replaced at runtime through Apply; the role set itself is fixed.
type Table struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewTable(limits map[string]quota.Limits) *Table {
	t := &Table{roles: make(map[string]Role, len(Names))}
	for _, name := range Names {
		t.roles[name] = Role{Name: name, Limits: limits[name], Room: Room(name)}
	}
	return t
}

func (t *Table) Get(name string) (Role, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.roles[name]
	return r, ok
}

func (t *Table) MustGet(name string) Role {
	r, ok := t.Get(name)
	if !ok {
		panic(fmt.Sprintf("roles: unknown role %q", name))
	}
	return r
}

// Apply updates limits and returns the names of roles whose limits changed.
func (t *Table) Apply(limits map[string]quota.Limits) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []string
	for name, r := range t.roles {
		next, ok := limits[name]
		if !ok || next == r.Limits {
			continue
		}
		r.Limits = next
		t.roles[name] = r
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

func (t *Table) All() []Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Role, 0, len(Names))
	for _, name := range Names {
		out = append(out, t.roles[name])
	}
	return out
}

func Valid(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
