package users

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	clients map[string]Client
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:   make(map[string]User),
		clients: make(map[string]Client),
	}
}

func (s *InMemoryStore) GetUser(_ context.Context, key string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[key]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) AuthenticateUser(_ context.Context, key, defaultRole string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[key]
	if !ok {
		u = User{Key: key, Role: defaultRole, CreatedAt: now}
	}
	u.Authenticated++
	u.UpdatedAt = now
	s.users[key] = u
	return u, nil
}

func (s *InMemoryStore) SetUserRole(_ context.Context, key, role string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	s.users[key] = u
	return u, nil
}

func (s *InMemoryStore) EnsureSystemUser(_ context.Context, key string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[key]
	if !ok {
		u = User{Key: key, CreatedAt: now}
	}
	u.Role = "admin"
	u.System = true
	u.UpdatedAt = now
	s.users[key] = u
	return u, nil
}

func (s *InMemoryStore) SaveClient(_ context.Context, client Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client.Metadata != nil {
		client.Metadata = append(json.RawMessage(nil), client.Metadata...)
	}
	s.clients[client.SessionID] = client
	return nil
}

func (s *InMemoryStore) DisconnectAllClients(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for id, c := range s.clients {
		if !c.Connected {
			continue
		}
		c.Connected = false
		c.LastContact = now
		s.clients[id] = c
		n++
	}
	return n, nil
}

// Client returns a stored client record.
func (s *InMemoryStore) Client(sessionID string) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[sessionID]
	return c, ok
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
