// Package users persists authenticated identities and connected client
// records.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("user not found")

// User is a persistent identity keyed by its public key.
type User struct {
	Key           string    `json:"key"`
	Role          string    `json:"role"`
	Authenticated int       `json:"authenticated"`
	System        bool      `json:"system,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Client records one connection for auditing and startup cleanup.
type Client struct {
	SessionID    string          `json:"session_id"`
	IP           string          `json:"ip"`
	Role         string          `json:"role"`
	UserKey      string          `json:"user_key,omitempty"`
	Connected    bool            `json:"connected"`
	FirstContact time.Time       `json:"first_contact"`
	LastContact  time.Time       `json:"last_contact"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Store persists users and client records.
type Store interface {
	GetUser(ctx context.Context, key string) (User, error)
	// AuthenticateUser creates the user with defaultRole when absent and
	// increments its authentication counter.
	AuthenticateUser(ctx context.Context, key, defaultRole string) (User, error)
	SetUserRole(ctx context.Context, key, role string) (User, error)
	// EnsureSystemUser upserts the broker's own admin identity.
	EnsureSystemUser(ctx context.Context, key string) (User, error)
	SaveClient(ctx context.Context, client Client) error
	// DisconnectAllClients marks every connected client record as
	// disconnected and returns how many were changed.
	DisconnectAllClients(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
