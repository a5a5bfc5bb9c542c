package session

import (
	"encoding/json"
	"time"
)

// Session is one connected endpoint.
type Session struct {
	ID           string          `json:"session_id"`
	IP           string          `json:"ip"`
	Role         string          `json:"role"`
	Connected    bool            `json:"connected"`
	FirstContact time.Time       `json:"first_contact"`
	LastContact  time.Time       `json:"last_contact"`
	UserKey      string          `json:"user_key,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`

	// secret is the pending auth challenge; it never leaves the registry.
	secret string
}

// Rooms is the broadcast-group membership surface of the hub.
type Rooms interface {
	Join(sessionID, room string)
	Leave(sessionID, room string)
}

// DisconnectHook runs while the session's quota state still exists.
type DisconnectHook func(sessionID string)
