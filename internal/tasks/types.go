package tasks

import (
	"encoding/json"
	"time"

	"github.com/UKPLab/CARE-broker/internal/protocol"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
	StatusAborted  Status = "aborted"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusAborted:
		return true
	default:
		return false
	}
}

// reserved reports whether a provider-reported status would collide with a
// lifecycle state the broker owns.
func (s Status) reserved() bool {
	return s == StatusCreated || s.Terminal()
}

// Task is one unit of work from creation to a terminal state.
type Task struct {
	ID          string                `json:"id"`
	RequesterID string                `json:"requester_id"`
	ProviderID  string                `json:"provider_id,omitempty"`
	Skill       string                `json:"skill"`
	Request     protocol.SkillRequest `json:"request"`
	Status      Status                `json:"status"`
	ParentID    string                `json:"parent_id,omitempty"`
	Simulated   bool                  `json:"simulated,omitempty"`
	Donate      bool                  `json:"donate,omitempty"`
	MaxRuntime  time.Duration         `json:"max_runtime,omitempty"`
	Duration    time.Duration         `json:"duration,omitempty"`
	Result      json.RawMessage       `json:"result,omitempty"`
	Error       json.RawMessage       `json:"error,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	FinishedBy  string                `json:"finished_by,omitempty"`
	Updates     []Update              `json:"updates,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	EndedAt     *time.Time            `json:"ended_at,omitempty"`
}

// Update is one provider status report kept in the task log.
type Update struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"at"`
	Sent   bool            `json:"sent"`
}

// CreateRequest describes a task to start. ReservationID, when set, is the
// requester's job reservation the task takes over.
type CreateRequest struct {
	RequesterID   string
	ProviderID    string
	ReservationID string
	ParentID      string
	Request       protocol.SkillRequest
}

func (t Task) Clone() Task {
	out := t
	if t.Updates != nil {
		out.Updates = make([]Update, len(t.Updates))
		copy(out.Updates, t.Updates)
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func (t Task) Terminal() bool {
	return t.Status.Terminal()
}

// Deadline returns when the task exceeds its max runtime, if it has one.
func (t Task) Deadline() (time.Time, bool) {
	if t.MaxRuntime <= 0 {
		return time.Time{}, false
	}
	return t.CreatedAt.Add(t.MaxRuntime), true
}

// ExternalID is the requester-chosen request id as a string.
func (t Task) ExternalID() (string, bool) {
	return protocol.IDString(t.Request.ID)
}
