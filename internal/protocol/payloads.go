package protocol

import (
	"encoding/json"
	"time"
)

type AuthChallenge struct {
	Secret string `json:"secret"`
}

type AuthResponse struct {
	Pub string `json:"pub"`
	Sig string `json:"sig"`
}

type AuthInfo struct {
	Role string `json:"role"`
}

type SkillGetConfig struct {
	Name string `json:"name"`
}

// SkillSummary is one entry of a skillUpdate list.
type SkillSummary struct {
	Name   string       `json:"name"`
	Nodes  int          `json:"nodes"`
	Config *SkillConfig `json:"config,omitempty"`
}

// SkillRequest is sent by a requester. ID and ClientID are echoed back
// verbatim in results.
type SkillRequest struct {
	ID       json.RawMessage `json:"id,omitempty"`
	ClientID json.RawMessage `json:"clientId,omitempty"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// TaskResult is reported by a provider with taskResults or taskUpdate.
type TaskResult struct {
	ID     json.RawMessage `json:"id"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	Status string          `json:"status,omitempty"`
	Stats  json.RawMessage `json:"stats,omitempty"`
}

// Valid reports whether the result carries an id plus data, error or status.
func (r TaskResult) Valid() bool {
	if _, ok := IDString(r.ID); !ok {
		return false
	}
	return Present(r.Data) || Present(r.Error) || r.Status != ""
}

type RequestAbort struct {
	ID json.RawMessage `json:"id"`
}

type TaskRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data"`
}

type TaskKill struct {
	ID string `json:"id"`
}

type Stats struct {
	Duration float64         `json:"duration"`
	Host     string          `json:"host"`
	Result   json.RawMessage `json:"result,omitempty"`
}

type SkillResults struct {
	ID       json.RawMessage `json:"id"`
	ClientID json.RawMessage `json:"clientId,omitempty"`
	Data     json.RawMessage `json:"data"`
	Stats    *Stats          `json:"stats,omitempty"`
}

type StatusEntry struct {
	Status  string          `json:"status"`
	Updated time.Time       `json:"updated"`
	Data    json.RawMessage `json:"data"`
}

type SkillStatus struct {
	ID       json.RawMessage `json:"id"`
	ClientID json.RawMessage `json:"clientId,omitempty"`
	Data     []StatusEntry   `json:"data"`
}

type ErrorPayload struct {
	Code  Code            `json:"code"`
	ID    json.RawMessage `json:"id,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

// EmptyObject is the data value used when a result carries no data.
var EmptyObject = json.RawMessage(`{}`)
