package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Event identifies a websocket message variant.
type Event string

// Inbound events.
const (
	EventAuthRequest    Event = "authRequest"
	EventAuthResponse   Event = "authResponse"
	EventAuthStatus     Event = "authStatus"
	EventSkillRegister  Event = "skillRegister"
	EventSkillGetAll    Event = "skillGetAll"
	EventSkillGetConfig Event = "skillGetConfig"
	EventSkillRequest   Event = "skillRequest"
	EventTaskResults    Event = "taskResults"
	EventTaskUpdate     Event = "taskUpdate"
	EventRequestAbort   Event = "requestAbort"
)

// Outbound events.
const (
	EventAuthChallenge Event = "authChallenge"
	EventAuthInfo      Event = "authInfo"
	EventSkillUpdate   Event = "skillUpdate"
	EventSkillConfig   Event = "skillConfig"
	EventTaskRequest   Event = "taskRequest"
	EventTaskKill      Event = "taskKill"
	EventSkillResults  Event = "skillResults"
	EventSkillStatus   Event = "skillStatus"
	EventError         Event = "error"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidPayload  = errors.New("invalid payload")
)

var inbound = map[Event]struct{}{
	EventAuthRequest:    {},
	EventAuthResponse:   {},
	EventAuthStatus:     {},
	EventSkillRegister:  {},
	EventSkillGetAll:    {},
	EventSkillGetConfig: {},
	EventSkillRequest:   {},
	EventTaskResults:    {},
	EventTaskUpdate:     {},
	EventRequestAbort:   {},
}

// Envelope is the frame exchanged on the channel in both directions.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame before encoding.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

// ParseClientMessage decodes an inbound frame. Payloads that arrive as a JSON
// string holding an encoded object are unwrapped, which some socket clients
// produce.
func ParseClientMessage(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if _, ok := inbound[env.Event]; !ok {
		return Envelope{}, ErrUnsupportedType
	}
	env.Data = unwrapStringPayload(env.Data)
	return env, nil
}

func unwrapStringPayload(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return data
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return data
	}
	innerBytes := bytes.TrimSpace([]byte(inner))
	if len(innerBytes) == 0 || innerBytes[0] != '{' || !json.Valid(innerBytes) {
		return data
	}
	return json.RawMessage(innerBytes)
}

// DecodeObject unmarshals a payload that must be a JSON object.
func DecodeObject(data json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Present reports whether a raw field was supplied with a non-null value.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// StringID encodes a broker-generated identifier for a payload id field.
func StringID(id string) json.RawMessage {
	b, _ := json.Marshal(id)
	return b
}

// IDString normalizes an id field that may be sent as a string or a number.
func IDString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false
		}
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return n.String(), true
	default:
		return "", false
	}
}
