package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SkillConfig is the capability description a provider registers. The
// complete payload is kept in canonical form so configs can be compared and
// relayed without losing fields the broker does not interpret.
type SkillConfig struct {
	Name     string
	Features []string
	Roles    []string
	Output   json.RawMessage

	canonical json.RawMessage
}

// ParseSkillConfig validates and canonicalizes a skillRegister payload.
func ParseSkillConfig(data json.RawMessage) (SkillConfig, error) {
	var generic map[string]any
	if err := DecodeObject(data, &generic); err != nil {
		return SkillConfig{}, err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return SkillConfig{}, fmt.Errorf("canonicalize skill config: %w", err)
	}
	var fields struct {
		Name     any             `json:"name"`
		Features []string        `json:"features"`
		Roles    []string        `json:"roles"`
		Output   json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(canonical, &fields); err != nil {
		return SkillConfig{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	name, _ := fields.Name.(string)
	return SkillConfig{
		Name:      name,
		Features:  fields.Features,
		Roles:     fields.Roles,
		Output:    fields.Output,
		canonical: canonical,
	}, nil
}

// Equal compares the full canonical payloads.
func (c SkillConfig) Equal(other SkillConfig) bool {
	return bytes.Equal(c.canonical, other.canonical)
}

func (c SkillConfig) MarshalJSON() ([]byte, error) {
	if len(c.canonical) == 0 {
		return []byte(`{}`), nil
	}
	return c.canonical, nil
}

func (c *SkillConfig) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSkillConfig(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// HasFeature reports whether any (or, with matchAll, every) feature is
// declared.
func (c SkillConfig) HasFeature(features []string, matchAll bool) bool {
	if len(features) == 0 {
		return false
	}
	declared := make(map[string]struct{}, len(c.Features))
	for _, f := range c.Features {
		declared[f] = struct{}{}
	}
	for _, f := range features {
		_, ok := declared[f]
		if matchAll && !ok {
			return false
		}
		if !matchAll && ok {
			return true
		}
	}
	return matchAll
}

// VisibleTo reports whether a requester with role may see the skill.
func (c SkillConfig) VisibleTo(role string) bool {
	if role == "admin" || len(c.Roles) == 0 {
		return true
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// OutputExample returns output.example, or an empty object.
func (c SkillConfig) OutputExample() json.RawMessage {
	var out struct {
		Example json.RawMessage `json:"example"`
	}
	if len(c.Output) == 0 || json.Unmarshal(c.Output, &out) != nil || !Present(out.Example) {
		return EmptyObject
	}
	return out.Example
}

type StatusMode int

const (
	StatusOff StatusMode = iota
	StatusAlways
	StatusRecent
)

// RequestOptions are the interpreted fields of a skillRequest config.
type RequestOptions struct {
	Simulate      bool
	SimulateDelay time.Duration
	Status        StatusMode
	StatusWindow  time.Duration
	ReturnStats   bool
	MinDelay      time.Duration
	MaxRuntime    time.Duration
	Donate        bool
}

// Options interprets the request config. Unparseable fields are ignored.
func (r SkillRequest) Options() RequestOptions {
	var opts RequestOptions
	if !Present(r.Config) {
		return opts
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(r.Config, &raw); err != nil {
		return opts
	}
	if v, ok := raw["simulate"]; ok {
		opts.Simulate = true
		if secs, ok := number(v); ok && secs == math.Trunc(secs) && secs > 0 {
			opts.SimulateDelay = seconds(secs)
		}
	}
	if v, ok := raw["status"]; ok {
		if b, ok := boolean(v); ok {
			if b {
				opts.Status = StatusAlways
			}
		} else if secs, ok := number(v); ok {
			opts.Status = StatusRecent
			opts.StatusWindow = seconds(secs)
		}
	}
	if v, ok := raw["return_stats"]; ok && Present(v) {
		b, isBool := boolean(v)
		opts.ReturnStats = !isBool || b
	}
	if v, ok := raw["min_delay"]; ok {
		if secs, ok := number(v); ok && secs > 0 {
			opts.MinDelay = seconds(secs)
		}
	}
	if v, ok := raw["max_runtime"]; ok {
		if secs, ok := number(v); ok && secs > 0 {
			opts.MaxRuntime = seconds(secs)
		}
	}
	if v, ok := raw["donate"]; ok {
		opts.Donate, _ = boolean(v)
	}
	return opts
}

func number(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func boolean(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
