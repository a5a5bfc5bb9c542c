// Package hubtest provides a recording hub.Sender for tests.
package hubtest

import (
	"encoding/json"
	"sync"

	"github.com/UKPLab/CARE-broker/internal/protocol"
)

// Recorder keeps every message sent to it, re-encoded as JSON so tests
// observe exactly what a client would receive.
type Recorder struct {
	mu       sync.Mutex
	messages []protocol.Envelope
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(msg protocol.Message) bool {
	data, err := json.Marshal(msg.Data)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, protocol.Envelope{Event: msg.Event, Data: data})
	return true
}

func (r *Recorder) All() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Envelope, len(r.messages))
	copy(out, r.messages)
	return out
}

// Events returns the messages with the given event name.
func (r *Recorder) Events(event protocol.Event) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Envelope
	for _, m := range r.messages {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// ErrorCodes returns the codes of every error event received.
func (r *Recorder) ErrorCodes() []protocol.Code {
	var codes []protocol.Code
	for _, m := range r.Events(protocol.EventError) {
		var p protocol.ErrorPayload
		if err := json.Unmarshal(m.Data, &p); err == nil {
			codes = append(codes, p.Code)
		}
	}
	return codes
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
