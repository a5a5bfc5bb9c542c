// Package hub routes outbound events to sessions and broadcast rooms.
package hub

import (
	"sort"
	"sync"

	"github.com/UKPLab/CARE-broker/internal/protocol"
)

// Sender accepts an outbound message for one connection. Send must not
// block; it reports false when the message was dropped.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Emitter is the delivery surface the broker core depends on. A room is
// either a role room or a session id.
type Emitter interface {
	Emit(room string, event protocol.Event, data any)
	Broadcast(event protocol.Event, data any)
}

type Hub struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	rooms    map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}
	onDrop   func(sessionID string, event protocol.Event)
}

func New() *Hub {
	return &Hub{
		senders:  make(map[string]Sender),
		rooms:    make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) SetDropHook(hook func(sessionID string, event protocol.Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = hook
}

// Attach registers the sender for a session and joins its own room.
func (h *Hub) Attach(sessionID string, sender Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.senders[sessionID] = sender
	h.joinLocked(sessionID, sessionID)
}

// Detach removes the sender and leaves every room.
func (h *Hub) Detach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.senders, sessionID)
	for room := range h.memberOf[sessionID] {
		h.leaveLocked(sessionID, room)
	}
	delete(h.memberOf, sessionID)
}

func (h *Hub) Join(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(sessionID, room)
}

func (h *Hub) Leave(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sessionID, room)
}

func (h *Hub) joinLocked(sessionID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[sessionID] = struct{}{}
	rooms, ok := h.memberOf[sessionID]
	if !ok {
		rooms = make(map[string]struct{})
		h.memberOf[sessionID] = rooms
	}
	rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(sessionID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberOf[sessionID]; ok {
		delete(rooms, room)
	}
}

// Rooms returns the sorted room memberships of a session.
func (h *Hub) Rooms(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberOf[sessionID]))
	for room := range h.memberOf[sessionID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Emit(room string, event protocol.Event, data any) {
	msg := protocol.Message{Event: event, Data: data}
	h.mu.RLock()
	targets := make(map[string]Sender, len(h.rooms[room]))
	for id := range h.rooms[room] {
		if s, ok := h.senders[id]; ok {
			targets[id] = s
		}
	}
	onDrop := h.onDrop
	h.mu.RUnlock()
	deliver(targets, msg, onDrop)
}

func (h *Hub) Broadcast(event protocol.Event, data any) {
	msg := protocol.Message{Event: event, Data: data}
	h.mu.RLock()
	targets := make(map[string]Sender, len(h.senders))
	for id, s := range h.senders {
		targets[id] = s
	}
	onDrop := h.onDrop
	h.mu.RUnlock()
	deliver(targets, msg, onDrop)
}

func deliver(targets map[string]Sender, msg protocol.Message, onDrop func(string, protocol.Event)) {
	for id, s := range targets {
		if !s.Send(msg) && onDrop != nil {
			onDrop(id, msg.Event)
		}
	}
}

// Queue is a bounded Sender drained by a connection writer.
type Queue struct {
	ch chan protocol.Message
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan protocol.Message, size)}
}

func (q *Queue) Send(msg protocol.Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

func (q *Queue) C() <-chan protocol.Message { return q.ch }
