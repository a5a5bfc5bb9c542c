// Package broker dispatches inbound websocket events to the core components
// and turns their outcomes into error events.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/auth"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/roles"
	"github.com/UKPLab/CARE-broker/internal/session"
	"github.com/UKPLab/CARE-broker/internal/skills"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

// Handler processes one inbound event of a session.
type Handler func(ctx context.Context, sessionID string, data json.RawMessage) Result

type Options struct {
	Sessions *session.Manager
	Skills   *skills.Registry
	Tasks    *tasks.Manager
	Auth     *auth.Handler
	Emitter  hub.Emitter
	Logger   *zap.Logger
}

type Broker struct {
	sessions *session.Manager
	skills   *skills.Registry
	tasks    *tasks.Manager
	auth     *auth.Handler
	emitter  hub.Emitter
	logger   *zap.Logger

	handlers map[protocol.Event]Handler
}

// New wires the core together. Disconnect hooks run task failover before
// the session's skills are unregistered.
func New(opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Broker{
		sessions: opts.Sessions,
		skills:   opts.Skills,
		tasks:    opts.Tasks,
		auth:     opts.Auth,
		emitter:  opts.Emitter,
		logger:   opts.Logger.With(zap.String("component", "broker")),
	}
	b.handlers = map[protocol.Event]Handler{
		protocol.EventAuthRequest:    b.handleAuthRequest,
		protocol.EventAuthResponse:   b.handleAuthResponse,
		protocol.EventAuthStatus:     b.handleAuthStatus,
		protocol.EventSkillRegister:  b.handleSkillRegister,
		protocol.EventSkillGetAll:    b.handleSkillGetAll,
		protocol.EventSkillGetConfig: b.handleSkillGetConfig,
		protocol.EventSkillRequest:   b.handleSkillRequest,
		protocol.EventTaskResults:    b.handleTaskResults,
		protocol.EventTaskUpdate:     b.handleTaskResults,
		protocol.EventRequestAbort:   b.handleRequestAbort,
	}

	// Registrations leave provider selection before open tasks are failed
	// over, so no new task can be routed to the departing session.
	b.sessions.OnDisconnect(func(sessionID string) {
		b.skills.Suspend(sessionID)
	})
	b.sessions.OnDisconnect(b.tasks.TerminateByDisconnect)
	b.sessions.OnDisconnect(func(sessionID string) {
		b.skills.Unregister(sessionID)
	})
	return b
}

// Handle replaces the handler of an event.
func (b *Broker) Handle(event protocol.Event, h Handler) {
	b.handlers[event] = h
}

// Connect registers a new session and sends it the skills a guest can see.
func (b *Broker) Connect(_ context.Context, sessionID, ip string, metadata json.RawMessage) session.Session {
	s := b.sessions.Connect(sessionID, ip, metadata)
	b.skills.SendAll(roles.Guest, s.ID)
	return s
}

func (b *Broker) Disconnect(sessionID string) {
	b.sessions.Disconnect(sessionID)
}

// Dispatch runs the handler for env. Failures and faults are reported to
// the session as error events; the session itself survives either way.
func (b *Broker) Dispatch(ctx context.Context, sessionID string, env protocol.Envelope) {
	h, ok := b.handlers[env.Event]
	if !ok {
		b.logger.Debug("no handler for event", zap.String("event", string(env.Event)))
		return
	}
	res := b.run(ctx, h, sessionID, env)
	if f, ok := res.Failure(); ok {
		b.emitter.Emit(sessionID, protocol.EventError, protocol.ErrorPayload{Code: f.Code, ID: f.ID, Error: f.Detail})
		return
	}
	if err := res.Err(); err != nil {
		b.logger.Error("event handling failed",
			zap.String("session_id", sessionID),
			zap.String("event", string(env.Event)),
			zap.Error(err),
		)
		b.emitter.Emit(sessionID, protocol.EventError, protocol.ErrorPayload{Code: protocol.CodeInternal})
	}
}

func (b *Broker) run(ctx context.Context, h Handler, sessionID string, env protocol.Envelope) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("session_id", sessionID),
				zap.String("event", string(env.Event)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = Result{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return h(ctx, sessionID, env.Data)
}
