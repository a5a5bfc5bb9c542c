package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
)

const (
	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 16 << 20
)

// handleBrokerWS serves one session for the lifetime of the connection.
// Inbound events are dispatched in order; outbound events are queued by the
// hub and written by a single writer goroutine.
func (s *Server) handleBrokerWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip, time.Now()) {
		s.metrics.SessionEvents.WithLabelValues("rate_limited").Inc()
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many connection attempts")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	logger := s.logger.With(zap.String("session_id", sessionID))
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queue := hub.NewQueue(s.cfg.OutboundQueue)
	s.hub.Attach(sessionID, queue)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, queue)
	}()

	s.broker.Connect(ctx, sessionID, ip, requestMetadata(r))
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	logger.Info("session connected", zap.String("ip", ip))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("connection loop panicked", zap.Any("panic", rec))
		}
		cancel()
		s.broker.Disconnect(sessionID)
		s.hub.Detach(sessionID)
		<-writerDone
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.Registrations.Set(float64(s.skills.Count()))
		logger.Info("session disconnected")
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
			logger.Debug("ignoring client message", zap.Error(err))
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(env.Event)).Inc()
		s.broker.Dispatch(ctx, sessionID, env)
		if env.Event == protocol.EventSkillRegister {
			s.metrics.Registrations.Set(float64(s.skills.Count()))
		}
	}
}

// wsWriter is the write side of a websocket connection.
type wsWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// writeLoop drains queue onto conn. A failed write closes conn so the
// blocked reader returns at once instead of waiting out its deadline.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn wsWriter, queue *hub.Queue) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	fail := func() {
		cancel()
		_ = conn.Close()
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				fail()
				return
			}
		case msg := <-queue.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", "write_error").Inc()
				fail()
				return
			}
		}
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// requestMetadata keeps the handshake query and user agent as session
// metadata.
func requestMetadata(r *http.Request) json.RawMessage {
	meta := make(map[string]any)
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	if len(query) > 0 {
		meta["query"] = query
	}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return raw
}
