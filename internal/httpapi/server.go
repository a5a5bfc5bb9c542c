package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/UKPLab/CARE-broker/internal/broker"
	"github.com/UKPLab/CARE-broker/internal/config"
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/observability"
	"github.com/UKPLab/CARE-broker/internal/roles"
	"github.com/UKPLab/CARE-broker/internal/session"
	"github.com/UKPLab/CARE-broker/internal/skills"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

type Deps struct {
	Broker   *broker.Broker
	Hub      *hub.Hub
	Sessions *session.Manager
	Skills   *skills.Registry
	Tasks    *tasks.Manager
	Metrics  *observability.Metrics
	// Ready reports whether the backing store is reachable.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

type Server struct {
	cfg      config.Config
	broker   *broker.Broker
	hub      *hub.Hub
	sessions *session.Manager
	skills   *skills.Registry
	tasks    *tasks.Manager
	metrics  *observability.Metrics
	ready    func(ctx context.Context) error
	limiter  *connectLimiter
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		broker:   deps.Broker,
		hub:      deps.Hub,
		sessions: deps.Sessions,
		skills:   deps.Skills,
		tasks:    deps.Tasks,
		metrics:  deps.Metrics,
		ready:    deps.Ready,
		limiter:  newConnectLimiter(cfg.ConnectRate, cfg.ConnectBurst),
		logger:   deps.Logger.With(zap.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Providers and scripted clients usually omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/broker/ws", s.handleBrokerWS)
	r.Get("/v1/skills", s.handleListSkills)
	r.Get("/v1/stats", s.handleStats)

	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Post("/v1/tasks/{id}/abort", s.handleAbortTask)
	return r
}

// RunJanitor drops idle per-IP limiters until ctx ends.
func (s *Server) RunJanitor(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.limiter.prune(now, 3*time.Minute)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"store":           s.cfg.Store.Driver,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"store":  s.cfg.Store.Driver,
	})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		role = roles.Guest
	}
	if !roles.Valid(role) {
		respondError(w, http.StatusBadRequest, "invalid_role", "unknown role "+role)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"role":   role,
		"skills": s.skills.Aggregate(role, "", true),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := s.tasks.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": map[string]any{
			"active":  s.sessions.ActiveCount(),
			"by_role": s.sessions.CountByRole(),
		},
		"skills": map[string]any{
			"registrations": s.skills.Count(),
		},
		"tasks": map[string]any{
			"open":      s.tasks.OpenCount(),
			"by_status": byStatus,
		},
		"durations": s.metrics.Durations.Snapshot(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
