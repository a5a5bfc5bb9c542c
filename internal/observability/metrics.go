package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UKPLab/CARE-broker/internal/protocol"
	"github.com/UKPLab/CARE-broker/internal/tasks"
)

// Metrics groups all Prometheus instruments used by the broker.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	ErrorCodes      *prometheus.CounterVec
	OutboundDropped *prometheus.CounterVec
	TasksEnded      *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	Registrations   prometheus.Gauge

	// Durations keeps recent task durations per skill for /v1/stats.
	Durations *DurationWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected websocket sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and event.",
		}, []string{"direction", "event"}),
		ErrorCodes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_events_total",
			Help:      "Error events sent to clients by code.",
		}, []string{"code"}),
		OutboundDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound messages dropped on a full connection queue.",
		}, []string{"event"}),
		TasksEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_ended_total",
			Help:      "Tasks reaching a terminal state by skill and status.",
		}, []string{"skill", "status"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to its terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"skill"}),
		Registrations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skill_registrations",
			Help:      "Number of connected skill registrations.",
		}),
		Durations: NewDurationWindow(256),
	}
}

// TaskEnded records a terminal task.
func (m *Metrics) TaskEnded(skill string, status tasks.Status, d time.Duration) {
	m.TasksEnded.WithLabelValues(skill, string(status)).Inc()
	if status == tasks.StatusFinished {
		m.TaskDuration.WithLabelValues(skill).Observe(d.Seconds())
		m.Durations.Observe(skill, d)
	}
}

// ObserveDrop is installed as the hub drop hook.
func (m *Metrics) ObserveDrop(_ string, event protocol.Event) {
	m.OutboundDropped.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) ObserveErrorCode(code protocol.Code) {
	m.ErrorCodes.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
