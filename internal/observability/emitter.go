package observability

import (
	"github.com/UKPLab/CARE-broker/internal/hub"
	"github.com/UKPLab/CARE-broker/internal/protocol"
)

type countingEmitter struct {
	next    hub.Emitter
	metrics *Metrics
}

// WrapEmitter counts outbound events and error codes before handing them to
// next.
func (m *Metrics) WrapEmitter(next hub.Emitter) hub.Emitter {
	return &countingEmitter{next: next, metrics: m}
}

func (e *countingEmitter) Emit(room string, event protocol.Event, data any) {
	e.observe(event, data)
	e.next.Emit(room, event, data)
}

func (e *countingEmitter) Broadcast(event protocol.Event, data any) {
	e.observe(event, data)
	e.next.Broadcast(event, data)
}

func (e *countingEmitter) observe(event protocol.Event, data any) {
	e.metrics.WSMessages.WithLabelValues("outbound", string(event)).Inc()
	if p, ok := data.(protocol.ErrorPayload); ok {
		e.metrics.ObserveErrorCode(p.Code)
	}
}
