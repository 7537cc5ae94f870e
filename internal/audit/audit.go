// Package audit records who did what to which resource. Events fan out to one
// or more sinks; a failing sink is logged and counted but never fails the
// operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"stationwatch/internal/metrics"
)

type Action string

const (
	ActionStationCreated       Action = "STATION_CREATED"
	ActionStationDeleted       Action = "STATION_DELETED"
	ActionAlertResolved        Action = "ALERT_RESOLVED"
	ActionViewedCriticalAlerts Action = "VIEWED_CRITICAL_ALERTS"
)

// Event is one audit entry. ResourceType and ResourceID are empty for events
// that must not reference a resource.
type Event struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action"`
	UserID       string         `json:"userId,omitempty"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

type Sink interface {
	Name() string
	Record(ctx context.Context, e Event) error
}

// Recorder is what services depend on.
type Recorder interface {
	Emit(ctx context.Context, e Event)
}

type Emitter struct {
	sinks   []Sink
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewEmitter(clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, clock: clock, logger: logger, metrics: m}
}

// Emit stamps e with an id and timestamp when missing and hands it to every
// sink. Sinks run with a context that is not cancelled with the caller's.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.clock.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)

	for _, sink := range e.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			e.metrics.AuditSinkErrors.WithLabelValues(sink.Name()).Inc()
			e.logger.Warn("audit sink failed",
				"sink", sink.Name(),
				"action", ev.Action,
				"event_id", ev.ID,
				"error", err,
			)
		}
	}
}
