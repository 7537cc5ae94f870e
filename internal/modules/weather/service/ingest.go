package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/apperr"
	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/debounce"
	"stationwatch/internal/modules/weather/repository"
	"stationwatch/internal/modules/weather/rules"
	"stationwatch/internal/modules/weather/types"
)

// IngestService stores readings and raises the alerts they trigger.
type IngestService struct {
	measurements repository.MeasurementRepository
	stations     repository.StationRepository
	engine       *rules.Engine
	gate         *debounce.Gate
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

func NewIngestService(
	measurements repository.MeasurementRepository,
	stations repository.StationRepository,
	engine *rules.Engine,
	gate *debounce.Gate,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *IngestService {
	return &IngestService{
		measurements: measurements,
		stations:     stations,
		engine:       engine,
		gate:         gate,
		clock:        clock,
		logger:       logger,
		metrics:      m,
	}
}

// RecordReading persists a reading for an existing station and returns it with
// the alerts it raised. Once the reading is stored the call succeeds: alert
// failures are logged and reported as zero alerts, and the last_seen update
// is best-effort.
func (s *IngestService) RecordReading(ctx context.Context, stationID string, fields types.MeasurementFields) (types.IngestResult, error) {
	start := time.Now()
	defer func() { s.metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	stationID = strings.TrimSpace(stationID)
	if err := validateReading(stationID, fields); err != nil {
		s.metrics.IngestFailures.WithLabelValues("validation").Inc()
		return types.IngestResult{}, err
	}

	reading, err := s.measurements.Insert(ctx, stationID, fields, s.clock.Now())
	if err != nil {
		s.metrics.IngestFailures.WithLabelValues("persistence").Inc()
		return types.IngestResult{}, err
	}
	s.metrics.ReadingsIngested.Inc()

	alerts := s.processAlerts(ctx, reading)
	s.touchLastSeen(ctx, stationID)

	s.logger.Debug("reading recorded",
		"station_id", stationID,
		"reading_id", reading.ID,
		"alerts", len(alerts),
	)
	return types.IngestResult{Reading: reading, Alerts: alerts, AlertCount: len(alerts)}, nil
}

func (s *IngestService) processAlerts(ctx context.Context, reading types.Reading) (alerts []types.Alert) {
	alerts = []types.Alert{}
	if !reading.Monitored() {
		return alerts
	}

	defer func() {
		if p := recover(); p != nil {
			s.reportAlertFailure(reading.StationID, "", apperr.AlertProcessing("process alerts", fmt.Errorf("panic: %v", p)))
			alerts = []types.Alert{}
		}
	}()

	for c, err := range s.engine.Evaluate(ctx, reading) {
		if err != nil {
			s.reportAlertFailure(reading.StationID, c.AlertType, err)
			continue
		}
		alert, stored, err := s.gate.Admit(ctx, c)
		if err != nil {
			s.reportAlertFailure(reading.StationID, c.AlertType, apperr.AlertProcessing("debounce "+string(c.AlertType), err))
			continue
		}
		if !stored {
			s.metrics.AlertsSuppressed.WithLabelValues(string(c.AlertType)).Inc()
			continue
		}
		s.metrics.AlertsCreated.WithLabelValues(string(alert.AlertType), string(alert.Severity)).Inc()
		s.logger.Info("alert raised",
			"station_id", alert.StationID,
			"alert_id", alert.ID,
			"type", alert.AlertType,
			"severity", alert.Severity,
		)
		alerts = append(alerts, alert)
	}
	return alerts
}

func (s *IngestService) reportAlertFailure(stationID string, alertType types.AlertType, err error) {
	label := string(alertType)
	if label == "" {
		label = "unknown"
	}
	s.metrics.AlertProcessingErrors.WithLabelValues(label).Inc()
	s.logger.Error("alert processing failed",
		"station_id", stationID,
		"type", label,
		"error", err,
	)
}

func (s *IngestService) touchLastSeen(ctx context.Context, stationID string) {
	if err := s.stations.TouchLastSeen(ctx, stationID, s.clock.Now()); err != nil {
		s.metrics.StationTouchFailures.Inc()
		s.logger.Warn("station last_seen update failed",
			"station_id", stationID,
			"error", err,
		)
	}
}
