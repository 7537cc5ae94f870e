package service

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/apperr"
	"stationwatch/internal/audit"
	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/repository"
	"stationwatch/internal/modules/weather/types"
)

const (
	DefaultAlertLimit    = 100
	MaxAlertLimit        = 1000
	DefaultCriticalLimit = 50
)

type AlertService struct {
	alerts   repository.AlertRepository
	stations repository.StationRepository
	audit    audit.Recorder
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewAlertService(
	alerts repository.AlertRepository,
	stations repository.StationRepository,
	recorder audit.Recorder,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *AlertService {
	return &AlertService{alerts: alerts, stations: stations, audit: recorder, clock: clock, logger: logger, metrics: m}
}

// StationAlerts lists a station's alerts newest first. The limit defaults to
// 100 and is capped at 1000.
func (s *AlertService) StationAlerts(ctx context.Context, stationID string, filter types.AlertFilter) ([]types.Alert, error) {
	ok, err := s.stations.Exists(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("station alerts")
	}
	filter.Limit = clampLimit(filter.Limit, DefaultAlertLimit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.alerts.ListByStation(ctx, stationID, filter)
}

// CriticalAlerts lists unresolved high and critical alerts across all
// stations and records that the actor viewed them.
func (s *AlertService) CriticalAlerts(ctx context.Context, limit int, actor string) ([]types.CriticalAlert, error) {
	out, err := s.alerts.ListCritical(ctx, clampLimit(limit, DefaultCriticalLimit))
	if err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, audit.Event{
		Action:  audit.ActionViewedCriticalAlerts,
		UserID:  actor,
		Details: map[string]any{"count": len(out)},
	})
	return out, nil
}

// Resolve marks an alert resolved. Resolving an already resolved alert is
// accepted and re-stamps resolved_at.
func (s *AlertService) Resolve(ctx context.Context, alertID string, actor string) (types.Alert, error) {
	alert, err := s.alerts.Resolve(ctx, alertID, s.clock.Now())
	if err != nil {
		return types.Alert{}, err
	}
	s.metrics.AlertsResolved.Inc()
	s.audit.Emit(ctx, audit.Event{
		Action:       audit.ActionAlertResolved,
		UserID:       actor,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		Details: map[string]any{
			"stationId": alert.StationID,
			"alertType": alert.AlertType,
		},
	})
	s.logger.Info("alert resolved", "alert_id", alert.ID, "station_id", alert.StationID)
	return alert, nil
}

// Stats summarises alerts for one station, or for all stations when
// stationID is empty.
func (s *AlertService) Stats(ctx context.Context, stationID string) (types.AlertStats, error) {
	return s.alerts.Stats(ctx, stationID)
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxAlertLimit {
		return MaxAlertLimit
	}
	return limit
}
