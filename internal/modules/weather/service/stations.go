package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/apperr"
	"stationwatch/internal/audit"
	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/repository"
	"stationwatch/internal/modules/weather/types"
)

type StationService struct {
	stations     repository.StationRepository
	measurements repository.MeasurementRepository
	audit        audit.Recorder
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	limit        int
}

// NewStationService returns the station service. limit caps how many readings
// a history query returns.
func NewStationService(
	stations repository.StationRepository,
	measurements repository.MeasurementRepository,
	recorder audit.Recorder,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
	limit int,
) *StationService {
	return &StationService{
		stations:     stations,
		measurements: measurements,
		audit:        recorder,
		clock:        clock,
		logger:       logger,
		metrics:      m,
		limit:        limit,
	}
}

func (s *StationService) Exists(ctx context.Context, id string) (bool, error) {
	return s.stations.Exists(ctx, id)
}

func (s *StationService) Get(ctx context.Context, id string) (types.Station, error) {
	return s.stations.Get(ctx, id)
}

func (s *StationService) List(ctx context.Context) ([]types.Station, error) {
	return s.stations.List(ctx)
}

func (s *StationService) Create(ctx context.Context, actor, name string, location *string) (types.Station, error) {
	name = strings.TrimSpace(name)
	if n := len([]rune(name)); n < 2 || n > 100 {
		return types.Station{}, apperr.Validation("create station", "station name must be between 2 and 100 characters")
	}
	var owner *string
	if actor != "" {
		owner = &actor
	}
	station, err := s.stations.Create(ctx, owner, name, location, s.clock.Now())
	if err != nil {
		return types.Station{}, err
	}
	s.audit.Emit(ctx, audit.Event{
		Action:       audit.ActionStationCreated,
		UserID:       actor,
		ResourceType: "station",
		ResourceID:   station.ID,
		Details:      map[string]any{"stationName": station.Name},
	})
	return station, nil
}

// DeleteStation removes the station and everything referencing it in one
// transaction. It returns false when the station does not exist. The audit
// event is emitted after commit and carries the station's identity in its
// details only, so no remaining audit entry references the removed station.
func (s *StationService) DeleteStation(ctx context.Context, id string, actor string) (bool, error) {
	station, ok, err := s.stations.DeleteCascade(ctx, id)
	if err != nil {
		s.metrics.StationDeleteAborts.Inc()
		s.logger.Error("station deletion rolled back", "station_id", id, "error", err)
		return false, err
	}
	if !ok {
		return false, nil
	}
	s.metrics.StationsDeleted.Inc()

	details := map[string]any{
		"stationId":   station.ID,
		"stationName": station.Name,
	}
	if station.Location != nil {
		details["stationLocation"] = *station.Location
	}
	s.audit.Emit(ctx, audit.Event{
		Action:  audit.ActionStationDeleted,
		UserID:  actor,
		Details: details,
	})
	s.logger.Info("station deleted", "station_id", id)
	return true, nil
}

// Readings returns the station's readings for the period, newest first.
func (s *StationService) Readings(ctx context.Context, id string, period types.Period) ([]types.Reading, error) {
	now := s.clock.Now()
	return s.ReadingsBetween(ctx, id, now.Add(-period.Duration()), now)
}

func (s *StationService) ReadingsBetween(ctx context.Context, id string, from, to time.Time) ([]types.Reading, error) {
	if err := s.mustExist(ctx, id, "list readings"); err != nil {
		return nil, err
	}
	return s.measurements.Range(ctx, id, from, to, s.limit)
}

func (s *StationService) LatestReading(ctx context.Context, id string) (*types.Reading, error) {
	if err := s.mustExist(ctx, id, "latest reading"); err != nil {
		return nil, err
	}
	return s.measurements.Latest(ctx, id)
}

func (s *StationService) ReadingStats(ctx context.Context, id string, period types.Period) (types.ReadingStats, error) {
	if err := s.mustExist(ctx, id, "reading stats"); err != nil {
		return types.ReadingStats{}, err
	}
	return s.measurements.Stats(ctx, id, s.clock.Now().Add(-period.Duration()))
}

func (s *StationService) mustExist(ctx context.Context, id, op string) error {
	ok, err := s.stations.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(op)
	}
	return nil
}
