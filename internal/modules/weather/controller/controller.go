package controller

import (
	"context"
	"net/http"
	"time"

	"stationwatch/internal/modules/weather/types"
)

type Ingester interface {
	RecordReading(ctx context.Context, stationID string, fields types.MeasurementFields) (types.IngestResult, error)
}

type Stations interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (types.Station, error)
	List(ctx context.Context) ([]types.Station, error)
	Create(ctx context.Context, actor, name string, location *string) (types.Station, error)
	DeleteStation(ctx context.Context, id, actor string) (bool, error)
	Readings(ctx context.Context, id string, period types.Period) ([]types.Reading, error)
	ReadingsBetween(ctx context.Context, id string, from, to time.Time) ([]types.Reading, error)
	LatestReading(ctx context.Context, id string) (*types.Reading, error)
	ReadingStats(ctx context.Context, id string, period types.Period) (types.ReadingStats, error)
}

type Alerts interface {
	StationAlerts(ctx context.Context, stationID string, filter types.AlertFilter) ([]types.Alert, error)
	CriticalAlerts(ctx context.Context, limit int, actor string) ([]types.CriticalAlert, error)
	Resolve(ctx context.Context, alertID, actor string) (types.Alert, error)
	Stats(ctx context.Context, stationID string) (types.AlertStats, error)
}

type weatherController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type weatherControllerImpl struct {
	ingest   Ingester
	stations Stations
	alerts   Alerts
}

func NewWeatherController(ingest Ingester, stations Stations, alerts Alerts) weatherController {
	return &weatherControllerImpl{ingest: ingest, stations: stations, alerts: alerts}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/measurements", c.handleIngest)

	mux.HandleFunc("GET /api/v1/stations", c.handleListStations)
	mux.HandleFunc("POST /api/v1/stations", c.handleCreateStation)
	mux.HandleFunc("GET /api/v1/stations/{id}", c.handleGetStation)
	mux.HandleFunc("DELETE /api/v1/stations/{id}", c.handleDeleteStation)
	mux.HandleFunc("GET /api/v1/stations/{id}/measurements", c.handleReadings)
	mux.HandleFunc("GET /api/v1/stations/{id}/measurements/latest", c.handleLatest)
	mux.HandleFunc("GET /api/v1/stations/{id}/measurements/stats", c.handleReadingStats)
	mux.HandleFunc("GET /api/v1/stations/{id}/alerts", c.handleStationAlerts)

	mux.HandleFunc("GET /api/v1/alerts/critical", c.handleCriticalAlerts)
	mux.HandleFunc("GET /api/v1/alerts/stats", c.handleAlertStats)
	mux.HandleFunc("PUT /api/v1/alerts/{id}/resolve", c.handleResolve)
}
