package weather

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"stationwatch/internal/audit"
	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/controller"
	"stationwatch/internal/modules/weather/debounce"
	"stationwatch/internal/modules/weather/repository"
	"stationwatch/internal/modules/weather/rules"
	"stationwatch/internal/modules/weather/service"
)

type Options struct {
	QueryTimeout       time.Duration
	MeasurementLimit   int
	RetentionDays      int
	AuditRetentionDays int
}

// Feature is the wired weather module.
type Feature struct {
	Ingest   *service.IngestService
	Stations *service.StationService
	Alerts   *service.AlertService
	Purge    *service.PurgeService
}

// RegisterFeature builds the weather services on db, mounts the HTTP routes
// on mux and attaches the telemetry handler to subscriber when it is not nil.
// auditPurger may be nil when audit entries are not kept in the database.
func RegisterFeature(
	mux *http.ServeMux,
	db *sqlx.DB,
	subscriber MQTTSubscriber,
	recorder audit.Recorder,
	auditPurger service.AuditPurger,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts Options,
) *Feature {
	measurements := repository.NewMeasurementRepository(db, opts.QueryTimeout)
	alerts := repository.NewAlertRepository(db, opts.QueryTimeout)
	stations := repository.NewStationRepository(db, opts.QueryTimeout)

	engine := rules.NewEngine(measurements, clock)
	gate := debounce.NewGate(alerts, clock)

	f := &Feature{
		Ingest:   service.NewIngestService(measurements, stations, engine, gate, clock, logger, m),
		Stations: service.NewStationService(stations, measurements, recorder, clock, logger, m, opts.MeasurementLimit),
		Alerts:   service.NewAlertService(alerts, stations, recorder, clock, logger, m),
		Purge:    service.NewPurgeService(measurements, auditPurger, clock, logger, m, opts.RetentionDays, opts.AuditRetentionDays),
	}

	controller.NewWeatherController(f.Ingest, f.Stations, f.Alerts).RegisterRoutes(mux)
	if subscriber != nil {
		registerMQTTHandler(subscriber, f.Stations, f.Ingest, logger)
	}
	return f
}
