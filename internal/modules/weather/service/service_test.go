package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stationwatch/internal/apperr"
	"stationwatch/internal/audit"
	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/debounce"
	"stationwatch/internal/modules/weather/repository"
	"stationwatch/internal/modules/weather/rules"
	"stationwatch/internal/modules/weather/types"
	dbtest "stationwatch/internal/testutil"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	db           *sqlx.DB
	clock        *clockwork.FakeClock
	metrics      *metrics.Metrics
	audit        *recorder
	stationRepo  repository.StationRepository
	alertRepo    repository.AlertRepository
	measurements repository.MeasurementRepository
	ingest       *IngestService
	alerts       *AlertService
	stations     *StationService
}

func newHarness(t *testing.T, extraRules ...rules.Rule) *harness {
	t.Helper()
	conn := dbtest.OpenDB(t)
	clock := clockwork.NewFakeClockAt(start)
	m := metrics.NewMetricsForTesting()
	rec := &recorder{}
	logger := slog.Default()

	h := &harness{
		db:           conn,
		clock:        clock,
		metrics:      m,
		audit:        rec,
		stationRepo:  repository.NewStationRepository(conn, time.Second),
		alertRepo:    repository.NewAlertRepository(conn, time.Second),
		measurements: repository.NewMeasurementRepository(conn, time.Second),
	}

	engine := rules.NewEngine(h.measurements, clock)
	if len(extraRules) > 0 {
		engine = rules.NewEngineWithRules(extraRules...)
	}
	gate := debounce.NewGate(h.alertRepo, clock)
	h.ingest = NewIngestService(h.measurements, h.stationRepo, engine, gate, clock, logger, m)
	h.alerts = NewAlertService(h.alertRepo, h.stationRepo, rec, clock, logger, m)
	h.stations = NewStationService(h.stationRepo, h.measurements, rec, clock, logger, m, 1000)
	return h
}

func (h *harness) station(t *testing.T, name string) types.Station {
	t.Helper()
	loc := "Ridge " + name
	s, err := h.stations.Create(context.Background(), "user-1", name, &loc)
	require.NoError(t, err)
	return s
}

func (h *harness) record(t *testing.T, stationID string, f types.MeasurementFields) types.IngestResult {
	t.Helper()
	res, err := h.ingest.RecordReading(context.Background(), stationID, f)
	require.NoError(t, err)
	return res
}

func TestRecordReading_FrostOnFreshStation(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	res := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(-15), Humidity: ptr(50), Pressure: ptr(1013)})

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, res.AlertCount)
	assert.Equal(t, types.AlertFrost, res.Alerts[0].AlertType)
	assert.Equal(t, types.SeverityHigh, res.Alerts[0].Severity)
	assert.Equal(t, "Frost warning: Temperature dropped to -15°C", res.Alerts[0].Description)
	assert.Equal(t, s.ID, res.Reading.StationID)
	assert.True(t, res.Reading.RecordedAt.Equal(start))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReadingsIngested))
}

func TestRecordReading_HeatAndHumidity(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	res := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(40), Humidity: ptr(95)})

	require.Len(t, res.Alerts, 2)
	got := map[types.AlertType]types.Severity{}
	for _, a := range res.Alerts {
		got[a.AlertType] = a.Severity
	}
	assert.Equal(t, map[types.AlertType]types.Severity{
		types.AlertExtremeHeat:  types.SeverityHigh,
		types.AlertHighHumidity: types.SeverityMedium,
	}, got)
}

func TestRecordReading_NoAlerts(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	res := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(20), Humidity: ptr(50), Pressure: ptr(1013)})
	assert.NotNil(t, res.Alerts)
	assert.Empty(t, res.Alerts)

	res = h.record(t, s.ID, types.MeasurementFields{WindSpeed: ptr(12), Rainfall: ptr(3)})
	assert.NotNil(t, res.Alerts)
	assert.Equal(t, 0, res.AlertCount)
}

func TestRecordReading_FrostDebounced(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	first := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(-2)})
	require.Len(t, first.Alerts, 1)

	h.clock.Advance(10 * time.Minute)
	second := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(-3)})
	assert.Empty(t, second.Alerts)

	n := dbtest.Count(t, h.db, "system_alerts", "station_id = ? AND alert_type = ? AND is_resolved = FALSE", s.ID, string(types.AlertFrost))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertsSuppressed.WithLabelValues(string(types.AlertFrost))))

	h.clock.Advance(time.Hour)
	third := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(-3)})
	assert.Len(t, third.Alerts, 1, "window elapsed, a new frost alert is raised")
}

func TestRecordReading_StormWarning(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	first := h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1013)})
	assert.Empty(t, first.Alerts, "a single reading has no history to compare with")

	h.clock.Advance(20 * time.Minute)
	second := h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1006)})
	require.Len(t, second.Alerts, 1)
	storm := second.Alerts[0]
	assert.Equal(t, types.AlertStorm, storm.AlertType)
	assert.Equal(t, types.SeverityMedium, storm.Severity)
	require.NotNil(t, storm.PressureChange)
	assert.InDelta(t, 7.0, *storm.PressureChange, 1e-9)
	assert.Equal(t, "Pressure drop detected: 7.00 hPa in last hour (from 1013 to 1006)", storm.Description)

	h.clock.Advance(10 * time.Minute)
	third := h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1000)})
	assert.Empty(t, third.Alerts, "storm warning is debounced")
}

func TestRecordReading_StormWindowExcludesOldReadings(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1030)})
	h.clock.Advance(time.Hour)
	res := h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1000)})
	assert.Empty(t, res.Alerts, "a reading exactly one hour old is outside the window")
}

func TestRecordReading_StormHighSeverity(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")

	h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1020)})
	h.clock.Advance(30 * time.Minute)
	res := h.record(t, s.ID, types.MeasurementFields{Pressure: ptr(1008)})
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, types.SeverityHigh, res.Alerts[0].Severity)
}

type failingRule struct{ typ types.AlertType }

func (f failingRule) Type() types.AlertType { return f.typ }

func (f failingRule) Check(context.Context, types.Reading) (*types.Candidate, error) {
	return nil, errors.New("rule exploded")
}

func TestRecordReading_RuleFailureKeepsReading(t *testing.T) {
	h := newHarness(t, failingRule{typ: types.AlertStorm}, rules.FrostRule{})
	s := h.station(t, "alpha")

	res := h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(-1), Pressure: ptr(1000)})
	require.Len(t, res.Alerts, 1, "other rules still run")
	assert.Equal(t, types.AlertFrost, res.Alerts[0].AlertType)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertProcessingErrors.WithLabelValues(string(types.AlertStorm))))

	h2 := newHarness(t, failingRule{typ: types.AlertStorm})
	s2 := h2.station(t, "beta")
	res2 := h2.record(t, s2.ID, types.MeasurementFields{Pressure: ptr(1000)})
	assert.Empty(t, res2.Alerts)

	latest, err := h2.measurements.Latest(context.Background(), s2.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res2.Reading.ID, latest.ID)
}

func TestRecordReading_AlertStoreFailureKeepsReading(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")
	dbtest.MustExec(t, h.db, `DROP TABLE system_alerts`)

	res, err := h.ingest.RecordReading(context.Background(), s.ID, types.MeasurementFields{Temperature: ptr(-20), Humidity: ptr(99)})
	require.NoError(t, err)
	assert.NotNil(t, res.Alerts)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, 0, res.AlertCount)
	assert.Equal(t, 1, dbtest.Count(t, h.db, "measurements", "station_id = ?", s.ID))
}

func TestRecordReading_TouchesLastSeen(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")
	h.clock.Advance(5 * time.Minute)

	h.record(t, s.ID, types.MeasurementFields{Temperature: ptr(12)})

	got, err := h.stations.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(start.Add(5*time.Minute)))
}

func TestRecordReading_TouchFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")
	dbtest.MustExec(t, h.db, `CREATE TRIGGER fail_touch BEFORE UPDATE ON stations
		BEGIN SELECT RAISE(ABORT, 'touch failed'); END`)

	res, err := h.ingest.RecordReading(context.Background(), s.ID, types.MeasurementFields{Temperature: ptr(12)})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reading.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StationTouchFailures))
}

func TestRecordReading_Validation(t *testing.T) {
	tests := []struct {
		name      string
		stationID string
		fields    types.MeasurementFields
	}{
		{name: "empty station id", stationID: "  ", fields: types.MeasurementFields{Temperature: ptr(1)}},
		{name: "nan temperature", fields: types.MeasurementFields{Temperature: ptr(math.NaN())}},
		{name: "infinite pressure", fields: types.MeasurementFields{Pressure: ptr(math.Inf(1))}},
		{name: "humidity above 100", fields: types.MeasurementFields{Humidity: ptr(100.5)}},
		{name: "negative humidity", fields: types.MeasurementFields{Humidity: ptr(-1)}},
		{name: "zero pressure", fields: types.MeasurementFields{Pressure: ptr(0)}},
		{name: "negative wind", fields: types.MeasurementFields{WindSpeed: ptr(-2)}},
		{name: "negative rainfall", fields: types.MeasurementFields{Rainfall: ptr(-0.1)}},
		{name: "negative light", fields: types.MeasurementFields{LightLevel: ptr(-5)}},
	}

	h := newHarness(t)
	s := h.station(t, "alpha")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.stationID
			if id == "" {
				id = s.ID
			}
			_, err := h.ingest.RecordReading(context.Background(), id, tt.fields)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Equal(t, 0, dbtest.Count(t, h.db, "measurements", ""))
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(h.metrics.IngestFailures.WithLabelValues("validation")))
}

func TestRecordReading_BoundaryValuesAccepted(t *testing.T) {
	h := newHarness(t)
	s := h.station(t, "alpha")
	_, err := h.ingest.RecordReading(context.Background(), s.ID, types.MeasurementFields{
		Humidity: ptr(100), WindSpeed: ptr(0), Rainfall: ptr(0), LightLevel: ptr(0),
	})
	assert.NoError(t, err)
}

func TestRecordReading_UnknownStationIsPersistenceError(t *testing.T) {
	h := newHarness(t)
	_, err := h.ingest.RecordReading(context.Background(), "missing", types.MeasurementFields{Temperature: ptr(1)})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}
