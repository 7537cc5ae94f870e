package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"stationwatch/internal/apperr"
	"stationwatch/internal/db"
	"stationwatch/internal/modules/weather/types"
)

//go:embed sql/insert-measurement.sql
var insertMeasurementSQL string

//go:embed sql/get-earliest-pressure-since.sql
var getEarliestPressureSinceSQL string

//go:embed sql/get-latest-measurement.sql
var getLatestMeasurementSQL string

//go:embed sql/get-measurements-range.sql
var getMeasurementsRangeSQL string

//go:embed sql/get-measurement-stats.sql
var getMeasurementStatsSQL string

//go:embed sql/delete-measurements-before.sql
var deleteMeasurementsBeforeSQL string

type MeasurementRepository interface {
	Insert(ctx context.Context, stationID string, fields types.MeasurementFields, recordedAt time.Time) (types.Reading, error)
	// EarliestPressureSince returns the pressure of the oldest reading recorded
	// strictly after since that carries a pressure value. ok is false when
	// there is none.
	EarliestPressureSince(ctx context.Context, stationID string, since time.Time) (pressure float64, ok bool, err error)
	Latest(ctx context.Context, stationID string) (*types.Reading, error)
	Range(ctx context.Context, stationID string, from, to time.Time, limit int) ([]types.Reading, error)
	Stats(ctx context.Context, stationID string, since time.Time) (types.ReadingStats, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

type measurementRepository struct {
	base
}

func NewMeasurementRepository(conn *sqlx.DB, timeout time.Duration) MeasurementRepository {
	return &measurementRepository{base{db: conn, timeout: timeout}}
}

type measurementRow struct {
	ID          string   `db:"id"`
	StationID   string   `db:"station_id"`
	Temperature *float64 `db:"temperature"`
	Humidity    *float64 `db:"humidity"`
	Pressure    *float64 `db:"pressure"`
	WindSpeed   *float64 `db:"wind_speed"`
	Rainfall    *float64 `db:"rainfall"`
	LightLevel  *float64 `db:"light_level"`
	RecordedAt  string   `db:"recorded_at"`
}

func (r measurementRow) toReading() (types.Reading, error) {
	recordedAt, err := db.ParseTime(r.RecordedAt)
	if err != nil {
		return types.Reading{}, fmt.Errorf("parse recorded_at %q: %w", r.RecordedAt, err)
	}
	return types.Reading{
		ID:        r.ID,
		StationID: r.StationID,
		MeasurementFields: types.MeasurementFields{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Pressure:    r.Pressure,
			WindSpeed:   r.WindSpeed,
			Rainfall:    r.Rainfall,
			LightLevel:  r.LightLevel,
		},
		RecordedAt: recordedAt,
	}, nil
}

func (r *measurementRepository) Insert(ctx context.Context, stationID string, fields types.MeasurementFields, recordedAt time.Time) (types.Reading, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	reading := types.Reading{
		ID:                uuid.NewString(),
		StationID:         stationID,
		MeasurementFields: fields,
		RecordedAt:        recordedAt.UTC().Truncate(time.Microsecond),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(insertMeasurementSQL),
		reading.ID,
		stationID,
		nullFloat(fields.Temperature),
		nullFloat(fields.Humidity),
		nullFloat(fields.Pressure),
		nullFloat(fields.WindSpeed),
		nullFloat(fields.Rainfall),
		nullFloat(fields.LightLevel),
		db.FormatTime(reading.RecordedAt),
	)
	if err != nil {
		return types.Reading{}, apperr.Persistence("insert measurement", err)
	}
	return reading, nil
}

func (r *measurementRepository) EarliestPressureSince(ctx context.Context, stationID string, since time.Time) (float64, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var pressure float64
	err := r.db.GetContext(ctx, &pressure, r.db.Rebind(getEarliestPressureSinceSQL), stationID, db.FormatTime(since))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Persistence("earliest pressure", err)
	}
	return pressure, true, nil
}

func (r *measurementRepository) Latest(ctx context.Context, stationID string) (*types.Reading, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row measurementRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(getLatestMeasurementSQL), stationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("latest measurement", err)
	}
	reading, err := row.toReading()
	if err != nil {
		return nil, apperr.Persistence("latest measurement", err)
	}
	return &reading, nil
}

func (r *measurementRepository) Range(ctx context.Context, stationID string, from, to time.Time, limit int) ([]types.Reading, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []measurementRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(getMeasurementsRangeSQL),
		stationID, db.FormatTime(from), db.FormatTime(to), limit)
	if err != nil {
		return nil, apperr.Persistence("list measurements", err)
	}
	out := make([]types.Reading, 0, len(rows))
	for _, row := range rows {
		reading, err := row.toReading()
		if err != nil {
			return nil, apperr.Persistence("list measurements", err)
		}
		out = append(out, reading)
	}
	return out, nil
}

type statsRow struct {
	AvgTemperature    *float64 `db:"avg_temperature"`
	MinTemperature    *float64 `db:"min_temperature"`
	MaxTemperature    *float64 `db:"max_temperature"`
	AvgHumidity       *float64 `db:"avg_humidity"`
	MinHumidity       *float64 `db:"min_humidity"`
	MaxHumidity       *float64 `db:"max_humidity"`
	AvgPressure       *float64 `db:"avg_pressure"`
	TotalMeasurements int      `db:"total_measurements"`
}

func (r *measurementRepository) Stats(ctx context.Context, stationID string, since time.Time) (types.ReadingStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row statsRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getMeasurementStatsSQL), stationID, db.FormatTime(since)); err != nil {
		return types.ReadingStats{}, apperr.Persistence("measurement stats", err)
	}
	return types.ReadingStats(row), nil
}

func (r *measurementRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, r.db.Rebind(deleteMeasurementsBeforeSQL), db.FormatTime(before))
	if err != nil {
		return 0, apperr.Persistence("purge measurements", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Persistence("purge measurements", err)
	}
	return n, nil
}
