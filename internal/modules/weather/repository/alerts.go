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

//go:embed sql/insert-alert-if-no-recent.sql
var insertAlertIfNoRecentSQL string

//go:embed sql/count-recent-unresolved-alerts.sql
var countRecentUnresolvedAlertsSQL string

//go:embed sql/get-alert.sql
var getAlertSQL string

//go:embed sql/get-station-alerts.sql
var getStationAlertsSQL string

//go:embed sql/get-critical-alerts.sql
var getCriticalAlertsSQL string

//go:embed sql/resolve-alert.sql
var resolveAlertSQL string

//go:embed sql/get-alert-stats.sql
var getAlertStatsSQL string

type AlertRepository interface {
	// HasRecentUnresolved reports whether an unresolved alert of alertType was
	// triggered for the station strictly after since.
	HasRecentUnresolved(ctx context.Context, stationID string, alertType types.AlertType, since time.Time) (bool, error)
	// InsertIfNoRecent stores the candidate unless an unresolved alert of the
	// same type was triggered for the station strictly after since. The check
	// and the insert are a single statement. ok is false when suppressed.
	InsertIfNoRecent(ctx context.Context, c types.Candidate, triggeredAt, since time.Time) (alert types.Alert, ok bool, err error)
	Get(ctx context.Context, id string) (types.Alert, error)
	ListByStation(ctx context.Context, stationID string, filter types.AlertFilter) ([]types.Alert, error)
	ListCritical(ctx context.Context, limit int) ([]types.CriticalAlert, error)
	Resolve(ctx context.Context, id string, resolvedAt time.Time) (types.Alert, error)
	Stats(ctx context.Context, stationID string) (types.AlertStats, error)
}

type alertRepository struct {
	base
}

func NewAlertRepository(conn *sqlx.DB, timeout time.Duration) AlertRepository {
	return &alertRepository{base{db: conn, timeout: timeout}}
}

type alertRow struct {
	ID               string         `db:"id"`
	StationID        string         `db:"station_id"`
	AlertType        string         `db:"alert_type"`
	Description      string         `db:"description"`
	Severity         string         `db:"severity"`
	PressureChange   *float64       `db:"pressure_change"`
	TemperatureValue *float64       `db:"temperature_value"`
	TriggeredAt      string         `db:"triggered_at"`
	IsResolved       bool           `db:"is_resolved"`
	ResolvedAt       sql.NullString `db:"resolved_at"`
}

func (r alertRow) toAlert() (types.Alert, error) {
	triggeredAt, err := db.ParseTime(r.TriggeredAt)
	if err != nil {
		return types.Alert{}, fmt.Errorf("parse triggered_at %q: %w", r.TriggeredAt, err)
	}
	resolvedAt, err := parseNullTime(r.ResolvedAt)
	if err != nil {
		return types.Alert{}, err
	}
	return types.Alert{
		ID:               r.ID,
		StationID:        r.StationID,
		AlertType:        types.AlertType(r.AlertType),
		Description:      r.Description,
		Severity:         types.Severity(r.Severity),
		PressureChange:   r.PressureChange,
		TemperatureValue: r.TemperatureValue,
		TriggeredAt:      triggeredAt,
		IsResolved:       r.IsResolved,
		ResolvedAt:       resolvedAt,
	}, nil
}

func (r *alertRepository) HasRecentUnresolved(ctx context.Context, stationID string, alertType types.AlertType, since time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(countRecentUnresolvedAlertsSQL),
		stationID, string(alertType), db.FormatTime(since))
	if err != nil {
		return false, apperr.Persistence("recent alert lookup", err)
	}
	return n > 0, nil
}

func (r *alertRepository) InsertIfNoRecent(ctx context.Context, c types.Candidate, triggeredAt, since time.Time) (types.Alert, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	alert := types.Alert{
		ID:               uuid.NewString(),
		StationID:        c.StationID,
		AlertType:        c.AlertType,
		Description:      c.Description,
		Severity:         c.Severity,
		PressureChange:   c.PressureChange,
		TemperatureValue: c.TemperatureValue,
		TriggeredAt:      triggeredAt.UTC().Truncate(time.Microsecond),
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(insertAlertIfNoRecentSQL),
		alert.ID,
		alert.StationID,
		string(alert.AlertType),
		alert.Description,
		string(alert.Severity),
		nullFloat(alert.PressureChange),
		nullFloat(alert.TemperatureValue),
		db.FormatTime(alert.TriggeredAt),
		alert.StationID,
		string(alert.AlertType),
		db.FormatTime(since),
	)
	if err != nil {
		return types.Alert{}, false, apperr.Persistence("insert alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Alert{}, false, apperr.Persistence("insert alert", err)
	}
	if n == 0 {
		return types.Alert{}, false, nil
	}
	return alert, true, nil
}

func (r *alertRepository) Get(ctx context.Context, id string) (types.Alert, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.get(ctx, id)
}

func (r *alertRepository) get(ctx context.Context, id string) (types.Alert, error) {
	var row alertRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(getAlertSQL), id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Alert{}, apperr.NotFound("get alert")
	}
	if err != nil {
		return types.Alert{}, apperr.Persistence("get alert", err)
	}
	alert, err := row.toAlert()
	if err != nil {
		return types.Alert{}, apperr.Persistence("get alert", err)
	}
	return alert, nil
}

func (r *alertRepository) ListByStation(ctx context.Context, stationID string, filter types.AlertFilter) ([]types.Alert, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := getStationAlertsSQL
	args := []any{stationID}
	if filter.Resolved != nil {
		query += " AND is_resolved = ?"
		args = append(args, *filter.Resolved)
	}
	query += " ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, apperr.Persistence("list station alerts", err)
	}
	out := make([]types.Alert, 0, len(rows))
	for _, row := range rows {
		alert, err := row.toAlert()
		if err != nil {
			return nil, apperr.Persistence("list station alerts", err)
		}
		out = append(out, alert)
	}
	return out, nil
}

type criticalAlertRow struct {
	alertRow
	StationName string `db:"station_name"`
}

func (r *alertRepository) ListCritical(ctx context.Context, limit int) ([]types.CriticalAlert, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []criticalAlertRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(getCriticalAlertsSQL), limit); err != nil {
		return nil, apperr.Persistence("list critical alerts", err)
	}
	out := make([]types.CriticalAlert, 0, len(rows))
	for _, row := range rows {
		alert, err := row.toAlert()
		if err != nil {
			return nil, apperr.Persistence("list critical alerts", err)
		}
		out = append(out, types.CriticalAlert{Alert: alert, StationName: row.StationName})
	}
	return out, nil
}

// Resolve marks the alert resolved. resolved_at is overwritten on every call,
// including for alerts that were already resolved.
func (r *alertRepository) Resolve(ctx context.Context, id string, resolvedAt time.Time) (types.Alert, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, r.db.Rebind(resolveAlertSQL), db.FormatTime(resolvedAt), id)
	if err != nil {
		return types.Alert{}, apperr.Persistence("resolve alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Alert{}, apperr.Persistence("resolve alert", err)
	}
	if n == 0 {
		return types.Alert{}, apperr.NotFound("resolve alert")
	}
	return r.get(ctx, id)
}

func (r *alertRepository) Stats(ctx context.Context, stationID string) (types.AlertStats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row struct {
		TotalAlerts    int `db:"total_alerts"`
		ActiveAlerts   int `db:"active_alerts"`
		CriticalAlerts int `db:"critical_alerts"`
		HighAlerts     int `db:"high_alerts"`
	}
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(getAlertStatsSQL), stationID, stationID); err != nil {
		return types.AlertStats{}, apperr.Persistence("alert stats", err)
	}
	return types.AlertStats(row), nil
}
