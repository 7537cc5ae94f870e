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

//go:embed sql/get-station.sql
var getStationSQL string

//go:embed sql/get-stations.sql
var getStationsSQL string

//go:embed sql/count-station.sql
var countStationSQL string

//go:embed sql/insert-station.sql
var insertStationSQL string

//go:embed sql/touch-station.sql
var touchStationSQL string

// cascadeDeletes removes everything that references a station, children
// before parents, and finally the station itself.
var cascadeDeletes = []struct {
	table string
	query string
}{
	{"audit_logs", "DELETE FROM audit_logs WHERE resource_type = 'station' AND resource_id = ?"},
	{"alert_notifications", "DELETE FROM alert_notifications WHERE station_id = ?"},
	{"system_alerts", "DELETE FROM system_alerts WHERE station_id = ?"},
	{"alerts", "DELETE FROM alerts WHERE station_id = ?"},
	{"measurements", "DELETE FROM measurements WHERE station_id = ?"},
	{"stations", "DELETE FROM stations WHERE id = ?"},
}

// errNoStation rolls back a deletion whose station does not exist.
var errNoStation = errors.New("station does not exist")

type StationRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (types.Station, error)
	List(ctx context.Context) ([]types.Station, error)
	Create(ctx context.Context, ownerID *string, name string, location *string, createdAt time.Time) (types.Station, error)
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error
	// DeleteCascade removes the station and all dependent records in one
	// transaction. It returns the deleted station and true, or false with no
	// mutation when the station does not exist.
	DeleteCascade(ctx context.Context, id string) (types.Station, bool, error)
}

type stationRepository struct {
	base
}

func NewStationRepository(conn *sqlx.DB, timeout time.Duration) StationRepository {
	return &stationRepository{base{db: conn, timeout: timeout}}
}

type stationRow struct {
	ID        string         `db:"id"`
	OwnerID   sql.NullString `db:"owner_id"`
	Name      string         `db:"name"`
	Location  sql.NullString `db:"location"`
	LastSeen  sql.NullString `db:"last_seen"`
	IsActive  bool           `db:"is_active"`
	CreatedAt string         `db:"created_at"`
}

func (r stationRow) toStation() (types.Station, error) {
	createdAt, err := db.ParseTime(r.CreatedAt)
	if err != nil {
		return types.Station{}, fmt.Errorf("parse created_at %q: %w", r.CreatedAt, err)
	}
	lastSeen, err := parseNullTime(r.LastSeen)
	if err != nil {
		return types.Station{}, err
	}
	s := types.Station{
		ID:        r.ID,
		Name:      r.Name,
		LastSeen:  lastSeen,
		IsActive:  r.IsActive,
		CreatedAt: createdAt,
	}
	if r.OwnerID.Valid {
		s.OwnerID = &r.OwnerID.String
	}
	if r.Location.Valid {
		s.Location = &r.Location.String
	}
	return s, nil
}

func (r *stationRepository) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(countStationSQL), id); err != nil {
		return false, apperr.Persistence("station exists", err)
	}
	return n > 0, nil
}

func (r *stationRepository) Get(ctx context.Context, id string) (types.Station, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row stationRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(getStationSQL), id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Station{}, apperr.NotFound("get station")
	}
	if err != nil {
		return types.Station{}, apperr.Persistence("get station", err)
	}
	s, err := row.toStation()
	if err != nil {
		return types.Station{}, apperr.Persistence("get station", err)
	}
	return s, nil
}

func (r *stationRepository) List(ctx context.Context) ([]types.Station, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rows []stationRow
	if err := r.db.SelectContext(ctx, &rows, getStationsSQL); err != nil {
		return nil, apperr.Persistence("list stations", err)
	}
	out := make([]types.Station, 0, len(rows))
	for _, row := range rows {
		s, err := row.toStation()
		if err != nil {
			return nil, apperr.Persistence("list stations", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *stationRepository) Create(ctx context.Context, ownerID *string, name string, location *string, createdAt time.Time) (types.Station, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	s := types.Station{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Location:  location,
		IsActive:  true,
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(insertStationSQL),
		s.ID, nullString(ownerID), s.Name, nullString(location), nil, s.IsActive, db.FormatTime(s.CreatedAt))
	if err != nil {
		return types.Station{}, apperr.Persistence("create station", err)
	}
	return s, nil
}

func (r *stationRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(touchStationSQL), db.FormatTime(seenAt), id); err != nil {
		return apperr.Persistence("touch station", err)
	}
	return nil
}

func (r *stationRepository) DeleteCascade(ctx context.Context, id string) (types.Station, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var station types.Station
	err := db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var row stationRow
		err := tx.GetContext(ctx, &row, tx.Rebind(getStationSQL), id)
		if errors.Is(err, sql.ErrNoRows) {
			return errNoStation
		}
		if err != nil {
			return fmt.Errorf("lookup station: %w", err)
		}
		if station, err = row.toStation(); err != nil {
			return err
		}
		for _, stmt := range cascadeDeletes {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt.query), id); err != nil {
				return fmt.Errorf("delete from %s: %w", stmt.table, err)
			}
		}
		return nil
	})
	if errors.Is(err, errNoStation) {
		return types.Station{}, false, nil
	}
	if err != nil {
		return types.Station{}, false, apperr.TransactionAborted("delete station", err)
	}
	return station, true, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
