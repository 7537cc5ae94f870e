package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stationwatch/internal/db"
)

const (
	insertAuditSQL       = `INSERT INTO audit_logs (id, action, user_id, resource_type, resource_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`
	deleteAuditBeforeSQL = `DELETE FROM audit_logs WHERE timestamp < ?`
)

// SQLSink appends events to the audit_logs table.
type SQLSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewSQLSink(conn *sqlx.DB, timeout time.Duration) *SQLSink {
	return &SQLSink{db: conn, timeout: timeout}
}

func (s *SQLSink) Name() string { return "db" }

func (s *SQLSink) Record(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(b)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(insertAuditSQL),
		e.ID,
		string(e.Action),
		emptyToNil(e.UserID),
		emptyToNil(e.ResourceType),
		emptyToNil(e.ResourceID),
		details,
		db.FormatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// DeleteBefore removes entries older than before and returns how many were removed.
func (s *SQLSink) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(deleteAuditBeforeSQL), db.FormatTime(before))
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return res.RowsAffected()
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
