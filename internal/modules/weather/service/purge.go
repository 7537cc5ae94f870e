package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/metrics"
	"stationwatch/internal/modules/weather/repository"
)

type AuditPurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PurgeService removes readings and audit entries past their retention age.
// A zero retention keeps that record set forever.
type PurgeService struct {
	measurements   repository.MeasurementRepository
	audit          AuditPurger
	clock          clockwork.Clock
	logger         *slog.Logger
	metrics        *metrics.Metrics
	retention      time.Duration
	auditRetention time.Duration
}

// NewPurgeService returns a purge service. auditPurger may be nil when audit
// entries are not stored in the database.
func NewPurgeService(
	measurements repository.MeasurementRepository,
	auditPurger AuditPurger,
	clock clockwork.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
	retentionDays, auditRetentionDays int,
) *PurgeService {
	return &PurgeService{
		measurements:   measurements,
		audit:          auditPurger,
		clock:          clock,
		logger:         logger,
		metrics:        m,
		retention:      days(retentionDays),
		auditRetention: days(auditRetentionDays),
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// PurgeOnce runs one purge pass. Both record sets are attempted even if the
// first fails.
func (p *PurgeService) PurgeOnce(ctx context.Context) error {
	now := p.clock.Now()
	var errs []error

	if p.retention > 0 {
		n, err := p.measurements.DeleteBefore(ctx, now.Add(-p.retention))
		if err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordsPurged.WithLabelValues("measurements").Add(float64(n))
			p.logger.Info("purged measurements", "deleted", n, "retention_days", int(p.retention.Hours()/24))
		}
	}

	if p.audit != nil && p.auditRetention > 0 {
		n, err := p.audit.DeleteBefore(ctx, now.Add(-p.auditRetention))
		if err != nil {
			errs = append(errs, err)
		} else {
			p.metrics.RecordsPurged.WithLabelValues("audit_logs").Add(float64(n))
			p.logger.Info("purged audit entries", "deleted", n, "retention_days", int(p.auditRetention.Hours()/24))
		}
	}

	return errors.Join(errs...)
}

// Run purges once immediately and then on every interval tick until ctx is
// done. A non-positive interval disables the loop.
func (p *PurgeService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	if err := p.PurgeOnce(ctx); err != nil {
		p.logger.Error("purge failed", "error", err)
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := p.PurgeOnce(ctx); err != nil {
				p.logger.Error("purge failed", "error", err)
			}
		}
	}
}
