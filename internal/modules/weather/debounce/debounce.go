// Package debounce suppresses alerts that duplicate a recent unresolved alert
// of the same type for the same station.
package debounce

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"stationwatch/internal/modules/weather/types"
)

const Window = time.Hour

type Store interface {
	HasRecentUnresolved(ctx context.Context, stationID string, alertType types.AlertType, since time.Time) (bool, error)
	InsertIfNoRecent(ctx context.Context, c types.Candidate, triggeredAt, since time.Time) (types.Alert, bool, error)
}

type Gate struct {
	store Store
	clock clockwork.Clock
}

func NewGate(store Store, clock clockwork.Clock) *Gate {
	return &Gate{store: store, clock: clock}
}

// Suppressed reports whether an unresolved alert of alertType was triggered
// for the station within the last hour (strictly after now minus Window).
func (g *Gate) Suppressed(ctx context.Context, stationID string, alertType types.AlertType) (bool, error) {
	return g.store.HasRecentUnresolved(ctx, stationID, alertType, g.clock.Now().Add(-Window))
}

// Admit persists c unless it is suppressed. The final decision is made by the
// store's conditional insert, so two concurrent candidates for the same
// station and type cannot both be stored on a single-writer database.
func (g *Gate) Admit(ctx context.Context, c types.Candidate) (types.Alert, bool, error) {
	now := g.clock.Now()
	since := now.Add(-Window)

	recent, err := g.store.HasRecentUnresolved(ctx, c.StationID, c.AlertType, since)
	if err != nil {
		return types.Alert{}, false, err
	}
	if recent {
		return types.Alert{}, false, nil
	}
	return g.store.InsertIfNoRecent(ctx, c, now, since)
}
