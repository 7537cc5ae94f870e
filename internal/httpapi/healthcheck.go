package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"stationwatch/internal/utils"
)

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewHealthchecker(db *sqlx.DB) healthchecker {
	return &healthcheckerImpl{db: db, timeout: 2 * time.Second}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var ok int
	if err := h.db.GetContext(ctx, &ok, `SELECT 1`); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "driver": h.db.DriverName()})
}

func registerHealthcheck(mux *http.ServeMux, db *sqlx.DB) {
	healthchecker := NewHealthchecker(db)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
