package controller

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stationwatch/internal/apperr"
	"stationwatch/internal/modules/weather/types"
	"stationwatch/internal/utils"
)

// UserHeader carries the acting user's id. It is trusted as-is.
const UserHeader = "X-User-ID"

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// writeServiceError maps an error kind to its HTTP status. Messages of
// persistence and unknown failures are not exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrTransactionAborted):
		slog.Warn("transaction aborted", "method", r.Method, "path", r.URL.Path, "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "operation aborted, retry later")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseAlertFilter reads resolved, limit and offset. resolved defaults to
// false; "all" lists both states.
func parseAlertFilter(r *http.Request) (types.AlertFilter, error) {
	q := r.URL.Query()
	var f types.AlertFilter

	switch s := strings.ToLower(q.Get("resolved")); s {
	case "", "false":
		v := false
		f.Resolved = &v
	case "true":
		v := true
		f.Resolved = &v
	case "all":
	default:
		return types.AlertFilter{}, errors.New("invalid 'resolved' (expected true, false or all)")
	}

	limit, err := parseOptionalInt(q.Get("limit"), "limit")
	if err != nil {
		return types.AlertFilter{}, err
	}
	offset, err := parseOptionalInt(q.Get("offset"), "offset")
	if err != nil {
		return types.AlertFilter{}, err
	}
	if offset < 0 {
		return types.AlertFilter{}, errors.New("'offset' must be >= 0")
	}
	f.Limit, f.Offset = limit, offset
	return f, nil
}

func parseLimit(r *http.Request) (int, error) {
	return parseOptionalInt(r.URL.Query().Get("limit"), "limit")
}

// parseOptionalInt returns 0 for an empty value.
func parseOptionalInt(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid '" + name + "' (expected integer)")
	}
	return n, nil
}

// parseRange reads an explicit from/to window. ok is false when neither is
// given, in which case the period parameter applies.
func parseRange(r *http.Request, now time.Time, period types.Period) (from, to time.Time, ok bool, err error) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" && toStr == "" {
		return time.Time{}, time.Time{}, false, nil
	}

	to = now
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return time.Time{}, time.Time{}, false, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	from = to.Add(-period.Duration())
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return time.Time{}, time.Time{}, false, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, false, errors.New("'from' must be <= 'to'")
	}
	return from, to, true, nil
}
