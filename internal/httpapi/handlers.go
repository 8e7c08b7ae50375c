// Package httpapi serves the operational HTTP surface: liveness, reminder
// statistics, the upcoming-reminder listing, forced test dispatch and
// Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mindfulbot/internal/reminder"
)

// Reminders is the part of reminder.Scheduler the API needs.
type Reminders interface {
	Stats(ctx context.Context) (reminder.DispatchStats, error)
	Upcoming(ctx context.Context) ([]reminder.Upcoming, error)
	ForceDispatch(ctx context.Context, userID int64) error
	LastBucket() string
}

type handlers struct {
	rem     Reminders
	started time.Time
	now     func() time.Time
}

type healthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	LastBucket string `json:"last_bucket,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Uptime:     h.now().Sub(h.started).Truncate(time.Second).String(),
		LastBucket: h.rem.LastBucket(),
	})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.rem.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) upcoming(w http.ResponseWriter, r *http.Request) {
	list, err := h.rem.Upcoming(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list, "count": len(list)})
}

func (h *handlers) forceDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("telegramID must be a positive integer"))
		return
	}
	if err := h.rem.ForceDispatch(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "user_id": id})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reminder.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrNotOnboarded), errors.Is(err, reminder.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, reminder.ErrDelivery):
		return http.StatusBadGateway
	case errors.Is(err, reminder.ErrTracker):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
