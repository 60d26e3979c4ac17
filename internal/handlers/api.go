package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hostwatch/internal/logger"
	"hostwatch/internal/models"
)

// StateReader is the read side of the shared state.
type StateReader interface {
	Read() (models.Sample, []models.Sample, bool)
	Latest() (models.Sample, bool)
	Version() uint64
}

// API serves the latest sample and the rolling history as JSON.
type API struct {
	store StateReader
}

// NewAPI creates the JSON handlers over store.
func NewAPI(store StateReader) *API {
	return &API{store: store}
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Metrics handles GET /api/metrics.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	latest, ok := a.store.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no sample collected yet")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// History handles GET /api/history. An optional ?limit=k returns only the
// newest k samples, still oldest first.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	_, hist, _ := a.store.Read()
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	writeJSON(w, http.StatusOK, hist)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.WithComponent("api")
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", http.MethodGet)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}
