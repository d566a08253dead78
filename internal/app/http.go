package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/txn2/adminsession/pkg/permission"
)

const (
	defaultDenialLimit = 50
	maxDenialLimit     = 1000
)

// routes builds the local server mux. It is bound to a loopback address
// and serves native renderers and the operator.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /blob/{id}", a.urls)
	mux.Handle("GET /healthz", a.connectivity.LivenessHandler())
	mux.Handle("GET /readyz", a.connectivity.ConnectivityHandler())
	mux.HandleFunc("GET /denials", a.handleDenials)
	return mux
}

// handleDenials lists recent permission denials, newest first.
func (a *App) handleDenials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := permission.QueryFilter{
		Capability:    q.Get("capability"),
		AttemptedPath: q.Get("path"),
		Limit:         defaultDenialLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxDenialLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.StartTime = &t
	}

	events, err := a.denials.History(r.Context(), filter)
	if err != nil {
		a.logger.Error("listing permission denials", "error", err)
		writeError(w, http.StatusInternalServerError, "listing permission denials failed")
		return
	}
	if events == nil {
		events = []permission.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
