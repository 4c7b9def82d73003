package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck reports unhealthy when the templates failed to load, since
// every HTML route would answer 500.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if !h.templatesLoaded() {
		status, code = "unhealthy", http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// Stats returns the in-process counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.metrics.GetStats())
}

func (h *Handler) templatesLoaded() bool {
	h.tmplMu.RLock()
	defer h.tmplMu.RUnlock()
	return h.templates != nil && h.templates.Lookup("index.html") != nil
}
