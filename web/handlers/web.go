package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthCheck reports service liveness and database reachability. A
// configured but unreachable database turns the response into a 503 so load
// balancers stop routing to this instance.
func (h *WebHandlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "not_configured"

	if h.Deps.DB != nil {
		dbStatus = "healthy"

		if err := h.Deps.DB.PingContext(r.Context()); err != nil {
			dbStatus = "unhealthy"
		}
	}

	resp := healthResponse{
		Status:    "healthy",
		Service:   "calsync",
		Timestamp: time.Now().UTC(),
		Checks: map[string]string{
			"database": dbStatus,
			"server":   "healthy",
		},
	}

	code := http.StatusOK

	if dbStatus == "unhealthy" {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	renderJSON(w, code, resp)
}

func renderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
