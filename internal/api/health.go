package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// readinessPinger checks a live database connection. *pgxpool.Pool
// satisfies it.
type readinessPinger interface {
	Ping(ctx context.Context) error
}

// healthStatus is the wire shape of GET /health and GET /ready.
type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// handleHealth is the liveness endpoint. It answers as soon as the
// process can serve HTTP; dependencies are not consulted.
func handleHealth(service, version string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Service:   service,
			Version:   version,
		}, logger)
	}
}

// handleReady is the readiness endpoint: 200 only when the database
// answers a ping within a short budget.
func handleReady(pinger readinessPinger, service, version string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthStatus{
				Status:    "unavailable",
				Timestamp: time.Now().UTC(),
				Service:   service,
				Version:   version,
			}, logger)
			return
		}

		writeJSON(w, http.StatusOK, healthStatus{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Service:   service,
			Version:   version,
		}, logger)
	}
}
