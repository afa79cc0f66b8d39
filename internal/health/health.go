// Package health exposes a minimal liveness endpoint, separate from the
// dashboard so probes keep working when the API surface is disabled.
package health

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

var startTime time.Time

func init() {
	startTime = time.Now()
}

type HealthResponse struct {
	Status        string   `json:"status"`
	Service       string   `json:"service"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Timestamp     int64    `json:"timestamp"`
	Models        []string `json:"models"`
	ModelCount    int      `json:"model_count"`
}

// StartHealthCheckServer serves /health on its own port in the
// background. models reports the currently registered model bank; nil
// means no bank is running (dashboard-only mode without artifacts).
func StartHealthCheckServer(port string, models func() []string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler(models))

	log.Printf("Health check listening on : %s", port)

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Printf("Health server failed: %v", err)
		}
	}()
}

func handler(models func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := &HealthResponse{
			Status:        "healthy",
			Service:       "modsec-ai",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Timestamp:     time.Now().Unix(),
		}
		if models != nil {
			response.Models = models()
			response.ModelCount = len(response.Models)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}
