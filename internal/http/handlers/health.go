package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/whatsapp-leads/internal/http/respond"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
	Time    string            `json:"time"`
}

// Health handles GET /health. Every named check must answer within a second
// for the service to report ok; otherwise it responds 503 degraded.
func Health(service string, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Service: service,
			Checks:  make(map[string]string, len(checks)),
			Time:    time.Now().UTC().Format(time.RFC3339),
		}
		for name, pinger := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			err := pinger.Ping(ctx)
			cancel()
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(w, status, resp)
	}
}
