package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string   `json:"status"` // "ok" or "degraded"
	Uptime  int64    `json:"uptime_seconds"`
	Modules []string `json:"modules"`
}

// handleHealth returns an http.HandlerFunc for GET /health. The bot is
// degraded when a globally enabled module is not loaded.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Uptime:  int64(time.Since(g.startedAt) / time.Second),
			Modules: []string{},
		}

		loaded := make(map[string]bool)
		if g.opts.Manager != nil {
			for _, lm := range g.opts.Manager.Loaded() {
				name := string(lm.Info.ID)
				loaded[name] = true
				resp.Modules = append(resp.Modules, name)
			}
		}
		if g.opts.Modules != nil {
			for _, name := range g.opts.Modules.Enabled() {
				if !loaded[name] {
					resp.Status = "degraded"
				}
			}
		}

		status := http.StatusOK
		if resp.Status == "degraded" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
