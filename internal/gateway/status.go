package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime        int64           `json:"uptime_seconds"`
	Metrics       MetricsSnapshot `json:"metrics"`
	Sessions      int             `json:"sessions"`
	AllowedGroups int             `json:"allowed_groups"`
	Handlers      HandlerCounts   `json:"handlers"`
	Subscriptions map[string]int  `json:"subscriptions"`
	Modules       []ModuleStatus  `json:"modules"`
}

// HandlerCounts counts what the dispatcher routes.
type HandlerCounts struct {
	Commands  int `json:"commands"`
	Messages  int `json:"messages"`
	Callbacks int `json:"callbacks"`
}

// ModuleStatus describes one loaded module.
type ModuleStatus struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	LoadedAt  time.Time `json:"loaded_at"`
	Commands  []string  `json:"commands"`
	Callbacks []string  `json:"callbacks,omitempty"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:        int64(time.Since(g.startedAt) / time.Second),
			Metrics:       g.opts.Metrics.Snapshot(),
			Subscriptions: map[string]int{},
			Modules:       []ModuleStatus{},
		}

		if g.opts.Sessions != nil {
			resp.Sessions = g.opts.Sessions.Len()
		}
		if g.opts.Store != nil {
			resp.AllowedGroups = len(g.opts.Store.AllowedGroups())
		}
		if g.opts.Dispatcher != nil {
			c, m, cb := g.opts.Dispatcher.Counts()
			resp.Handlers = HandlerCounts{Commands: c, Messages: m, Callbacks: cb}
		}
		if g.opts.Bus != nil {
			resp.Subscriptions = g.opts.Bus.Count()
		}
		if g.opts.Manager != nil {
			for _, lm := range g.opts.Manager.Loaded() {
				reg := lm.Registrations()
				resp.Modules = append(resp.Modules, ModuleStatus{
					Name:      string(lm.Info.ID),
					Version:   lm.Info.Version,
					LoadedAt:  lm.LoadedAt,
					Commands:  reg.Commands,
					Callbacks: reg.Callbacks,
				})
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
