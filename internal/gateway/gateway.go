// Package gateway serves the bot's operational HTTP endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/security"
	"github.com/flemzord/modbot/internal/session"
)

// ModuleID identifies the gateway among lifecycle components.
const ModuleID core.ModuleID = "gateway"

var (
	_ core.Starter = (*Gateway)(nil)
	_ core.Stopper = (*Gateway)(nil)
)

// Options are the services the gateway reports on.
type Options struct {
	Config     Config
	Logger     *slog.Logger
	Metrics    *Metrics
	Dispatcher *dispatch.Dispatcher
	Manager    *module.Manager
	Sessions   *session.Manager
	Store      *config.Store
	Modules    *config.ModulesStore
	Bus        *event.Bus
	Audit      *security.AuditLogger
}

// Gateway is the HTTP gateway component.
type Gateway struct {
	config    Config
	opts      Options
	logger    *slog.Logger
	handler   http.Handler
	startedAt time.Time

	// streams is cancelled on Stop to close hijacked websocket connections,
	// which http.Server.Shutdown does not track.
	streams context.Context
	closeFn context.CancelFunc

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New validates the configuration and builds the router.
func New(opts Options) (*Gateway, error) {
	opts.Config.defaults()
	if _, err := net.ResolveTCPAddr("tcp", opts.Config.Bind); err != nil {
		return nil, fmt.Errorf("%w: gateway: invalid bind address %q", config.ErrConfig, opts.Config.Bind)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	g := &Gateway{
		config:    opts.Config,
		opts:      opts,
		logger:    opts.Logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
	g.streams, g.closeFn = context.WithCancel(context.Background())
	g.handler = g.buildRouter()
	return g, nil
}

// ModuleInfo identifies the gateway.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:          ModuleID,
		Version:     "1.0.0",
		Description: "Health, status, metrics and event stream endpoints",
		New:         func() core.Module { return &Gateway{} },
	}
}

// Handler returns the router, for tests and embedding.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Addr returns the listening address once started.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	g.server = &http.Server{
		Handler:      g.handler,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}
	g.addr = ln.Addr()

	srv := g.server
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Stop closes event streams and shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	g.closeFn()

	g.mu.Lock()
	srv := g.server
	g.server = nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return srv.Shutdown(shutdownCtx)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
