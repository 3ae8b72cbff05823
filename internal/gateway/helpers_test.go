package gateway

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/config/configtest"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/dispatch/dispatchtest"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/security"
	"github.com/flemzord/modbot/internal/session"
	"github.com/flemzord/modbot/internal/state"
)

const (
	superAdmin int64 = 111
	group      int64 = -1001
	testToken        = "s3cret-gateway-token"
)

type pingPlugin struct{ info core.ModuleInfo }

func (p *pingPlugin) ModuleInfo() core.ModuleInfo { return p.info }

func (p *pingPlugin) Setup(i *module.Interface) error {
	return i.RegisterCommand("ping", func(c tele.Context) error { return c.Send("pong") })
}

func (p *pingPlugin) Cleanup(*module.Interface) error { return nil }

func registerPing() {
	p := &pingPlugin{info: core.ModuleInfo{
		ID:          "ping",
		Version:     "1.2.3",
		Description: "replies pong",
		Commands:    []string{"ping"},
	}}
	p.info.New = func() core.Module { return p }
	core.RegisterModule(p)
}

type auditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

func (r *auditRecorder) record(ev security.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *auditRecorder) all() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]security.AuditEvent(nil), r.events...)
}

type fixture struct {
	gw       *Gateway
	metrics  *Metrics
	bus      *event.Bus
	d        *dispatch.Dispatcher
	manager  *module.Manager
	modules  *config.ModulesStore
	sessions *session.Manager
	audit    *auditRecorder
}

// newFixture builds a gateway over real services with the ping module
// loaded. Tests using it must not run in parallel: the module registry is
// process-wide.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	core.ResetRegistry()
	t.Cleanup(core.ResetRegistry)
	registerPing()

	st, err := state.NewManager(t.TempDir(), state.Options{})
	if err != nil {
		t.Fatal(err)
	}
	store := configtest.NewStore(t, []int64{superAdmin}, group)
	f := &fixture{
		metrics:  NewMetrics(),
		modules:  configtest.NewModulesStore(t),
		sessions: session.NewManager(session.Options{}),
		audit:    &auditRecorder{},
	}
	f.bus = event.NewBus(event.Options{Recorder: f.metrics})
	f.d = dispatch.New(dispatch.Options{Admins: store, Modules: f.modules})
	f.d.AddObserver(f.metrics)
	f.manager = module.NewManager(module.Deps{
		Dispatcher: f.d,
		Bus:        f.bus,
		Sessions:   f.sessions,
		State:      st,
		Config:     store,
	})
	if _, err := f.modules.EnableForChat("ping", 0); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Load("ping"); err != nil {
		t.Fatal(err)
	}

	f.gw, err = New(Options{
		Config:     cfg,
		Metrics:    f.metrics,
		Dispatcher: f.d,
		Manager:    f.manager,
		Sessions:   f.sessions,
		Store:      store,
		Modules:    f.modules,
		Bus:        f.bus,
		Audit:      security.NewAuditLogger(security.AuditLoggerConfig{OnEvent: f.audit.record}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func httptestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dispatchtestMessage(text string) *dispatchtest.Context {
	return dispatchtest.NewMessage(superAdmin, superAdmin, text)
}
