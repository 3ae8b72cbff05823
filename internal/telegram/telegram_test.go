package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/config/configtest"
)

// fakeAPI is a minimal Bot API. Handlers are keyed by method name; every
// call is recorded with its decoded parameters.
type fakeAPI struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(params map[string]any) any
}

type call struct {
	method string
	params map[string]any
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, handlers: make(map[string]func(map[string]any) any)}
	f.on("getMe", func(map[string]any) any {
		return tele.User{ID: 999, IsBot: true, FirstName: "Modbot", Username: "modbot_test"}
	})
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) on(method string, h func(map[string]any) any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)
	params := map[string]any{}
	_ = json.Unmarshal(body, &params)

	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, params: params})
	h, ok := f.handlers[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found: method not found"}`))
		return
	}
	result := h(params)
	if raw, ok := result.(json.RawMessage); ok {
		_, _ = w.Write(raw)
		return
	}
	if err := json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result}); err != nil {
		f.t.Errorf("encoding %s response: %v", method, err)
	}
}

func (f *fakeAPI) callsTo(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newBot(t *testing.T, api *fakeAPI) *Bot {
	t.Helper()
	b, err := New(Options{
		Token:  configtest.Token,
		APIURL: api.srv.URL,
		Network: config.NetworkConfig{
			PollInterval: config.Duration(time.Second),
		},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_Authenticates(t *testing.T) {
	b := newBot(t, newFakeAPI(t))
	if b.Username() != "modbot_test" || b.ID() != 999 {
		t.Errorf("bot = %s/%d", b.Username(), b.ID())
	}
}

func TestNew_RejectsBadToken(t *testing.T) {
	api := newFakeAPI(t)
	api.on("getMe", func(map[string]any) any {
		return json.RawMessage(`{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	})
	_, err := New(Options{Token: configtest.Token, APIURL: api.srv.URL}, nil)
	if err == nil || !strings.Contains(err.Error(), "check token") {
		t.Fatalf("err = %v, want getMe failure", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing token", Options{}},
		{"bad api url", Options{Token: configtest.Token, APIURL: "ftp://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, nil)
			if !errors.Is(err, config.ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestHTTPClientCoversLongPoll(t *testing.T) {
	n := config.NetworkConfig{
		ConnectTimeout: config.Duration(2 * time.Second),
		ReadTimeout:    config.Duration(3 * time.Second),
		WriteTimeout:   config.Duration(4 * time.Second),
		PollInterval:   config.Duration(20 * time.Second),
	}
	c := httpClient(n)
	if c.Timeout != 27*time.Second {
		t.Errorf("Timeout = %v, want 27s", c.Timeout)
	}
	tr := c.Transport.(*http.Transport)
	if tr.TLSHandshakeTimeout != 2*time.Second {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != 23*time.Second {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
}

func message(chatID int64, text string) map[string]any {
	return map[string]any{
		"message_id": 1,
		"date":       0,
		"chat":       map[string]any{"id": chatID, "type": "private"},
		"text":       text,
	}
}

func TestSend(t *testing.T) {
	api := newFakeAPI(t)
	api.on("sendMessage", func(p map[string]any) any { return message(42, "hi") })
	b := newBot(t, api)

	if err := b.Send(context.Background(), 42, "hi", tele.ModeMarkdown); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	p := calls[0].params
	if p["chat_id"] != "42" || p["text"] != "hi" || p["parse_mode"] != "Markdown" {
		t.Errorf("params = %v", p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Send(ctx, 42, "late"); !errors.Is(err, context.Canceled) {
		t.Errorf("Send with cancelled ctx = %v", err)
	}
}

func TestSend_APIError(t *testing.T) {
	api := newFakeAPI(t)
	api.on("sendMessage", func(map[string]any) any {
		return json.RawMessage(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	})
	b := newBot(t, api)
	if err := b.Send(context.Background(), 42, "hi"); err == nil {
		t.Fatal("Send succeeded on an API error")
	}
}

func TestLeave(t *testing.T) {
	api := newFakeAPI(t)
	api.on("leaveChat", func(map[string]any) any { return true })
	b := newBot(t, api)

	if err := b.Leave(context.Background(), -1001); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	calls := api.callsTo("leaveChat")
	if len(calls) != 1 || calls[0].params["chat_id"] != "-1001" {
		t.Errorf("leaveChat calls = %v", calls)
	}
}

func TestAdministrators(t *testing.T) {
	api := newFakeAPI(t)
	api.on("getChatAdministrators", func(map[string]any) any {
		return []map[string]any{
			{"status": "creator", "user": map[string]any{"id": 1, "first_name": "Ada", "last_name": "L", "username": "ada"}},
			{"status": "administrator", "user": map[string]any{"id": 2, "first_name": "Helper", "is_bot": true}},
			{"status": "administrator", "user": map[string]any{"id": 3, "first_name": "Bob"}},
		}
	})
	b := newBot(t, api)

	admins, err := b.Administrators(context.Background(), -1001)
	if err != nil {
		t.Fatalf("Administrators: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("admins = %+v, want the two humans", admins)
	}
	if admins[0].UserID != 1 || admins[0].Name != "Ada L" || admins[0].Username != "ada" || admins[0].Role != "creator" {
		t.Errorf("admins[0] = %+v", admins[0])
	}
	if admins[1].UserID != 3 || admins[1].Role != "administrator" {
		t.Errorf("admins[1] = %+v", admins[1])
	}
}

func TestIsChatAdmin(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"creator", true},
		{"administrator", true},
		{"member", false},
		{"restricted", false},
		{"left", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			api := newFakeAPI(t)
			api.on("getChatMember", func(map[string]any) any {
				return map[string]any{"status": tt.status, "user": map[string]any{"id": 7, "first_name": "U"}}
			})
			b := newBot(t, api)

			got, err := b.IsChatAdmin(context.Background(), -1001, 7)
			if err != nil {
				t.Fatalf("IsChatAdmin: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsChatAdmin = %v, want %v", got, tt.want)
			}
			p := api.callsTo("getChatMember")[0].params
			if p["chat_id"] != "-1001" || p["user_id"] != "7" {
				t.Errorf("params = %v", p)
			}
		})
	}
}

func TestSetCommands(t *testing.T) {
	api := newFakeAPI(t)
	api.on("setMyCommands", func(map[string]any) any { return true })
	b := newBot(t, api)

	if err := b.SetCommands([]tele.Command{{Text: "help", Description: "Show help"}}); err != nil {
		t.Fatalf("SetCommands: %v", err)
	}
	if len(api.callsTo("setMyCommands")) != 1 {
		t.Error("setMyCommands not called")
	}
}

// TestLifecycle polls one command update, routes it to the text handler
// and stops cleanly.
func TestLifecycle(t *testing.T) {
	api := newFakeAPI(t)
	var once sync.Once
	api.on("getUpdates", func(map[string]any) any {
		var updates []map[string]any
		once.Do(func() {
			msg := message(42, "/ping now")
			msg["from"] = map[string]any{"id": 42, "first_name": "Alice"}
			updates = append(updates, map[string]any{"update_id": 1, "message": msg})
		})
		if updates == nil {
			time.Sleep(20 * time.Millisecond)
			return []any{}
		}
		return updates
	})
	b := newBot(t, api)

	got := make(chan string, 1)
	b.Handle(Handlers{Text: func(c tele.Context) error {
		got <- c.Text() + "|" + c.Message().Payload
		return nil
	}})

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	select {
	case text := <-got:
		if text != "/ping now|now" {
			t.Errorf("handler got %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("update not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	p := api.callsTo("getUpdates")[0].params
	allowed, _ := p["allowed_updates"].(string)
	if !strings.Contains(allowed, "my_chat_member") {
		t.Errorf("allowed_updates = %v", p["allowed_updates"])
	}
}

func TestStopWithoutStart(t *testing.T) {
	b := newBot(t, newFakeAPI(t))
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
