package reminder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/modbot/internal/config/configtest"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/dispatch/dispatchtest"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/session"
	"github.com/flemzord/modbot/internal/state"
)

const (
	superAdmin = int64(111)
	user       = int64(222)
	group      = int64(-1001)
)

type sent struct {
	chatID int64
	what   any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Send(_ context.Context, chatID int64, what any, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID: chatID, what: what})
	return nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fixture struct {
	d        *dispatch.Dispatcher
	bus      *event.Bus
	sessions *session.Manager
	manager  *module.Manager
	sender   *fakeSender
	states   *state.Manager
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := state.NewManager(t.TempDir(), state.Options{})
	if err != nil {
		t.Fatal(err)
	}
	cfg := configtest.NewStore(t, []int64{superAdmin}, group)

	f := &fixture{
		bus:      event.NewBus(event.Options{}),
		sessions: session.NewManager(session.Options{}),
		sender:   &fakeSender{},
		states:   st,
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.d = dispatch.New(dispatch.Options{Admins: cfg, Resolver: dispatchtest.NewResolver()})
	f.manager = module.NewManager(module.Deps{
		Dispatcher: f.d,
		Bus:        f.bus,
		Sessions:   f.sessions,
		State:      st,
		Config:     cfg,
		Sender:     f.sender,
	})
	f.load(t)
	t.Cleanup(f.manager.UnloadAll)
	return f
}

func (f *fixture) load(t *testing.T) {
	t.Helper()
	if err := f.manager.Load("reminder"); err != nil {
		t.Fatalf("Load(reminder): %v", err)
	}
	f.plugin(t).now = func() time.Time { return f.now }
}

func (f *fixture) plugin(t *testing.T) *Module {
	t.Helper()
	for _, lm := range f.manager.Loaded() {
		if lm.Info.ID == "reminder" {
			return lm.Plugin.(*Module)
		}
	}
	t.Fatal("reminder not loaded")
	return nil
}

func (f *fixture) run(t *testing.T, userID, chatID int64, text string) *dispatchtest.Context {
	t.Helper()
	c := dispatchtest.NewMessage(userID, chatID, text)
	if err := f.d.HandleText(c); err != nil {
		t.Fatalf("HandleText(%q): %v", text, err)
	}
	return c
}

func TestRemind_OneLine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	got := f.run(t, user, user, "/remind 10m buy milk").LastText()
	if want := "Reminder set for 2026-03-01 09:10 (in 10m)."; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}

	c := f.run(t, user, user, "/reminders")
	if !strings.Contains(c.LastText(), "1. in 10m: buy milk") {
		t.Errorf("list = %q", c.LastText())
	}
	markup := c.Sent()[0].Markup()
	if markup == nil || len(markup.InlineKeyboard) != 1 {
		t.Fatalf("markup = %+v, want one delete button", markup)
	}
	if data := markup.InlineKeyboard[0][0].Data; !strings.HasPrefix(data, deletePrefix+":") {
		t.Errorf("button data = %q", data)
	}
}

func TestRemind_Usage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		text string
		want string
	}{
		{"/remind 10m", "Usage: /remind <delay> <text>"},
		{"/remind soon call", "⚠️ invalid delay"},
		{"/remind 0 nothing", "⚠️ the delay must be positive"},
		{"/remind 40d far", "⚠️ the delay must not exceed 30d"},
	}
	for _, tt := range tests {
		if got := f.run(t, user, user, tt.text).LastText(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("%q -> %q, want prefix %q", tt.text, got, tt.want)
		}
	}
}

func TestRemind_Conversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := session.Key{UserID: user, ChatID: group}

	steps := []struct {
		text string
		want string
	}{
		{"/remind", msgAskDelay},
		{"later", "⚠️ invalid delay"},
		{"2h", msgAskText},
		{"stand-up notes", "Reminder set for 2026-03-01 11:00 (in 2h)."},
	}
	for _, s := range steps {
		if got := f.run(t, user, group, s.text).LastText(); !strings.HasPrefix(got, s.want) {
			t.Fatalf("%q -> %q, want prefix %q", s.text, got, s.want)
		}
	}

	if owner, ok := f.sessions.Owner(key); ok {
		t.Errorf("conversation still owned by %q", owner)
	}
	if got := f.run(t, user, group, "plain chatter").Sent(); len(got) != 0 {
		t.Errorf("text after the conversation got replies: %+v", got)
	}
	if entries := f.plugin(t).list(user, group); len(entries) != 1 || entries[0].Text != "stand-up notes" {
		t.Errorf("pending = %+v", entries)
	}
}

func TestRemind_ConversationBusy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	key := session.Key{UserID: user, ChatID: user}
	if !f.sessions.Acquire(key, "quiz", time.Minute) {
		t.Fatal("Acquire failed")
	}

	if got := f.run(t, user, user, "/remind").LastText(); got != msgBusy {
		t.Errorf("reply = %q, want %q", got, msgBusy)
	}
	if got := f.run(t, user, user, "5m").Sent(); len(got) != 0 {
		t.Errorf("reminder handled text it does not own: %+v", got)
	}
}

func TestRemind_MaxPerUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.plugin(t).config.MaxPerUser = 2

	f.run(t, user, user, "/remind 1m a")
	f.run(t, user, user, "/remind 2m b")
	got := f.run(t, user, user, "/remind 3m c").LastText()
	if want := "⚠️ you already have 2 pending reminders"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if got := f.run(t, superAdmin, superAdmin, "/remind 3m c").LastText(); !strings.HasPrefix(got, "Reminder set") {
		t.Errorf("other user reply = %q", got)
	}
}

func TestFireDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.plugin(t)

	var fired []event.Event
	var mu sync.Mutex
	f.bus.Subscribe(EventFired, func(_ context.Context, ev event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, ev)
		return nil
	})

	f.run(t, user, user, "/remind 1m tea")
	f.run(t, user, group, "/remind 1h meeting")

	ctx := context.Background()
	if n := m.fireDue(ctx); n != 0 {
		t.Fatalf("fired %d before due", n)
	}

	f.now = f.now.Add(2 * time.Minute)
	if n := m.fireDue(ctx); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || msgs[0].chatID != user || msgs[0].what != "⏰ Reminder: tea" {
		t.Fatalf("sent = %+v", msgs)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.bus.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0].Data["user_id"] != user {
		t.Errorf("events = %+v", fired)
	}
	if left := m.list(user, group); len(left) != 1 {
		t.Errorf("pending in group = %d, want 1", len(left))
	}
}

func TestDeleteCallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.run(t, user, user, "/remind 5m water plants")
	list := f.run(t, user, user, "/reminders")
	data := list.Sent()[0].Markup().InlineKeyboard[0][0].Data

	other := dispatchtest.NewCallback(superAdmin, user, data)
	if err := f.d.HandleCallback(other); err != nil {
		t.Fatal(err)
	}
	if r := other.Responses(); len(r) != 1 || r[0].Text != "Reminder not found." {
		t.Errorf("other user responses = %+v", r)
	}

	c := dispatchtest.NewCallback(user, user, data)
	if err := f.d.HandleCallback(c); err != nil {
		t.Fatal(err)
	}
	if r := c.Responses(); len(r) != 1 || r[0].Text != "Reminder deleted." {
		t.Errorf("responses = %+v", r)
	}
	if e := c.Edits(); len(e) != 1 || e[0].Text() != msgNone {
		t.Errorf("edits = %+v", e)
	}
	if got := f.run(t, user, user, "/reminders").LastText(); got != msgNone {
		t.Errorf("list after delete = %q", got)
	}
}

func TestReminders_SurviveReload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.run(t, user, user, "/remind 1d renew passport")
	if err := f.manager.Reload("reminder"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	f.plugin(t).now = func() time.Time { return f.now }

	if got := f.run(t, user, user, "/reminders").LastText(); !strings.Contains(got, "renew passport") {
		t.Errorf("list after reload = %q", got)
	}
}

// saved reads the reminders on disk without unloading the module.
func (f *fixture) saved(t *testing.T) []Entry {
	t.Helper()
	var entries []Entry
	if err := f.states.Load("reminder", &entries); err != nil {
		t.Fatalf("loading saved reminders: %v", err)
	}
	return entries
}

func TestReminders_SavedOnEveryChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := f.plugin(t)

	f.run(t, user, user, "/remind 1m tea")
	f.run(t, user, user, "/remind 1h call mom")
	if got := f.saved(t); len(got) != 2 || got[0].Text != "tea" {
		t.Fatalf("saved after add = %+v", got)
	}

	f.now = f.now.Add(2 * time.Minute)
	if n := m.fireDue(context.Background()); n != 1 {
		t.Fatalf("fired %d, want 1", n)
	}
	got := f.saved(t)
	if len(got) != 1 || got[0].Text != "call mom" {
		t.Fatalf("saved after delivery = %+v", got)
	}

	if !m.remove(user, got[0].ID) {
		t.Fatal("remove failed")
	}
	if got := f.saved(t); len(got) != 0 {
		t.Errorf("saved after remove = %+v", got)
	}
}

func TestCleanup_StopsLoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	done := f.plugin(t).done

	if err := f.manager.Unload("reminder"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery loop still running after unload")
	}
	if got := f.run(t, user, user, "/remind 1m x").Sent(); len(got) != 0 {
		t.Errorf("command still routed after unload: %+v", got)
	}
}

func TestParseDelay(t *testing.T) {
	t.Parallel()
	m := &Module{}
	m.config.defaults()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"10", 10 * time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{" 3H ", 3 * time.Hour, false},
		{"", 0, true},
		{"xd", 0, true},
		{"-5m", 0, true},
		{"31d", 0, true},
	}
	for _, tt := range tests {
		got, err := m.parseDelay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDelay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDelay(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{20 * time.Second, "less than a minute"},
		{10 * time.Minute, "10m"},
		{2 * time.Hour, "2h"},
		{26*time.Hour + 5*time.Minute, "1d 2h 5m"},
		{119 * time.Second, "2m"},
	}
	for _, tt := range tests {
		if got := formatDelay(tt.in); got != tt.want {
			t.Errorf("formatDelay(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"fast check", Config{CheckInterval: 100 * time.Millisecond}, true},
		{"negative max", Config{MaxPerUser: -1}, true},
		{"short max delay", Config{MaxDelay: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &Module{config: tt.config}
			if err := m.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
