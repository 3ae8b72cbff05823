package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/session"
)

// Conversation steps, kept in the session under keyStep.
const (
	stepDelay = "delay"
	stepText  = "text"
)

const (
	keyStep  = "reminder.step"
	keyDelay = "reminder.delay"

	conversationTTL = 5 * time.Minute
	deletePrefix    = "rem_del"
	messagePriority = 50
)

const (
	msgAskDelay = "When should I remind you? Send a delay such as 10m, 2h or 1d. /cancel to stop."
	msgAskText  = "What should I remind you about?"
	msgBusy     = "Another conversation is in progress. Finish it or send /cancel first."
	msgNone     = "You have no pending reminders here."
)

func (m *Module) register(iface *module.Interface) error {
	err := iface.RegisterCommand("remind", m.handleRemind,
		module.WithDescription("Set a reminder: /remind <delay> <text>"))
	if err != nil {
		return err
	}
	err = iface.RegisterCommand("reminders", m.handleList,
		module.WithDescription("List your pending reminders"))
	if err != nil {
		return err
	}
	if err := iface.RegisterCallback(deletePrefix, m.handleDelete, dispatch.LevelNone); err != nil {
		return err
	}
	return iface.RegisterMessageHandler(m.handleMessage, messagePriority)
}

func (m *Module) handleRemind(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return m.startConversation(c)
	}

	delay, err := m.parseDelay(args[0])
	if err != nil {
		return sendError(c, err)
	}
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		return c.Send("Usage: /remind <delay> <text>")
	}
	return m.schedule(c, delay, text)
}

func (m *Module) startConversation(c tele.Context) error {
	sessions := m.iface.Session()
	key := module.KeyOf(c)
	if !sessions.Acquire(key, conversationTTL) {
		return c.Send(msgBusy)
	}
	sessions.Set(key, keyStep, stepDelay, conversationTTL)
	return c.Send(msgAskDelay)
}

// handleMessage continues a /remind conversation. Text from users without
// one is left to other handlers.
func (m *Module) handleMessage(c tele.Context) (bool, error) {
	sessions := m.iface.Session()
	key := module.KeyOf(c)
	if !sessions.Owns(key) {
		return false, nil
	}
	step, _ := sessions.Get(key, keyStep)
	text := strings.TrimSpace(c.Text())

	switch step {
	case stepDelay:
		delay, err := m.parseDelay(text)
		if err != nil {
			return true, sendError(c, err)
		}
		sessions.Set(key, keyDelay, delay, conversationTTL)
		sessions.Set(key, keyStep, stepText, conversationTTL)
		return true, c.Send(msgAskText)

	case stepText:
		if text == "" {
			return true, c.Send(msgAskText)
		}
		delay, ok := sessions.Get(key, keyDelay)
		m.endConversation(key)
		if !ok {
			return true, c.Send("The conversation expired. Start again with /remind.")
		}
		return true, m.schedule(c, delay.(time.Duration), text)

	default:
		m.endConversation(key)
		return false, nil
	}
}

func (m *Module) endConversation(key session.Key) {
	sessions := m.iface.Session()
	sessions.Delete(key, keyStep)
	sessions.Delete(key, keyDelay)
	sessions.Release(key)
}

func (m *Module) schedule(c tele.Context, delay time.Duration, text string) error {
	e, err := m.add(c.Sender().ID, c.Chat().ID, text, delay)
	if err != nil {
		return sendError(c, err)
	}
	return c.Send(fmt.Sprintf("Reminder set for %s (in %s).",
		e.Due.In(m.loc).Format("2006-01-02 15:04"), formatDelay(delay)))
}

func (m *Module) handleList(c tele.Context) error {
	entries := m.list(c.Sender().ID, c.Chat().ID)
	if len(entries) == 0 {
		return c.Send(msgNone)
	}

	now := m.now()
	var b strings.Builder
	b.WriteString("*Pending reminders*\n\n")
	rows := make([][]tele.InlineButton, 0, len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. in %s: %s\n", i+1, formatDelay(e.Due.Sub(now)), format.EscapeMarkdown(e.Text))
		rows = append(rows, []tele.InlineButton{{
			Text: fmt.Sprintf("❌ Delete %d", i+1),
			Data: deletePrefix + ":" + e.ID,
		}})
	}
	markup := &tele.ReplyMarkup{InlineKeyboard: rows}
	return c.Send(strings.TrimRight(b.String(), "\n"), markup, tele.ModeMarkdown)
}

func (m *Module) handleDelete(c tele.Context) error {
	_, id, _ := strings.Cut(c.Callback().Data, ":")
	if !m.remove(c.Sender().ID, id) {
		return c.Respond(&tele.CallbackResponse{Text: "Reminder not found."})
	}
	if err := c.Respond(&tele.CallbackResponse{Text: "Reminder deleted."}); err != nil {
		return err
	}
	if len(m.list(c.Sender().ID, c.Chat().ID)) == 0 {
		return c.Edit(msgNone)
	}
	return nil
}

var errEmptyDelay = errors.New("empty delay")

// parseDelay accepts Go durations ("90s", "1h30m"), a day count ("2d") or
// a bare number of minutes.
func (m *Module) parseDelay(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var (
		d   time.Duration
		err error
	)
	switch {
	case s == "":
		err = errEmptyDelay
	case strings.HasSuffix(s, "d"):
		var n int
		n, err = strconv.Atoi(strings.TrimSuffix(s, "d"))
		d = time.Duration(n) * 24 * time.Hour
	default:
		if n, convErr := strconv.Atoi(s); convErr == nil {
			d = time.Duration(n) * time.Minute
		} else {
			d, err = time.ParseDuration(s)
		}
	}
	switch {
	case err != nil:
		return 0, fmt.Errorf("invalid delay %q, use something like 10m, 2h or 1d", s)
	case d <= 0:
		return 0, errors.New("the delay must be positive")
	case d > m.config.MaxDelay:
		return 0, fmt.Errorf("the delay must not exceed %s", formatDelay(m.config.MaxDelay))
	}
	return d, nil
}

func sendError(c tele.Context, err error) error {
	return c.Send("⚠️ " + err.Error())
}

// formatDelay renders d rounded to the minute, e.g. "1d 2h 5m".
func formatDelay(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "less than a minute"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}
