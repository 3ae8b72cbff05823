package dispatch

import (
	"context"
	"slices"
	"strings"

	"github.com/flemzord/modbot/internal/core"
	tele "gopkg.in/telebot.v3"
)

// CoreModule owns the built-in commands. Its commands skip the per-chat
// enablement gate.
const CoreModule = "core"

// Command is one entry of the command table.
type Command struct {
	Name        string
	Module      string
	Level       AdminLevel
	Description string

	// ChatTypes restricts where the command runs. Empty means everywhere.
	ChatTypes []core.ChatType

	// BypassGroupGate lets super admins run the command in groups that are
	// not allowed yet, so the group can be managed from inside it.
	BypassGroupGate bool

	Handler tele.HandlerFunc
}

// MessageFunc handles free text. It reports whether the message was
// consumed; a consumed message stops the chain.
type MessageFunc func(c tele.Context) (handled bool, err error)

// MessageHandler is one link of the free-text chain.
type MessageHandler struct {
	Module    string
	Priority  int
	ChatTypes []core.ChatType
	Handler   MessageFunc

	seq uint64
}

// Callback handles inline button presses whose data starts with Prefix.
// Handlers answer the query themselves (c.Respond); the dispatcher only
// answers on denial and failure.
type Callback struct {
	Prefix    string
	Module    string
	Level     AdminLevel
	ChatTypes []core.ChatType
	Handler   tele.HandlerFunc
}

func supports(types []core.ChatType, t core.ChatType) bool {
	return len(types) == 0 || slices.Contains(types, t)
}

// ParseCommand splits "/name@bot arg1 arg2". ok is false when text is not a
// command or is addressed to a different bot. Names are lowercased.
func ParseCommand(text, botUsername string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	head := strings.TrimPrefix(fields[0], "/")

	name, target, addressed := strings.Cut(head, "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return "", nil, false
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// CallbackPrefix returns the routing prefix of callback data: the part
// before the first ':'.
func CallbackPrefix(data string) string {
	prefix, _, _ := strings.Cut(data, ":")
	return prefix
}

const contextKey = "modbot.ctx"

// ContextFrom returns the context of the update being handled. Outside of a
// dispatched update it returns context.Background.
func ContextFrom(c tele.Context) context.Context {
	if ctx, ok := c.Get(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}
