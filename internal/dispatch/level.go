// Package dispatch routes Telegram updates to module handlers. It owns the
// command table, the free-text handler chain and the callback prefixes, and
// applies the group, chat type, enablement, permission and rate limit gates
// before any module code runs.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/flemzord/modbot/internal/core"
	tele "gopkg.in/telebot.v3"
)

// AdminLevel is the permission a command requires. Levels are ordered:
// a higher level includes every lower one.
type AdminLevel int

const (
	LevelNone AdminLevel = iota
	LevelGroupAdmin
	LevelSuperAdmin
)

func (l AdminLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelGroupAdmin:
		return "group_admin"
	case LevelSuperAdmin:
		return "super_admin"
	default:
		return fmt.Sprintf("AdminLevel(%d)", int(l))
	}
}

// ParseAdminLevel parses the textual level used in module configs.
// An empty string and "false" mean LevelNone.
func ParseAdminLevel(s string) (AdminLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "false", "public":
		return LevelNone, nil
	case "group_admin":
		return LevelGroupAdmin, nil
	case "super_admin", "admin":
		return LevelSuperAdmin, nil
	default:
		return LevelNone, fmt.Errorf("unknown admin level %q", s)
	}
}

// ChatChannel marks channel posts. No module can serve them.
const ChatChannel core.ChatType = "channel"

// ChatTypeOf maps a Telegram chat to the chat type modules declare.
// Groups and supergroups are both ChatGroup.
func ChatTypeOf(chat *tele.Chat) core.ChatType {
	if chat == nil {
		return ""
	}
	switch chat.Type {
	case tele.ChatPrivate:
		return core.ChatPrivate
	case tele.ChatGroup, tele.ChatSuperGroup:
		return core.ChatGroup
	default:
		return ChatChannel
	}
}
