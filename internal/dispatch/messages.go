package dispatch

import (
	"fmt"
	"strings"

	"github.com/flemzord/modbot/internal/core"
)

// User-facing notices.
const (
	MsgSuperAdminOnly = "⚠️ This command is only available to super admins."
	MsgNoPermission   = "⚠️ You do not have permission to use this command."
	MsgRateLimited    = "⏳ Too many commands. Please wait a minute and try again."
	MsgFailure        = "😔 Something went wrong while handling your request. Please try again later."
)

// GroupNotAllowedMessage is sent when a command arrives from a group that
// is not on the allowed list. Super admins get the command that fixes it.
func GroupNotAllowedMessage(chatID int64, superAdmin bool) string {
	msg := fmt.Sprintf("⚠️ This group is not authorized to use this bot.\nChat ID: `%d`", chatID)
	if superAdmin {
		msg += fmt.Sprintf("\n\nAs a super admin you can authorize it with:\n`/addgroup %d`", chatID)
	}
	return msg
}

// WrongChatMessage explains where a module can be used.
func WrongChatMessage(types []core.ChatType) string {
	switch {
	case len(types) == 1 && types[0] == core.ChatPrivate:
		return "⚠️ This command is only available in private chats."
	case len(types) == 1 && types[0] == core.ChatGroup:
		return "⚠️ This command is only available in group chats."
	default:
		return "⚠️ This command is not available in this chat."
	}
}

// DisabledMessage reports a module switched off for the chat.
func DisabledMessage(module string) string {
	return fmt.Sprintf("⚠️ The %s module is disabled in this chat.", module)
}

// DeniedMessage returns the denial text for the required level.
func DeniedMessage(required AdminLevel) string {
	if required >= LevelSuperAdmin {
		return MsgSuperAdminOnly
	}
	return MsgNoPermission
}

// SuggestionMessage lists close matches for an unknown command.
func SuggestionMessage(name string, matches []string) string {
	cmds := make([]string, len(matches))
	for i, m := range matches {
		cmds[i] = "/" + m
	}
	return fmt.Sprintf("❓ Unknown command /%s. Did you mean: %s?", name, strings.Join(cmds, ", "))
}
