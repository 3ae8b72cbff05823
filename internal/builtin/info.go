package builtin

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/module"
)

func (b *Builtin) start(c tele.Context) error {
	name := c.Sender().FirstName
	if name == "" {
		name = c.Sender().Username
	}
	return markdown(c, fmt.Sprintf("👋 Hello, %s!\n\nI'm a modular bot. Send /help to see what I can do.",
		format.EscapeMarkdown(name)))
}

func (b *Builtin) help(c tele.Context) error {
	level := b.level(c)

	var sb strings.Builder
	sb.WriteString("📚 *Help*\n\n")
	sb.WriteString("*Basic commands:*\n")
	sb.WriteString("/start - Start the bot\n")
	sb.WriteString("/help - Show this help\n")
	sb.WriteString("/id - Show user and chat IDs\n")
	sb.WriteString("/modules - List available modules\n")
	sb.WriteString("/commands - List available commands\n")
	sb.WriteString("/cancel - Cancel the current operation\n")

	if level >= dispatch.LevelGroupAdmin {
		sb.WriteString("\n*Admin commands:*\n")
		sb.WriteString("/enable <module> - Enable a module\n")
		sb.WriteString("/disable <module> - Disable a module\n")
	}
	if level >= dispatch.LevelSuperAdmin {
		sb.WriteString("\n*Super admin commands:*\n")
		sb.WriteString("/stats - Show bot statistics\n")
		sb.WriteString("/listgroups - List allowed groups\n")
		sb.WriteString("/addgroup [id] - Allow a group\n")
		sb.WriteString("/removegroup [id] - Remove a group\n")
		sb.WriteString("/reload <module> - Reload a module\n")
		sb.WriteString("/reload\\_config - Reload the configuration\n")
	}

	text := sb.String()
	if err := markdown(c, text); err != nil {
		return c.Send(format.MarkdownToPlain(text))
	}
	return nil
}

func describeUser(u *tele.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User ID: `%d`\n", u.ID)
	if u.Username != "" {
		fmt.Fprintf(&sb, "Username: @%s\n", format.EscapeMarkdown(u.Username))
	}
	fmt.Fprintf(&sb, "Name: %s\n", format.EscapeMarkdown(fullName(u)))
	return sb.String()
}

func fullName(u *tele.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (b *Builtin) id(c tele.Context) error {
	msg := c.Message()
	if msg != nil && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil {
		text := "👤 *User info*\n" + describeUser(msg.ReplyTo.Sender)
		return c.Send(text, &tele.SendOptions{ReplyTo: msg.ReplyTo, ParseMode: tele.ModeMarkdown})
	}

	chat := c.Chat()
	var sb strings.Builder
	sb.WriteString("👤 *User info*\n")
	sb.WriteString(describeUser(c.Sender()))
	sb.WriteString("\n💬 *Chat info*\n")
	fmt.Fprintf(&sb, "Chat ID: `%d`\n", chat.ID)
	fmt.Fprintf(&sb, "Type: %s\n", chat.Type)

	if isGroup(c) {
		fmt.Fprintf(&sb, "Title: %s\n", format.EscapeMarkdown(chat.Title))
		if b.opts.Chats != nil && b.level(c) >= dispatch.LevelGroupAdmin {
			sb.WriteString("\n*Group admins:*\n")
			admins, err := b.opts.Chats.Administrators(dispatch.ContextFrom(c), chat.ID)
			if err != nil {
				fmt.Fprintf(&sb, "Could not fetch the admin list: %s\n", format.EscapeMarkdown(err.Error()))
			}
			for _, a := range admins {
				name := format.EscapeMarkdown(a.Name)
				if a.Username != "" {
					name = "@" + format.EscapeMarkdown(a.Username)
				}
				fmt.Fprintf(&sb, "- %s (`%d`) - %s\n", name, a.UserID, a.Role)
			}
		}
	}
	return markdown(c, sb.String())
}

func (b *Builtin) cancel(c tele.Context) error {
	key := module.KeyOf(c)
	owner, active := b.opts.Sessions.Owner(key)
	hadState := len(b.opts.Sessions.Keys(key)) > 0
	if !active && !hadState {
		return c.Send("There is nothing to cancel.")
	}

	b.opts.Sessions.Clear(key)
	b.publish(dispatch.ContextFrom(c), EventSessionCancelled, map[string]any{
		"user_id": key.UserID,
		"chat_id": key.ChatID,
		"module":  owner,
	})
	if active {
		return c.Send(fmt.Sprintf("✅ Cancelled the current %s operation.", owner))
	}
	return c.Send("✅ Cancelled.")
}
