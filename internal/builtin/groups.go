package builtin

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/security"
)

const timeLayout = "2006-01-02 15:04:05"

func (b *Builtin) listGroups(c tele.Context) error {
	groups := b.opts.Config.AllowedGroups()
	if len(groups) == 0 {
		return c.Send("No groups are allowed yet.")
	}

	var sb strings.Builder
	sb.WriteString("📋 *Allowed groups:*\n\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "🔹 *Group ID:* `%d`\n", g.ChatID)
		if g.Title != "" {
			fmt.Fprintf(&sb, "  🏷 Title: %s\n", format.EscapeMarkdown(g.Title))
		}
		if g.AddedBy != 0 {
			fmt.Fprintf(&sb, "  👤 Added by: `%d`\n", g.AddedBy)
		}
		if !g.AddedAt.IsZero() {
			fmt.Fprintf(&sb, "  ⏰ Added at: %s\n", g.AddedAt.Local().Format(timeLayout))
		}
		sb.WriteByte('\n')
	}
	return markdown(c, strings.TrimRight(sb.String(), "\n"))
}

// groupArg returns the group id from the first argument, or the current
// chat when there is none and it is a group.
func groupArg(c tele.Context) (int64, bool, error) {
	args := c.Args()
	if len(args) == 0 {
		if isGroup(c) {
			return c.Chat().ID, true, nil
		}
		return 0, false, nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (b *Builtin) addGroup(c tele.Context) error {
	id, ok, err := groupArg(c)
	switch {
	case err != nil:
		return c.Send("The group ID must be a number.")
	case !ok:
		return c.Send("You are not in a group. Usage: /addgroup <group id>")
	}

	title := ""
	if c.Chat().ID == id {
		title = c.Chat().Title
	}
	user := c.Sender().ID
	added, err := b.opts.Config.AddAllowedGroup(id, user, title)
	if err != nil {
		b.logger.Error("adding allowed group failed", "chat_id", id, "error", err)
		return c.Send("❌ Failed to add the group to the allowed list.")
	}
	if !added {
		return c.Send(fmt.Sprintf("Group %d is already allowed.", id))
	}

	b.logger.Info("group allowed", "chat_id", id, "by", user)
	b.audit(security.AuditEvent{
		Type:    security.EventGroupAdded,
		UserID:  user,
		ChatID:  id,
		Command: "addgroup",
		Detail:  title,
	})
	b.publish(dispatch.ContextFrom(c), EventGroupAdded, map[string]any{
		"chat_id":  id,
		"added_by": user,
	})
	return c.Send(fmt.Sprintf("✅ Group %d added to the allowed list.", id))
}

func (b *Builtin) removeGroup(c tele.Context) error {
	id, ok, err := groupArg(c)
	switch {
	case err != nil:
		return c.Send("The group ID must be a number.")
	case !ok:
		return c.Send("Usage: /removegroup <group id>")
	}
	if !b.opts.Config.IsGroupAllowed(id) {
		return c.Send(fmt.Sprintf("❌ Group %d is not in the allowed list.", id))
	}

	ctx := dispatch.ContextFrom(c)
	inTarget := c.Chat().ID == id
	const leaving = "⚠️ This group has been removed from the allowed list. The bot will leave."
	if inTarget {
		_ = c.Send(leaving)
	}

	user := c.Sender().ID
	removed, err := b.opts.Config.RemoveAllowedGroup(id)
	if err != nil || !removed {
		b.logger.Error("removing allowed group failed", "chat_id", id, "error", err)
		if inTarget {
			return nil
		}
		return c.Send(fmt.Sprintf("❌ Failed to remove group %d from the allowed list.", id))
	}

	b.logger.Info("group removed", "chat_id", id, "by", user)
	b.audit(security.AuditEvent{
		Type:    security.EventGroupRemoved,
		UserID:  user,
		ChatID:  id,
		Command: "removegroup",
	})
	b.publish(ctx, EventGroupRemoved, map[string]any{"chat_id": id, "removed_by": user})

	chats := b.opts.Chats
	if chats == nil {
		if inTarget {
			return nil
		}
		return c.Send(fmt.Sprintf("✅ Group %d removed from the allowed list.", id))
	}
	if !inTarget {
		if err := chats.Send(ctx, id, leaving); err != nil {
			b.logger.Warn("could not notify removed group", "chat_id", id, "error", err)
		}
	}
	if err := chats.Leave(ctx, id); err != nil {
		b.logger.Error("leaving group failed", "chat_id", id, "error", err)
		if inTarget {
			return nil
		}
		return c.Send(fmt.Sprintf("✅ Group %d removed from the allowed list, but leaving it failed: %v", id, err))
	}
	if inTarget {
		return nil
	}
	return c.Send(fmt.Sprintf("✅ Group %d removed from the allowed list and left.", id))
}

func present(role tele.MemberStatus) bool {
	switch role {
	case tele.Member, tele.Administrator, tele.Creator, tele.Restricted:
		return true
	}
	return false
}

// HandleMyChatMember reacts to the bot being added to or removed from a
// group. A super admin adding the bot allows the group right away; anyone
// else gets the group-not-authorized notice.
func (b *Builtin) HandleMyChatMember(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.Chat == nil || upd.OldChatMember == nil || upd.NewChatMember == nil {
		return nil
	}
	if dispatch.ChatTypeOf(upd.Chat) != core.ChatGroup {
		return nil
	}

	ctx := dispatch.ContextFrom(c)
	chat := upd.Chat
	var by int64
	if upd.Sender != nil {
		by = upd.Sender.ID
	}
	was, is := present(upd.OldChatMember.Role), present(upd.NewChatMember.Role)

	switch {
	case !was && is:
		allowed := b.opts.Config.IsGroupAllowed(chat.ID)
		superAdmin := b.opts.Config.IsSuperAdmin(by)
		b.logger.Info("bot added to group", "chat_id", chat.ID, "by", by, "allowed", allowed)

		if !allowed && superAdmin {
			if _, err := b.opts.Config.AddAllowedGroup(chat.ID, by, chat.Title); err != nil {
				b.logger.Error("auto-allowing group failed", "chat_id", chat.ID, "error", err)
			} else {
				allowed = true
				b.audit(security.AuditEvent{
					Type:   security.EventGroupAdded,
					UserID: by,
					ChatID: chat.ID,
					Detail: "bot added by super admin",
				})
				if err := c.Send("✅ This group is now authorized to use the bot."); err != nil {
					b.logger.Warn("could not greet group", "chat_id", chat.ID, "error", err)
				}
			}
		} else if !allowed {
			if err := c.Send(dispatch.GroupNotAllowedMessage(chat.ID, false), tele.ModeMarkdown); err != nil {
				b.logger.Warn("could not post group notice", "chat_id", chat.ID, "error", err)
			}
		}

		b.publish(ctx, EventBotAddedToGroup, map[string]any{
			"chat_id":  chat.ID,
			"title":    chat.Title,
			"added_by": by,
			"allowed":  allowed,
		})

	case was && !is:
		b.logger.Info("bot removed from group", "chat_id", chat.ID, "by", by)
		if removed, err := b.opts.Config.RemoveAllowedGroup(chat.ID); err != nil {
			b.logger.Error("removing allowed group failed", "chat_id", chat.ID, "error", err)
		} else if removed {
			b.audit(security.AuditEvent{
				Type:   security.EventGroupRemoved,
				UserID: by,
				ChatID: chat.ID,
				Detail: "bot removed from group",
			})
		}
		b.publish(ctx, EventBotRemovedFromGroup, map[string]any{"chat_id": chat.ID, "removed_by": by})
	}
	return nil
}
