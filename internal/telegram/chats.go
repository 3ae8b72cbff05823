package telegram

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/builtin"
)

// Send implements module.Sender.
func (b *Bot) Send(ctx context.Context, chatID int64, what any, opts ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.bot.Send(tele.ChatID(chatID), what, opts...); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// Leave makes the bot leave chatID.
func (b *Bot) Leave(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.bot.Leave(tele.ChatID(chatID)); err != nil {
		return fmt.Errorf("telegram: leave %d: %w", chatID, err)
	}
	return nil
}

// Administrators lists the human administrators of chatID.
func (b *Bot) Administrators(ctx context.Context, chatID int64) ([]builtin.ChatAdmin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	members, err := b.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return nil, fmt.Errorf("telegram: admins of %d: %w", chatID, err)
	}

	admins := make([]builtin.ChatAdmin, 0, len(members))
	for _, m := range members {
		if m.User == nil || m.User.IsBot {
			continue
		}
		admins = append(admins, builtin.ChatAdmin{
			UserID:   m.User.ID,
			Username: m.User.Username,
			Name:     strings.TrimSpace(m.User.FirstName + " " + m.User.LastName),
			Role:     string(m.Role),
		})
	}
	return admins, nil
}

// IsChatAdmin implements dispatch.AdminResolver.
func (b *Bot) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := b.bot.ChatMemberOf(tele.ChatID(chatID), tele.ChatID(userID))
	if err != nil {
		return false, fmt.Errorf("telegram: member %d of %d: %w", userID, chatID, err)
	}
	if m == nil {
		return false, nil
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator, nil
}
