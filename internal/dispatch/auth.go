package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/modbot/internal/core"
)

// ErrPermissionDenied is returned when a user lacks the required level.
var ErrPermissionDenied = errors.New("permission denied")

// AdminResolver answers whether a user administers a group chat.
// The Telegram adapter implements it with getChatMember.
type AdminResolver interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Admins is the config view the dispatcher needs. *config.Store implements it.
type Admins interface {
	IsSuperAdmin(userID int64) bool
	IsGroupAllowed(chatID int64) bool
}

// Authorizer resolves admin levels. Super admins come from config; group
// admins are looked up through the resolver, only when a command needs it.
type Authorizer struct {
	admins   Admins
	resolver AdminResolver
	logger   *slog.Logger
}

// NewAuthorizer creates an Authorizer. A nil resolver means nobody is a
// group admin.
func NewAuthorizer(admins Admins, resolver AdminResolver, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{admins: admins, resolver: resolver, logger: logger}
}

// Level returns the highest level userID holds in chatID.
func (a *Authorizer) Level(ctx context.Context, userID, chatID int64, chatType core.ChatType) AdminLevel {
	if a.admins.IsSuperAdmin(userID) {
		return LevelSuperAdmin
	}
	if a.isGroupAdmin(ctx, userID, chatID, chatType) {
		return LevelGroupAdmin
	}
	return LevelNone
}

// Authorize returns nil when userID holds at least required in chatID.
func (a *Authorizer) Authorize(ctx context.Context, required AdminLevel, userID, chatID int64, chatType core.ChatType) error {
	switch required {
	case LevelNone:
		return nil
	case LevelSuperAdmin:
		if a.admins.IsSuperAdmin(userID) {
			return nil
		}
	case LevelGroupAdmin:
		if a.admins.IsSuperAdmin(userID) || a.isGroupAdmin(ctx, userID, chatID, chatType) {
			return nil
		}
	}
	return fmt.Errorf("%w: user %d needs %s", ErrPermissionDenied, userID, required)
}

func (a *Authorizer) isGroupAdmin(ctx context.Context, userID, chatID int64, chatType core.ChatType) bool {
	if chatType != core.ChatGroup || a.resolver == nil {
		return false
	}
	ok, err := a.resolver.IsChatAdmin(ctx, chatID, userID)
	if err != nil {
		a.logger.Warn("group admin lookup failed", "chat_id", chatID, "user_id", userID, "error", err)
		return false
	}
	return ok
}
