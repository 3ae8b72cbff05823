package builtin

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/cron"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/security"
)

func moduleArg(c tele.Context, usage string) (string, bool) {
	args := c.Args()
	if len(args) != 1 {
		_ = c.Send("Usage: " + usage)
		return "", false
	}
	return strings.ToLower(args[0]), true
}

func (b *Builtin) enable(c tele.Context) error {
	name, ok := moduleArg(c, "/enable <module>")
	if !ok {
		return nil
	}
	if name == dispatch.CoreModule {
		return c.Send("The core module is always enabled.")
	}
	if !slices.Contains(module.AvailableNames(), name) {
		return c.Send(fmt.Sprintf("Module %s not found.", name))
	}

	chatID := c.Chat().ID
	if b.opts.Modules.IsEnabledForChat(name, chatID) {
		return c.Send(fmt.Sprintf("Module %s is already enabled %s.", name, scope(c)))
	}

	if !b.opts.Manager.IsLoaded(name) {
		if err := b.opts.Manager.Load(name); err != nil {
			b.logger.Error("enabling module failed", "module", name, "error", err)
			return c.Send(fmt.Sprintf("❌ Failed to enable module %s. Check the logs.", name))
		}
	}
	if _, err := b.opts.Modules.EnableForChat(name, chatID); err != nil {
		b.logger.Error("saving module switch failed", "module", name, "chat_id", chatID, "error", err)
		return c.Send(fmt.Sprintf("❌ Failed to enable module %s. Check the logs.", name))
	}

	b.audit(security.AuditEvent{
		Type:    security.EventModuleEnabled,
		UserID:  c.Sender().ID,
		ChatID:  chatID,
		Command: "enable",
		Detail:  name,
	})
	return c.Send(fmt.Sprintf("✅ Module %s enabled %s.", name, scope(c)))
}

func (b *Builtin) disable(c tele.Context) error {
	name, ok := moduleArg(c, "/disable <module>")
	if !ok {
		return nil
	}
	if name == dispatch.CoreModule {
		return c.Send("❌ The core module cannot be disabled.")
	}

	chatID := c.Chat().ID
	if !b.opts.Modules.IsEnabledForChat(name, chatID) {
		return c.Send(fmt.Sprintf("Module %s is not enabled %s.", name, scope(c)))
	}
	if _, err := b.opts.Modules.DisableForChat(name, chatID); err != nil {
		b.logger.Error("saving module switch failed", "module", name, "chat_id", chatID, "error", err)
		return c.Send(fmt.Sprintf("❌ Failed to disable module %s. Check the logs.", name))
	}

	b.audit(security.AuditEvent{
		Type:    security.EventModuleDisabled,
		UserID:  c.Sender().ID,
		ChatID:  chatID,
		Command: "disable",
		Detail:  name,
	})

	// Unload once nothing uses the module any more.
	if !b.opts.Modules.EnabledAnywhere(name) && b.opts.Manager.IsLoaded(name) {
		if users := b.opts.Manager.Dependents(name); len(users) > 0 {
			return c.Send(fmt.Sprintf("⚠️ Module %s is disabled, but stays loaded because other modules depend on it (%s).",
				name, strings.Join(users, ", ")))
		}
		if err := b.opts.Manager.Unload(name); err != nil && !errors.Is(err, module.ErrNotLoaded) {
			b.logger.Error("unloading disabled module failed", "module", name, "error", err)
		}
	}
	return c.Send(fmt.Sprintf("✅ Module %s disabled %s.", name, scope(c)))
}

func (b *Builtin) reloadModule(c tele.Context) error {
	name, ok := moduleArg(c, "/reload <module>")
	if !ok {
		return nil
	}
	if !b.opts.Manager.IsLoaded(name) {
		return c.Send(fmt.Sprintf("❌ Module %s is not loaded.", name))
	}
	if err := b.opts.Manager.Reload(name); err != nil {
		b.logger.Error("module reload failed", "module", name, "error", err)
		return c.Send(fmt.Sprintf("❌ Failed to reload module %s. Check the logs.", name))
	}
	return c.Send(fmt.Sprintf("✅ Module %s reloaded.", name))
}

func (b *Builtin) reloadConfig(c tele.Context) error {
	if b.opts.Reloader == nil {
		return c.Send("Configuration reload is not available.")
	}
	err := b.opts.Reloader.Reload(dispatch.ContextFrom(c))
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	b.audit(security.AuditEvent{
		Type:    security.EventConfigReload,
		UserID:  c.Sender().ID,
		ChatID:  c.Chat().ID,
		Command: "reload_config",
		Detail:  detail,
	})
	if err != nil {
		b.logger.Error("configuration reload failed", "error", err)
		return c.Send("❌ Configuration reload failed; the current configuration stays in effect. Check the logs.")
	}
	return c.Send("✅ Configuration reloaded.")
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

func (b *Builtin) stats(c tele.Context) error {
	now := b.now()
	cmds, _, _ := b.opts.Dispatcher.Counts()

	var sb strings.Builder
	sb.WriteString("📊 *Bot statistics*\n\n")
	fmt.Fprintf(&sb, "⏱️ Uptime: %s\n", formatUptime(now.Sub(b.opts.Started)))
	fmt.Fprintf(&sb, "📦 Loaded modules: %d\n", len(b.opts.Manager.Loaded()))
	fmt.Fprintf(&sb, "🔖 Registered commands: %d\n", cmds)
	fmt.Fprintf(&sb, "💬 Active sessions: %d\n", b.opts.Sessions.Len())
	fmt.Fprintf(&sb, "👥 Allowed groups: %d\n", len(b.opts.Config.AllowedGroups()))

	if b.opts.Jobs != nil {
		if last, ok := b.opts.Jobs.LastRun(cron.SessionPruneName); ok {
			fmt.Fprintf(&sb, "🧹 Last cleanup: %s\n", last.Local().Format(timeLayout))
		}
	}

	if b.opts.Usage != nil {
		totals, err := b.opts.Usage.Totals(dispatch.ContextFrom(c), now.Add(-24*time.Hour))
		if err != nil {
			b.logger.Warn("usage totals unavailable", "error", err)
		} else {
			sb.WriteString("\n*Last 24 hours:*\n")
			fmt.Fprintf(&sb, "Invocations: %d by %d users\n", totals.Invocations, totals.Users)
			fmt.Fprintf(&sb, "Errors: %d, denied: %d\n", totals.Errors, totals.Denied)
			for _, top := range totals.Top {
				fmt.Fprintf(&sb, "/%s: %d\n", format.EscapeMarkdown(top.Name), top.Count)
			}
		}
	}

	text := sb.String()
	if err := markdown(c, text); err != nil {
		return c.Send(format.MarkdownToPlain(text))
	}
	return nil
}
