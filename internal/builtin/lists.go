package builtin

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/module"
)

type moduleItem struct {
	name        string
	version     string
	description string
	enabled     bool
	loaded      bool
}

func (b *Builtin) moduleItems(chatID int64) []moduleItem {
	var items []moduleItem
	for _, info := range module.Available() {
		name := string(info.ID)
		items = append(items, moduleItem{
			name:        name,
			version:     info.Version,
			description: info.Description,
			enabled:     b.opts.Modules.IsEnabledForChat(name, chatID),
			loaded:      b.opts.Manager.IsLoaded(name),
		})
	}
	slices.SortFunc(items, func(x, y moduleItem) int {
		if x.enabled != y.enabled {
			if x.enabled {
				return -1
			}
			return 1
		}
		return cmp.Compare(x.name, y.name)
	})
	return items
}

func formatModule(m moduleItem) string {
	status := "❌"
	if m.enabled {
		status = "✅"
	}
	desc := "_no description_"
	if m.description != "" {
		desc = format.EscapeMarkdown(m.description)
	}
	line := fmt.Sprintf("%s *%s* v%s", status, format.EscapeMarkdown(m.name), format.EscapeMarkdown(m.version))
	if m.enabled && !m.loaded {
		line += " (not loaded)"
	}
	return line + "\n  " + desc
}

func listTitle(c tele.Context, what string) string {
	if isGroup(c) {
		return "Group " + what
	}
	return "Global " + what
}

func (b *Builtin) modulesPaginator(c tele.Context) format.Paginator[moduleItem] {
	return format.Paginator[moduleItem]{
		Title:    listTitle(c, "modules"),
		Prefix:   ModulesPrefix,
		PageSize: modulesPerPage,
		Format:   formatModule,
		Empty:    "No modules are installed.",
	}
}

func (b *Builtin) modules(c tele.Context) error {
	text, kb := b.modulesPaginator(c).Render(b.moduleItems(c.Chat().ID), 1)
	return sendPage(c, text, kb, false)
}

func (b *Builtin) modulesPage(c tele.Context) error {
	page, ok := format.ParsePageData(c.Callback().Data, ModulesPrefix)
	if !ok {
		return c.Respond()
	}
	text, kb := b.modulesPaginator(c).Render(b.moduleItems(c.Chat().ID), page)
	if err := sendPage(c, text, kb, true); err != nil {
		return err
	}
	return c.Respond()
}

type commandItem struct {
	name        string
	module      string
	level       dispatch.AdminLevel
	description string
}

func (b *Builtin) commandItems(c tele.Context) []commandItem {
	d := b.opts.Dispatcher
	level := b.level(c)
	chatID := c.Chat().ID
	chatType := dispatch.ChatTypeOf(c.Chat())

	var items []commandItem
	for _, cmd := range d.Commands() {
		if !d.Visible(cmd, level, chatID, chatType) {
			continue
		}
		items = append(items, commandItem{
			name:        cmd.Name,
			module:      cmd.Module,
			level:       cmd.Level,
			description: cmd.Description,
		})
	}
	// Core commands first, then by module and name.
	slices.SortFunc(items, func(x, y commandItem) int {
		xc, yc := x.module == dispatch.CoreModule, y.module == dispatch.CoreModule
		if xc != yc {
			if xc {
				return -1
			}
			return 1
		}
		if n := cmp.Compare(x.module, y.module); n != 0 {
			return n
		}
		return cmp.Compare(x.name, y.name)
	})
	return items
}

func formatCommand(cmd commandItem) string {
	desc := "_no description_"
	if cmd.description != "" {
		desc = format.EscapeMarkdown(cmd.description)
	}
	name := format.EscapeMarkdown(cmd.name)
	module := format.EscapeMarkdown(cmd.module)
	switch cmd.level {
	case dispatch.LevelSuperAdmin:
		return fmt.Sprintf("/%s - %s (super admin, %s)", name, desc, module)
	case dispatch.LevelGroupAdmin:
		return fmt.Sprintf("/%s - %s (admin, %s)", name, desc, module)
	default:
		return fmt.Sprintf("/%s - %s (%s)", name, desc, module)
	}
}

func (b *Builtin) commandsPaginator(c tele.Context) format.Paginator[commandItem] {
	return format.Paginator[commandItem]{
		Title:    listTitle(c, "commands"),
		Prefix:   CommandsPrefix,
		PageSize: commandsPerPage,
		Format:   formatCommand,
		Empty:    "No commands are available here.",
	}
}

func (b *Builtin) commands(c tele.Context) error {
	text, kb := b.commandsPaginator(c).Render(b.commandItems(c), 1)
	return sendPage(c, text, kb, false)
}

func (b *Builtin) commandsPage(c tele.Context) error {
	page, ok := format.ParsePageData(c.Callback().Data, CommandsPrefix)
	if !ok {
		return c.Respond()
	}
	text, kb := b.commandsPaginator(c).Render(b.commandItems(c), page)
	if err := sendPage(c, text, kb, true); err != nil {
		return err
	}
	return c.Respond()
}

// sendPage sends or edits a rendered page, falling back to plain text when
// Telegram rejects the Markdown.
func sendPage(c tele.Context, text string, kb *tele.ReplyMarkup, edit bool) error {
	send := c.Send
	if edit {
		send = c.Edit
	}
	opts := []any{tele.ModeMarkdown}
	if kb != nil {
		opts = append(opts, kb)
	}
	if err := send(text, opts...); err != nil {
		if errors.Is(err, tele.ErrSameMessageContent) || errors.Is(err, tele.ErrMessageNotModified) {
			return nil
		}
		plain := []any{}
		if kb != nil {
			plain = append(plain, kb)
		}
		return send(format.MarkdownToPlain(text), plain...)
	}
	return nil
}
