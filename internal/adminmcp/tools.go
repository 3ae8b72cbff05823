package adminmcp

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/modbot/internal/security"
)

// coreModule can never be toggled.
const coreModule = "core"

// ModuleState is one entry of list_modules.
type ModuleState struct {
	Name    string   `json:"name"`
	Global  bool     `json:"enabled_globally"`
	Groups  []string `json:"enabled_in_groups,omitempty"`
	Unknown bool     `json:"unknown,omitempty"`
}

func (s *Server) listGroups(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups := s.opts.Store.AllowedGroups()
	return mcp.NewToolResultJSON(map[string]any{"groups": groups})
}

func (s *Server) addGroup(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := requireChatID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := req.GetString("title", "")

	added, err := s.opts.Store.AddAllowedGroup(chatID, 0, title)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("saving configuration", err), nil
	}
	if !added {
		return mcp.NewToolResultText(fmt.Sprintf("Group %d is already allowed.", chatID)), nil
	}
	s.audit(security.EventGroupAdded, chatID, title)
	return mcp.NewToolResultText(fmt.Sprintf("Group %d added to the allow list.", chatID)), nil
}

func (s *Server) removeGroup(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := requireChatID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	removed, err := s.opts.Store.RemoveAllowedGroup(chatID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("saving configuration", err), nil
	}
	if !removed {
		return mcp.NewToolResultText(fmt.Sprintf("Group %d was not allowed.", chatID)), nil
	}
	s.audit(security.EventGroupRemoved, chatID, "")
	return mcp.NewToolResultText(fmt.Sprintf("Group %d removed from the allow list.", chatID)), nil
}

func (s *Server) listModules(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := slices.Clone(s.opts.Available)
	for _, name := range s.opts.Modules.Enabled() {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	groups := s.opts.Store.AllowedGroups()
	out := make([]ModuleState, 0, len(names))
	for _, name := range names {
		st := ModuleState{
			Name:    name,
			Global:  slices.Contains(s.opts.Modules.Enabled(), name),
			Unknown: !slices.Contains(s.opts.Available, name),
		}
		for _, g := range groups {
			if s.opts.Modules.IsEnabledForChat(name, g.ChatID) {
				st.Groups = append(st.Groups, strconv.FormatInt(g.ChatID, 10))
			}
		}
		out = append(out, st)
	}
	return mcp.NewToolResultJSON(map[string]any{"modules": out})
}

func (s *Server) enableModule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.toggle(req, true)
}

func (s *Server) disableModule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.toggle(req, false)
}

func (s *Server) toggle(req mcp.CallToolRequest, enable bool) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("module")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if name == coreModule {
		return mcp.NewToolResultError("the core module is always enabled"), nil
	}
	if enable && !slices.Contains(s.opts.Available, name) {
		return mcp.NewToolResultErrorf("module %s not found", name), nil
	}
	chatID := int64(req.GetInt("chat_id", 0))
	if chatID > 0 {
		return mcp.NewToolResultError("chat_id must be a group id (negative)"), nil
	}

	scope := "globally"
	if chatID != 0 {
		scope = fmt.Sprintf("in group %d", chatID)
	}

	var changed bool
	if enable {
		changed, err = s.opts.Modules.EnableForChat(name, chatID)
	} else {
		changed, err = s.opts.Modules.DisableForChat(name, chatID)
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("saving modules", err), nil
	}

	verb, event := "enabled", security.EventModuleEnabled
	if !enable {
		verb, event = "disabled", security.EventModuleDisabled
	}
	if !changed {
		return mcp.NewToolResultText(fmt.Sprintf("Module %s is already %s %s.", name, verb, scope)), nil
	}
	s.audit(event, chatID, name)
	return mcp.NewToolResultText(fmt.Sprintf("Module %s %s %s.", name, verb, scope)), nil
}

func (s *Server) showConfig(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.opts.Store.Snapshot()
	cfg.Token = maskSecret(cfg.Token)
	cfg.Gateway.BearerToken = maskSecret(cfg.Gateway.BearerToken)
	return mcp.NewToolResultJSON(cfg)
}

func (s *Server) audit(typ security.EventType, chatID int64, detail string) {
	s.opts.Audit.Log(security.AuditEvent{
		Type:     typ,
		ChatID:   chatID,
		Detail:   detail,
		Metadata: map[string]string{"source": "mcp"},
	})
}

func requireChatID(req mcp.CallToolRequest) (int64, error) {
	v, err := req.RequireFloat("chat_id")
	if err != nil {
		return 0, err
	}
	if v == 0 || v != float64(int64(v)) {
		return 0, fmt.Errorf("invalid chat_id %v", v)
	}
	return int64(v), nil
}

// maskSecret keeps the last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
