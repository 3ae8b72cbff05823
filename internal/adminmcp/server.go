// Package adminmcp exposes bot administration as MCP tools over stdio so an
// operator's assistant can manage the allow list and module enablement
// without Telegram. Changes go to the config files; a running bot picks
// them up through its file watcher.
package adminmcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/security"
)

// Options are the stores the tools act on.
type Options struct {
	Store   *config.Store
	Modules *config.ModulesStore
	Audit   *security.AuditLogger
	Logger  *slog.Logger
	Version string

	// Available lists the compiled-in module names.
	Available []string
}

// Server is the MCP administration server.
type Server struct {
	opts   Options
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New builds the server and registers its tools.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "adminmcp"),
		mcp:    server.NewMCPServer("modbot-admin", opts.Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Serve answers JSON-RPC on in/out until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("admin MCP server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_groups",
		mcp.WithDescription("List the group chats the bot is allowed to operate in."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listGroups)

	s.mcp.AddTool(mcp.NewTool("add_group",
		mcp.WithDescription("Allow the bot to operate in a group chat."),
		mcp.WithNumber("chat_id", mcp.Required(), mcp.Description("Telegram chat id, negative for groups")),
		mcp.WithString("title", mcp.Description("Optional group title for display")),
	), s.addGroup)

	s.mcp.AddTool(mcp.NewTool("remove_group",
		mcp.WithDescription("Remove a group chat from the allow list."),
		mcp.WithNumber("chat_id", mcp.Required(), mcp.Description("Telegram chat id")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.removeGroup)

	s.mcp.AddTool(mcp.NewTool("list_modules",
		mcp.WithDescription("List compiled-in modules and where each is enabled."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listModules)

	s.mcp.AddTool(mcp.NewTool("enable_module",
		mcp.WithDescription("Enable a module globally, or in one group when chat_id is given."),
		mcp.WithString("module", mcp.Required(), mcp.Description("Module name")),
		mcp.WithNumber("chat_id", mcp.Description("Group chat id; omit for the global list")),
	), s.enableModule)

	s.mcp.AddTool(mcp.NewTool("disable_module",
		mcp.WithDescription("Disable a module globally, or in one group when chat_id is given."),
		mcp.WithString("module", mcp.Required(), mcp.Description("Module name")),
		mcp.WithNumber("chat_id", mcp.Description("Group chat id; omit for the global list")),
	), s.disableModule)

	s.mcp.AddTool(mcp.NewTool("show_config",
		mcp.WithDescription("Show the effective configuration with secrets masked."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.showConfig)
}
