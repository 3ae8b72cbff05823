package app

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/flemzord/modbot/internal/adminmcp"
	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/security"
)

// ServeMCP runs the administration MCP server over in and out until ctx is
// done or in is closed. Changes land in config.json and modules.json, where
// a running bot picks them up through its file watcher. Logs go to stderr
// since out carries the protocol.
func ServeMCP(ctx context.Context, params RunParams, in io.Reader, out io.Writer) error {
	return serveMCP(ctx, params, mcpIO{in: in, out: out, log: os.Stderr})
}

type mcpIO struct {
	in     io.Reader
	out    io.Writer
	log    io.Writer
	lookup config.LookupFunc
}

func serveMCP(ctx context.Context, params RunParams, stdio mcpIO) error {
	cfgPath, dataDir := params.paths()

	redactor := security.NewRedactor()
	level := new(slog.LevelVar)
	logger := security.NewLogger(stdio.log, level, redactor)

	store, err := config.NewStore(cfgPath, config.StoreOptions{
		Logger:     logger,
		Lookup:     stdio.lookup,
		UseKeyring: params.UseKeyring,
	})
	if err != nil {
		return err
	}
	applyRuntimeConfig(store.Snapshot(), level, redactor)

	modules, err := config.NewModulesStore(ModulesPath(cfgPath), logger)
	if err != nil {
		return err
	}

	auditFile, err := security.OpenAuditFile(dataDir)
	if err != nil {
		return err
	}
	defer auditFile.Close()

	srv := adminmcp.New(adminmcp.Options{
		Store:     store,
		Modules:   modules,
		Audit:     security.NewAuditLogger(security.AuditLoggerConfig{Writer: auditFile, Redactor: redactor}),
		Logger:    logger,
		Version:   params.Version,
		Available: module.AvailableNames(),
	})
	return srv.Serve(ctx, stdio.in, stdio.out)
}
