// Package app wires the bot together and runs it until shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/modbot/internal/reload"
)

// ConfigEnv names the environment variable that points at config.json.
const ConfigEnv = "MODBOT_CONFIG"

const stopTimeout = 30 * time.Second

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to config.json. If empty,
	// ResolveConfigPath is used.
	ConfigPath string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// APIURL points the bot at a self-hosted Bot API server.
	APIURL string

	// UseKeyring lets the OS keychain supply a missing bot token.
	UseKeyring bool

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string
}

// Run wires the bot, starts it and blocks until SIGINT, SIGTERM or ctx is
// done. SIGHUP and changes to config.json or modules.json trigger a live
// reload.
func Run(ctx context.Context, params RunParams) error {
	cfgPath, dataDir := params.paths()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bot, err := wire(ctx, wireParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		APIURL:     params.APIURL,
		Version:    params.Version,
		UseKeyring: params.UseKeyring,
	})
	if err != nil {
		return err
	}
	logger := bot.Logger
	logger.Info("starting modbot", "version", params.Version, "commit", params.Commit, "config", cfgPath, "data_dir", dataDir)

	if err := bot.Start(); err != nil {
		bot.shutdown(ctx)
		return err
	}

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	changes := reload.Watch(ctx, bot.paths, reload.DefaultPollInterval)

	stop := func() error {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		bot.Stop(stopCtx)
		logger.Info("shutdown complete")
		return nil
	}

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := bot.Reloader.Reload(ctx); err != nil {
					logger.Error("reload failed, keeping current configuration", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			return stop()
		case <-ctx.Done():
			logger.Info("shutdown requested")
			return stop()
		case evt, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			bot.Reloader.HandleEvent(ctx, evt)
		}
	}
}

// paths applies the defaults to ConfigPath and DataDir.
func (p RunParams) paths() (cfgPath, dataDir string) {
	cfgPath, dataDir = p.ConfigPath, p.DataDir
	if cfgPath == "" {
		cfgPath = ResolveConfigPath()
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return cfgPath, dataDir
}

// ModulesPath returns the modules.json that sits next to configPath.
func ModulesPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "modules.json")
}

// ResolveConfigPath returns $MODBOT_CONFIG when set, otherwise
// config/config.json under the working directory. The file need not exist;
// a default one is written on first start.
func ResolveConfigPath() string {
	if p, ok := os.LookupEnv(ConfigEnv); ok && p != "" {
		return p
	}
	return filepath.Join("config", "config.json")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/modbot if set, otherwise ~/.local/share/modbot per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "modbot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".local", "share", "modbot")
}

// Describe formats the version line printed by the CLI.
func Describe(p RunParams) string {
	return fmt.Sprintf("modbot %s (commit: %s, built: %s)", p.Version, p.Commit, p.Date)
}
