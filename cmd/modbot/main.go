// Package main is the entry point for the modbot CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/pkg/app"

	// Compiled-in bot modules.
	_ "github.com/flemzord/modbot/modules/echo"
	_ "github.com/flemzord/modbot/modules/reminder"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modbot",
		Short:         "A modular Telegram bot with hot-pluggable modules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to config.json (default $"+app.ConfigEnv+" or config/config.json)")
	root.PersistentFlags().String("data-dir", "", "Directory for state, audit and usage data")
	root.PersistentFlags().Bool("keyring", false, "Read the bot token from the OS keychain when not configured")
	root.AddCommand(
		versionCmd(),
		startCmd(),
		configCmd(),
		initCmd(),
		tokenCmd(),
		serviceCmd(),
		mcpCmd(),
	)
	return root
}

// runParams collects the persistent flags.
func runParams(cmd *cobra.Command) app.RunParams {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	keyring, _ := cmd.Flags().GetBool("keyring")
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		UseKeyring: keyring,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return app.ResolveConfigPath()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, app.Describe(app.RunParams{Version: version, Commit: commit, Date: date}))
			mods := module.Available()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %-12s %-8s %s\n", mod.ID, mod.Version, mod.Description)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bot with the enabled modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := runParams(cmd)
			params.APIURL, _ = cmd.Flags().GetString("api-url")
			return app.Run(cmd.Context(), params)
		},
	}
	cmd.Flags().String("api-url", "", "Base URL of a self-hosted Bot API server")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s does not exist (run modbot init)", config.ErrConfig, path)
			}

			keyring, _ := cmd.Flags().GetBool("keyring")
			store, err := config.NewStore(path, config.StoreOptions{UseKeyring: keyring})
			if err != nil {
				return err
			}
			modules, err := config.NewModulesStore(app.ModulesPath(path), nil)
			if err != nil {
				return err
			}
			ids := config.ResolveStartupModules(modules, module.AvailableNames())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d admins, %d allowed groups, %d modules)\n",
				len(store.AdminIDs()), len(store.AllowedGroups()), len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file in use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(cmd))
		},
	})
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the administration tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.ServeMCP(ctx, runParams(cmd), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
