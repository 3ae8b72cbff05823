package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/modbot/internal/config"
)

// answers are the values collected by the init wizard.
type answers struct {
	Token      string
	AdminIDs   string
	Bind       string
	UseKeyring bool
}

// config builds and validates the configuration described by a.
func (a answers) config() (*config.Config, error) {
	ids, errs := config.ParseIDList(a.AdminIDs)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: admin ids: %w", config.ErrConfig, err)
	}
	cfg := config.Default()
	cfg.Token = strings.TrimSpace(a.Token)
	cfg.AdminIDs = ids
	cfg.Gateway.Bind = strings.TrimSpace(a.Bind)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateToken(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return errors.New("the token is required")
	case config.IsPlaceholderToken(s):
		return errors.New("that is the sample placeholder")
	case !strings.Contains(s, ":"):
		return errors.New("tokens look like 123456:ABC-DEF")
	}
	return nil
}

func validateAdminIDs(s string) error {
	ids, errs := config.ParseIDList(s)
	if len(errs) > 0 {
		return errs[0]
	}
	if len(config.EffectiveAdminIDs(ids)) == 0 {
		return errors.New("enter at least one Telegram user id")
	}
	return nil
}

func validateBind(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("expected host:port: %w", err)
	}
	return nil
}

func initCmd() *cobra.Command {
	var force, accessible bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			var a answers
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Bot token").
						Description("The token @BotFather gave you.").
						EchoMode(huh.EchoModePassword).
						Value(&a.Token).
						Validate(validateToken),
					huh.NewInput().
						Title("Super admin ids").
						Description("Comma separated Telegram user ids.").
						Placeholder("111111111").
						Value(&a.AdminIDs).
						Validate(validateAdminIDs),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Gateway address").
						Description("host:port for /health, /status and /metrics. Leave empty to disable.").
						Placeholder("127.0.0.1:8080").
						Value(&a.Bind).
						Validate(validateBind),
					huh.NewConfirm().
						Title("Keep the token in the OS keychain instead of the file?").
						Value(&a.UseKeyring),
				),
			).WithAccessible(accessible).
				WithInput(cmd.InOrStdin()).
				WithOutput(cmd.OutOrStdout())

			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return errors.New("init aborted")
				}
				return err
			}
			return writeInitConfig(cmd, path, a)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use plain prompts instead of the interactive form")
	return cmd
}

func writeInitConfig(cmd *cobra.Command, path string, a answers) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	if a.UseKeyring {
		if err := config.StoreTokenInKeyring(cfg.Token); err != nil {
			return err
		}
		cfg.Token = ""
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration written to %s\n", path)
	if a.UseKeyring {
		fmt.Fprintln(out, "The token is in the OS keychain. Start with: modbot start --keyring")
	} else {
		fmt.Fprintln(out, "Start with: modbot start")
	}
	return nil
}
