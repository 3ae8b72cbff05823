package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/modbot/internal/config"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token in the OS keychain",
	}

	var fromStdin bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the bot token in the OS keychain",
		Long: "Store the bot token in the OS keychain. Start the bot with --keyring " +
			"to use it when neither the config file nor TELEGRAM_BOT_TOKEN provide one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var token string
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading token: %w", err)
				}
				token = strings.TrimSpace(line)
			} else {
				err := huh.NewInput().
					Title("Bot token").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(validateToken).
					Run()
				if err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return errors.New("aborted")
					}
					return err
				}
			}
			if err := validateToken(token); err != nil {
				return err
			}
			if err := config.StoreTokenInKeyring(strings.TrimSpace(token)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored in the OS keychain.")
			return nil
		},
	}
	set.Flags().BoolVar(&fromStdin, "stdin", false, "Read the token from standard input")

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a token is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := config.TokenFromKeyring()
			if err != nil {
				return err
			}
			if token == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No token stored.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token stored (ending in %s).\n", lastN(token, 4))
			return nil
		},
	}

	cmd.AddCommand(set, status)
	return cmd
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return strings.Repeat("*", len(s))
	}
	return s[len(s)-n:]
}
