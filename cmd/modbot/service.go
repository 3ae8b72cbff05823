package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/modbot/pkg/app"
)

const serviceName = "modbot"

// program runs the bot under the OS service manager.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
}

// Start implements service.Interface. It must not block.
func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		p.done <- err
	}()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

// serviceConfig describes the installed service. Paths are made absolute
// since service managers start from an unrelated working directory.
func serviceConfig(params app.RunParams) (*service.Config, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		cfgPath = app.ResolveConfigPath()
	}
	cfgPath, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = app.DefaultDataDir()
	}
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}

	args := []string{"service", "run", "--config", cfgPath, "--data-dir", dataDir}
	if params.UseKeyring {
		args = append(args, "--keyring")
	}
	if params.APIURL != "" {
		args = append(args, "--api-url", params.APIURL)
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "modbot Telegram bot",
		Description:      "Modular Telegram bot with hot-pluggable modules.",
		Arguments:        args,
		WorkingDirectory: filepath.Dir(cfgPath),
	}, nil
}

func newService(cmd *cobra.Command) (service.Service, *program, error) {
	params := runParams(cmd)
	params.APIURL, _ = cmd.Flags().GetString("api-url")
	cfg, err := serviceConfig(params)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{params: params}
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return s, prg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control modbot as an OS service",
	}
	cmd.PersistentFlags().String("api-url", "", "Base URL of a self-hosted Bot API server")

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the %s service", capitalize(action), serviceName),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, _, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: %s done.\n", serviceName, action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := newService(cmd)
			if err != nil {
				return err
			}
			st, err := s.Status()
			if errors.Is(err, service.ErrNotInstalled) {
				fmt.Fprintln(cmd.OutOrStdout(), "not installed")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusText(st))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run the bot under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := newService(cmd)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusText(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
