// ABOUTME: Root commands of the nightlife-agent and nightlife-principal binaries
// ABOUTME: serve loads config, prints the startup banner, and runs the service until interrupted

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/client"
	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/logging"
	"github.com/2389/nightlife/internal/service"
	"github.com/2389/nightlife/internal/statedir"
)

const banner = `
        _       _     _   _ _  __
  _ __ (_) __ _| |__ | |_| (_)/ _| ___
 | '_ \| |/ _' | '_ \| __| | | |_ / _ \
 | | | | | (_| | | | | |_| | |  _|  __/
 |_| |_|_|\__, |_| |_|\__|_|_|_|  \___|
          |___/
`

// NewAgentCmd is the root command of nightlife-agent.
func NewAgentCmd(version string) *cobra.Command {
	return newServiceCmd(config.RoleAgent, "Run handlers for topics broadcast by a principal", version)
}

// NewPrincipalCmd is the root command of nightlife-principal.
func NewPrincipalCmd(version string) *cobra.Command {
	return newServiceCmd(config.RolePrincipal, "Trigger events and broadcast them to subscribed agents", version)
}

func newServiceCmd(role config.Role, short, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nightlife-" + string(role),
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd(role, version))
	cmd.AddCommand(newHealthCmd(role))
	setVersion(cmd, version)
	return cmd
}

func setVersion(cmd *cobra.Command, version string) {
	cmd.SetVersionTemplate("{{.Version}}\n")
	if version == "" {
		version = "dev"
	}
	cmd.Version = version
}

type runner interface {
	Run(ctx context.Context) error
}

func newServeCmd(role config.Role, version string) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the " + string(role) + " HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadForRole(configPath, role)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
			printStartup(cmd.OutOrStdout(), role, version, path, cfg)

			var svc runner
			switch role {
			case config.RolePrincipal:
				svc, err = service.NewPrincipal(cfg, logger)
			default:
				svc, err = service.NewAgent(cfg, logger)
			}
			if err != nil {
				return fmt.Errorf("creating %s: %w", role, err)
			}

			logger.Info("starting nightlife-"+string(role),
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
			)
			return svc.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: $NIGHTLIFE_CONFIG or "+config.DefaultPath(role)+")")
	return cmd
}

func printStartup(w io.Writer, role config.Role, version, path string, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    %s %s\n\n", role, version)

	if path == "" {
		path = "(built-in defaults)"
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:  %s\n", path)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Topics:  %s\n", cfg.Topics.Dir)
	if role == config.RolePrincipal {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Events:  %s\n", cfg.Events.Dir)
	}

	green.Fprint(w, "    ▶ ")
	fmt.Fprint(w, "Auth:    ")
	if cfg.Auth.PublicKeyFile == "" {
		yellow.Fprintln(w, "loopback only")
	} else {
		fmt.Fprintf(w, "%s", cfg.Auth.PublicKeyFile)
		if cfg.Auth.ReplayProtection {
			gray.Fprint(w, " (replay protection)")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func newHealthCmd(role config.Role) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the running " + string(role) + " answers /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := resolveURL(url, role)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := client.New(base).Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Service URL (default: read from the "+string(role)+" lockfile)")
	return cmd
}

// resolveURL prefers an explicit URL, then the lockfile left by a running service.
func resolveURL(explicit string, role config.Role) (string, error) {
	if explicit != "" {
		return statedir.BaseURL(explicit), nil
	}
	url, err := statedir.ReadLockfile(string(role))
	if err != nil {
		return "", fmt.Errorf("%w; is nightlife-%s running? pass --url", err, role)
	}
	return url, nil
}
