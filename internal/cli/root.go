// ABOUTME: Root command of the nightlife admin CLI
// ABOUTME: Holds connection and signing flags shared by every subcommand

package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/auth"
	"github.com/2389/nightlife/internal/client"
	"github.com/2389/nightlife/internal/config"
)

// globalOptions are the persistent flags of the nightlife command.
type globalOptions struct {
	url             string
	keyFile         string
	keyPasswordFile string
	issuer          string
	audience        string
	timeout         time.Duration
}

// NewRootCmd is the root command of the nightlife CLI.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "nightlife",
		Short:         "Manage nightlife principals and agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", "", "Service URL (default: read from the service lockfile)")
	flags.StringVar(&opts.keyFile, "key", "", "Private key used to sign request tokens")
	flags.StringVar(&opts.keyPasswordFile, "key-password-file", "", "File holding the private key password")
	flags.StringVar(&opts.issuer, "issuer", "", "Token issuer (default: what the target service expects)")
	flags.StringVar(&opts.audience, "audience", "", "Token audience (default: what the target service expects)")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Request timeout")

	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newAgentsCmd(opts))
	cmd.AddCommand(newDispatchCmd(opts))
	cmd.AddCommand(newDispatchesCmd(opts))
	cmd.AddCommand(newTopicsCmd(opts))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	setVersion(cmd, version)
	return cmd
}

// tokenSpec returns the claims the default config of role verifies, with
// flag overrides.
func (o *globalOptions) tokenSpec(role config.Role) auth.TokenSpec {
	defaults := config.Default(role).Auth
	spec := auth.TokenSpec{
		Issuer:    defaults.Issuer,
		Audience:  defaults.Audience,
		Tolerance: defaults.Tolerance,
	}
	if o.issuer != "" {
		spec.Issuer = o.issuer
	}
	if o.audience != "" {
		spec.Audience = o.audience
	}
	return spec
}

func (o *globalOptions) keyPassword() ([]byte, error) {
	if o.keyPasswordFile == "" {
		return nil, nil
	}
	return readSecretFile(o.keyPasswordFile)
}

// client builds a client for the service playing role. Requests are signed
// when --key is set.
func (o *globalOptions) client(role config.Role) (*client.Client, error) {
	base, err := resolveURL(o.url, role)
	if err != nil {
		return nil, err
	}

	options := []client.Option{client.WithHTTPClient(&http.Client{Timeout: o.timeout})}
	if o.keyFile != "" {
		password, err := o.keyPassword()
		if err != nil {
			return nil, err
		}
		issuer := auth.NewIssuer(o.tokenSpec(role))
		options = append(options, client.WithTokenSource(func() (string, error) {
			return issuer.IssueFromFile(o.keyFile, password)
		}))
	}
	return client.New(base, options...), nil
}

func roleFlag(value string) (config.Role, error) {
	switch config.Role(value) {
	case config.RoleAgent, config.RolePrincipal:
		return config.Role(value), nil
	default:
		return "", fmt.Errorf("unknown role %q (want agent or principal)", value)
	}
}
