// ABOUTME: agents subcommands against the principal control plane

package cli

import (
	"encoding/base64"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/principalapi"
)

func newAgentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents registered with the principal",
	}
	cmd.AddCommand(newAgentsListCmd(opts))
	cmd.AddCommand(newAgentsGetCmd(opts))
	cmd.AddCommand(newAgentsPutCmd(opts))
	cmd.AddCommand(newAgentsDeleteCmd(opts))
	return cmd
}

func newAgentsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents registered.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tEVENTS\tKEY")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Host, strings.Join(a.Events, ","), a.KeyPath)
			}
			return w.Flush()
		},
	}
}

func newAgentsGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}
			agent, err := c.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), agent)
		},
	}
}

func newAgentsPutCmd(opts *globalOptions) *cobra.Command {
	var req principalapi.PutAgentRequest
	var passwordFile string
	cmd := &cobra.Command{
		Use:   "put NAME",
		Short: "Register or replace an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordFile != "" {
				password, err := readSecretFile(passwordFile)
				if err != nil {
					return err
				}
				if password != nil {
					req.KeyPasswordB64 = base64.StdEncoding.EncodeToString(password)
				}
			}

			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}
			if err := c.PutAgent(cmd.Context(), args[0], req); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Host, "host", "", "Agent base URL, e.g. http://10.0.0.5:8001")
	cmd.Flags().StringVar(&req.KeyPath, "key-path", "", "Private key file on the principal used to sign broadcasts to this agent")
	cmd.Flags().StringSliceVar(&req.Events, "events", nil, "Events the agent subscribes to (comma separated)")
	cmd.Flags().StringVar(&passwordFile, "agent-key-password-file", "", "File holding the password of --key-path")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("key-path")
	return cmd
}

func newAgentsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}
			if err := c.DeleteAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
