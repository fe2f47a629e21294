// ABOUTME: topics subcommands against an agent
// ABOUTME: post sends a payload from --data, --file, or stdin and prints each handler's result

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/respond"
)

func newTopicsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect and invoke an agent's topics",
	}
	cmd.AddCommand(newTopicsListCmd(opts))
	cmd.AddCommand(newTopicsShowCmd(opts))
	cmd.AddCommand(newTopicsPostCmd(opts))
	return cmd
}

func newTopicsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List topics and their handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RoleAgent)
			if err != nil {
				return err
			}
			reg, err := c.Topics(cmd.Context())
			if err != nil {
				return err
			}
			if len(reg.Topics) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No topics.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tHANDLERS")
			for _, t := range reg.Topics {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, strings.Join(t.Handlers, ", "))
			}
			return w.Flush()
		},
	}
}

func newTopicsShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show TOPIC",
		Short: "Show one topic's handlers in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RoleAgent)
			if err != nil {
				return err
			}
			topic, err := c.Topic(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, h := range topic.Handlers {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	}
}

func newTopicsPostCmd(opts *globalOptions) *cobra.Command {
	var data, file string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "post TOPIC",
		Short: "Run a topic's handlers with a payload",
		Long: `Run a topic's handlers with a payload taken from --data, --file, or
stdin (in that order of preference).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, data, file)
			if err != nil {
				return err
			}
			c, err := opts.client(config.RoleAgent)
			if err != nil {
				return err
			}
			results, err := c.PostTopic(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Payload string")
	cmd.Flags().StringVar(&file, "file", "", "Read the payload from this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON results")
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	return cmd
}

func readPayload(cmd *cobra.Command, data, file string) ([]byte, error) {
	switch {
	case data != "":
		return []byte(data), nil
	case file != "":
		payload, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return payload, nil
	default:
		payload, err := io.ReadAll(cmd.InOrStdin())
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading payload from stdin: %w", err)
		}
		return payload, nil
	}
}

func printResults(w io.Writer, results *respond.TopicResults) {
	if len(results.Handlers) == 0 {
		fmt.Fprintf(w, "%s has no handlers\n", results.Name)
		return
	}
	for _, h := range results.Handlers {
		switch {
		case h.Status.TimedOut:
			color.New(color.FgYellow).Fprintf(w, "%s: timed out after %dms\n", h.Name, h.Status.RuntimeMS)
		case h.Status.Success:
			color.New(color.FgGreen).Fprintf(w, "%s: ok (%dms)\n", h.Name, h.Status.RuntimeMS)
		default:
			color.New(color.FgRed).Fprintf(w, "%s: exit %d (%dms)\n", h.Name, *h.Status.ExitStatus, h.Status.RuntimeMS)
		}
		printOutput(w, "stdout", h.Stdout)
		printOutput(w, "stderr", h.Stderr)
	}
}

func printOutput(w io.Writer, label string, out respond.Output) {
	if out.Length == 0 {
		return
	}
	gray := color.New(color.FgHiBlack)
	if out.Truncated {
		gray.Fprintf(w, "  %s (%d of %d bytes):\n", label, len(out.Output), out.Length)
	} else {
		gray.Fprintf(w, "  %s:\n", label)
	}
	for _, line := range strings.Split(strings.TrimRight(out.Output, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
