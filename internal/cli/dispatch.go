// ABOUTME: dispatch and dispatches subcommands against the principal

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/config"
	"github.com/2389/nightlife/internal/store"
)

func newDispatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch EVENT",
		Short: "Trigger EVENT on the principal and broadcast it to subscribed agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}
			id, err := c.Dispatch(cmd.Context(), args[0])
			if err != nil {
				if id != "" {
					return fmt.Errorf("%w (see: nightlife dispatches %s)", err, id)
				}
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "dispatched %s\n", args[0])
			return nil
		},
	}
}

func newDispatchesCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dispatches [ID]",
		Short: "List recent dispatches, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(config.RolePrincipal)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				rec, err := c.GetDispatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			}

			records, err := c.ListDispatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dispatches recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tSTARTED\tDURATION\tSTATUS\tAGENTS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID,
					r.Event,
					r.StartedAt.Local().Format(time.DateTime),
					(time.Duration(r.DurationMS) * time.Millisecond).String(),
					formatStatus(r),
					formatDeliveries(r.Deliveries),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of dispatches (server default 100, max 1000)")
	return cmd
}

func formatStatus(r store.DispatchRecord) string {
	if r.Status == store.StatusFailed {
		return color.RedString("failed (%s)", r.Stage)
	}
	return color.GreenString(string(r.Status))
}

func formatDeliveries(deliveries []store.Delivery) string {
	ok := 0
	for _, d := range deliveries {
		if d.OK {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d", ok, len(deliveries))
}
