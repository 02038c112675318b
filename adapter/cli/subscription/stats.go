package subscription

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show visit and lesson totals for an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Subscriptions == nil {
			return cli.ErrNotInitialized
		}
		o, err := owner()
		if err != nil {
			return err
		}

		stats, err := app.Subscriptions.VisitStats(cmd.Context(), o)
		if err != nil {
			return fmt.Errorf("visit stats: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, stats)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Visits:            %d\n", stats.Visits)
		fmt.Fprintf(out, "Lessons bought:    %d\n", stats.LessonsTotal)
		fmt.Fprintf(out, "Lessons remaining: %d\n", stats.LessonsRemaining)
		fmt.Fprintf(out, "Unlimited passes:  %d\n", stats.Unlimited)
		return nil
	},
}
