package center

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List students with active passes at a center",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Subscriptions == nil {
			return cli.ErrNotInitialized
		}
		id, err := center()
		if err != nil {
			return err
		}

		roster, err := app.Subscriptions.CenterRoster(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("center roster: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, roster)
		}
		if len(roster) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active students.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tDEPENDENT\tPASSES\tREMAINING")
		for _, e := range roster {
			remaining := fmt.Sprint(e.LessonsRemaining)
			if e.Unlimited {
				remaining += " + unlimited"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.AccountID, e.DependentID, e.Subscriptions, remaining)
		}
		return w.Flush()
	},
}
