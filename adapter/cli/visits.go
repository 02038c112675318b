package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	visitsCenter string
	visitsFrom   string
	visitsTo     string
)

var visitsCmd = &cobra.Command{
	Use:   "visits",
	Short: "Count redeemed lessons at a center",
	Long: `Count visits recorded at a center over a date range. --from is
inclusive, --to is exclusive; both are UTC calendar dates. The range
defaults to the last 30 days.

Examples:
  lessonpass visits --center 3f1c...
  lessonpass visits --center 3f1c... --from 2026-09-01 --to 2026-10-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Subscriptions == nil {
			return ErrNotInitialized
		}
		centerID, err := ParseID("center", visitsCenter)
		if err != nil {
			return err
		}
		from, to, err := DateRange(visitsFrom, visitsTo, time.Now().UTC())
		if err != nil {
			return err
		}

		count, err := app.Subscriptions.CountCenterVisits(cmd.Context(), centerID, from, to)
		if err != nil {
			return fmt.Errorf("count visits: %w", err)
		}

		if JSONOutput() {
			return PrintJSON(cmd, map[string]any{
				"center_id": centerID,
				"from":      from,
				"to":        to,
				"visits":    count,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d visit(s) from %s to %s\n",
			count, from.Format(DateLayout), to.Format(DateLayout))
		return nil
	},
}

func init() {
	visitsCmd.Flags().StringVar(&visitsCenter, "center", "", "center ID (required)")
	visitsCmd.Flags().StringVar(&visitsFrom, "from", "", "first day, inclusive (YYYY-MM-DD)")
	visitsCmd.Flags().StringVar(&visitsTo, "to", "", "last day, exclusive (YYYY-MM-DD)")
	_ = visitsCmd.MarkFlagRequired("center")
	rootCmd.AddCommand(visitsCmd)
}
