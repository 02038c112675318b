package center

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
)

var (
	reportFrom string
	reportTo   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise a center's visits, sales and revenue",
	Long: `Count visits and activated passes at a center and sum the payments
settled for its passes. --from is inclusive, --to is exclusive; both are UTC
calendar dates. The range defaults to the last 30 days.

Examples:
  lessonpass center report --center 3f1c...
  lessonpass center report --center 3f1c... --from 2026-09-01 --to 2026-10-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Subscriptions == nil || app.Bookings == nil {
			return cli.ErrNotInitialized
		}
		id, err := center()
		if err != nil {
			return err
		}
		from, to, err := cli.DateRange(reportFrom, reportTo, time.Now().UTC())
		if err != nil {
			return err
		}

		activity, err := app.Subscriptions.CenterActivity(cmd.Context(), id, from, to)
		if err != nil {
			return fmt.Errorf("center activity: %w", err)
		}
		revenue, err := app.Bookings.CenterRevenue(cmd.Context(), id, from, to)
		if err != nil {
			return fmt.Errorf("center revenue: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, map[string]any{
				"center_id": id,
				"from":      from,
				"to":        to,
				"visits":    activity.Visits,
				"sales":     activity.Sales,
				"revenue":   revenueViews(revenue),
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Center %s, %s to %s\n", id, from.Format(cli.DateLayout), to.Format(cli.DateLayout))
		fmt.Fprintf(out, "  visits: %d\n", activity.Visits)
		fmt.Fprintf(out, "  sales:  %d\n", activity.Sales)
		if len(revenue) == 0 {
			fmt.Fprintln(out, "  revenue: none")
		}
		for _, r := range revenue {
			fmt.Fprintf(out, "  revenue %s: %s gross, %s refunded, %s net (%d payments)\n",
				r.Currency, r.Gross.StringFixed(2), r.Refunded.StringFixed(2), r.Net().StringFixed(2), r.Payments)
		}
		return nil
	},
}

func revenueViews(revenue []payments.Revenue) []map[string]any {
	views := make([]map[string]any, 0, len(revenue))
	for _, r := range revenue {
		views = append(views, map[string]any{
			"currency": r.Currency,
			"payments": r.Payments,
			"gross":    r.Gross.StringFixed(2),
			"refunded": r.Refunded.StringFixed(2),
			"net":      r.Net().StringFixed(2),
		})
	}
	return views
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "first day, inclusive (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "last day, exclusive (YYYY-MM-DD)")
}
