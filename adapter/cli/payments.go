package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
)

var (
	paymentsAccount string
	paymentsLimit   int
)

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Show an account's recent payments",
	Long: `List the newest payments for every subscription an account holds,
its dependents' included.

Examples:
  lessonpass payments --account acc-1
  lessonpass payments --account acc-1 --limit 25`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Bookings == nil {
			return ErrNotInitialized
		}

		history, err := app.Bookings.ListPaymentsForAccount(cmd.Context(), paymentsAccount, paymentsLimit)
		if err != nil {
			return fmt.Errorf("list payments: %w", err)
		}

		if JSONOutput() {
			views := make([]map[string]any, 0, len(history))
			for _, p := range history {
				views = append(views, map[string]any{
					"id":              p.ID(),
					"subscription_id": p.SubscriptionID(),
					"amount":          p.Amount().StringFixed(2),
					"refunded_amount": p.RefundedAmount().StringFixed(2),
					"currency":        p.Currency(),
					"status":          p.Status(),
					"created_at":      p.CreatedAt(),
				})
			}
			return PrintJSON(cmd, views)
		}

		if len(history) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No payments.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tAMOUNT\tSTATUS\tID")
		for _, p := range history {
			fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\n",
				p.CreatedAt().Format(DateLayout), p.Amount().StringFixed(2), p.Currency(), p.Status(), p.ID())
		}
		return w.Flush()
	},
}

func init() {
	paymentsCmd.Flags().StringVar(&paymentsAccount, "account", "", "account ID (required)")
	paymentsCmd.Flags().IntVar(&paymentsLimit, "limit", paymentsApp.DefaultHistoryLimit, "number of payments to show")
	_ = paymentsCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(paymentsCmd)
}
