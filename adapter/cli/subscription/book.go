package subscription

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
	payments "github.com/felixgeelhaar/lessonpass/internal/payments/domain"
)

var (
	bookPlan   string
	bookTariff string
	bookEmail  string
	bookPhone  string
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book a lesson pass",
	Long: `Book a lesson pass for a plan tariff (4, 8 or unlimited).

Without a payment provider the pass is active immediately and its voucher
is printed. With a provider the booking waits for payment and the checkout
URL is printed instead.

Examples:
  lessonpass subscription book --account acc-1 --plan 5e0a... --tariff 8
  lessonpass subscription book --account acc-1 --dependent kid-1 --plan 5e0a... --tariff unlimited`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Bookings == nil {
			return cli.ErrNotInitialized
		}
		o, err := owner()
		if err != nil {
			return err
		}
		planID, err := cli.ParseID("plan", bookPlan)
		if err != nil {
			return err
		}

		result, err := app.Bookings.Book(cmd.Context(), paymentsApp.BookCommand{
			Owner:  o,
			PlanID: planID,
			Tariff: bookTariff,
			Customer: payments.Customer{
				AccountID: o.AccountID,
				Email:     bookEmail,
				Phone:     bookPhone,
			},
		})
		if err != nil {
			if result.Subscription != nil {
				return fmt.Errorf("booking %s created but checkout failed, retry the payment: %w", result.Subscription.ID(), err)
			}
			return fmt.Errorf("book: %w", err)
		}

		if cli.JSONOutput() {
			view := map[string]any{
				"subscription": subscriptionView(result.Subscription),
				"activated":    result.Activated,
			}
			if result.Payment != nil {
				view["payment_id"] = result.Payment.ID()
				view["redirect_url"] = result.RedirectURL
			}
			return cli.PrintJSON(cmd, view)
		}

		out := cmd.OutOrStdout()
		printSubscription(out, result.Subscription)
		if result.Payment != nil {
			fmt.Fprintf(out, "  payment:   %s\n", result.Payment.ID())
			fmt.Fprintf(out, "Complete payment at %s\n", result.RedirectURL)
		}
		return nil
	},
}

func init() {
	bookCmd.Flags().StringVar(&bookPlan, "plan", "", "plan ID (required)")
	bookCmd.Flags().StringVar(&bookTariff, "tariff", "", "tariff: 4, 8 or unlimited (required)")
	bookCmd.Flags().StringVar(&bookEmail, "email", "", "customer e-mail passed to the provider")
	bookCmd.Flags().StringVar(&bookPhone, "phone", "", "customer phone passed to the provider")
	_ = bookCmd.MarkFlagRequired("plan")
	_ = bookCmd.MarkFlagRequired("tariff")
}
