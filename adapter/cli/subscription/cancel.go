package subscription

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <subscription-id>",
	Short: "Cancel an unpaid booking",
	Long: `Cancel a subscription that is still waiting for payment, together with
its pending payment. Active subscriptions cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Bookings == nil {
			return cli.ErrNotInitialized
		}
		id, err := cli.ParseID("subscription ID", args[0])
		if err != nil {
			return err
		}

		sub, err := app.Bookings.CancelBooking(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, subscriptionView(sub))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription %s cancelled\n", sub.ID())
		return nil
	},
}
