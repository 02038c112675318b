package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	paymentsApp "github.com/felixgeelhaar/lessonpass/internal/payments/application"
)

var reconcilePending bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [payment-id]",
	Short: "Query the provider and apply a payment's final status",
	Long: `Ask the payment provider for the status of a payment and apply it.
A successful payment activates its subscription exactly once.

With --pending, run one reconcile cycle over all overdue pending payments
instead.

Examples:
  lessonpass reconcile 9b2d...
  lessonpass reconcile --pending`,
	Args: func(cmd *cobra.Command, args []string) error {
		if reconcilePending {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Reconciler == nil {
			return ErrNotInitialized
		}
		ctx := cmd.Context()

		if reconcilePending {
			if app.Poller == nil {
				return fmt.Errorf("no payment provider configured")
			}
			changed, err := app.Poller.RunOnce(ctx)
			if JSONOutput() {
				if printErr := PrintJSON(cmd, map[string]any{"changed": changed}); printErr != nil {
					return printErr
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d payment(s) changed\n", changed)
			}
			return err
		}

		paymentID, err := ParseID("payment ID", args[0])
		if err != nil {
			return err
		}
		outcome, err := app.Reconciler.ReconcileStatus(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("reconcile payment: %w", err)
		}
		return printOutcome(cmd, outcome)
	},
}

func printOutcome(cmd *cobra.Command, outcome paymentsApp.Outcome) error {
	if JSONOutput() {
		return PrintJSON(cmd, outcome)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Payment %s is %s\n", outcome.PaymentID, outcome.Status)
	if outcome.Applied {
		fmt.Fprintln(out, "  status change applied")
	}
	if outcome.VoucherCode != "" {
		fmt.Fprintf(out, "  voucher: %s\n", outcome.VoucherCode)
	}
	return nil
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcilePending, "pending", false, "reconcile all overdue pending payments")
	rootCmd.AddCommand(reconcileCmd)
}
