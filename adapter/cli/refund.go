package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	refundAmount string
	refundReason string
)

var refundCmd = &cobra.Command{
	Use:   "refund <payment-id>",
	Short: "Refund part or all of a successful payment",
	Long: `Refund an amount of a successful payment through the provider.
Refunds never exceed what remains unrefunded; a payment refunded in full
becomes refunded.

Examples:
  lessonpass refund 9b2d... --amount 15000 --reason "moved away"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Refunds == nil {
			return ErrNotInitialized
		}
		paymentID, err := ParseID("payment ID", args[0])
		if err != nil {
			return err
		}
		amount, err := decimal.NewFromString(refundAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", refundAmount, err)
		}

		refund, err := app.Refunds.RequestRefund(cmd.Context(), paymentID, amount, refundReason)
		if err != nil {
			return fmt.Errorf("refund payment: %w", err)
		}

		if JSONOutput() {
			return PrintJSON(cmd, map[string]any{
				"id":                 refund.ID(),
				"payment_id":         refund.PaymentID(),
				"amount":             refund.Amount().StringFixed(2),
				"status":             refund.Status(),
				"provider_refund_id": refund.ProviderRefundID(),
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Refund %s %s\n", refund.ID(), refund.Status())
		fmt.Fprintf(out, "  amount:   %s\n", refund.Amount().StringFixed(2))
		fmt.Fprintf(out, "  provider: %s\n", refund.ProviderRefundID())
		return nil
	},
}

func init() {
	refundCmd.Flags().StringVar(&refundAmount, "amount", "", "amount to refund (required)")
	refundCmd.Flags().StringVar(&refundReason, "reason", "", "reason passed to the provider")
	_ = refundCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(refundCmd)
}
