package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var redeemCenter string

var redeemCmd = &cobra.Command{
	Use:   "redeem <voucher-code>",
	Short: "Redeem one lesson from a voucher",
	Long: `Consume one lesson from the active subscription behind a voucher code
and record the visit at the given center.

Examples:
  lessonpass redeem 7KQ2M9XD --center 3f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Subscriptions == nil {
			return ErrNotInitialized
		}
		centerID, err := ParseID("center", redeemCenter)
		if err != nil {
			return err
		}

		result, err := app.Subscriptions.RedeemOne(cmd.Context(), args[0], centerID)
		if err != nil {
			return fmt.Errorf("redeem voucher: %w", err)
		}

		if JSONOutput() {
			return PrintJSON(cmd, result)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Lesson redeemed (visit %s)\n", result.VisitID)
		if result.Unlimited {
			fmt.Fprintln(out, "  remaining: unlimited")
		} else {
			fmt.Fprintf(out, "  remaining: %d\n", result.LessonsRemaining)
		}
		fmt.Fprintf(out, "  status:    %s\n", result.Status)
		return nil
	},
}

func init() {
	redeemCmd.Flags().StringVar(&redeemCenter, "center", "", "center ID where the lesson is taken (required)")
	_ = redeemCmd.MarkFlagRequired("center")
	rootCmd.AddCommand(redeemCmd)
}
