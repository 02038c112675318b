package subscription

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
)

var activeOnly bool

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List an account's subscriptions",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Subscriptions == nil {
			return cli.ErrNotInitialized
		}
		o, err := owner()
		if err != nil {
			return err
		}

		var subs []*enrollment.Subscription
		if activeOnly {
			subs, err = app.Subscriptions.ListActiveForOwner(cmd.Context(), o)
		} else {
			subs, err = app.Subscriptions.ListForOwner(cmd.Context(), o)
		}
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(subs))
			for _, s := range subs {
				views = append(views, subscriptionView(s))
			}
			return cli.PrintJSON(cmd, views)
		}

		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTARIFF\tREMAINING\tVOUCHER")
		for _, s := range subs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID(), s.Status(), s.Tariff(), cli.FormatLessons(s.LessonsRemaining()), s.VoucherCode())
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "only redeemable subscriptions")
}
