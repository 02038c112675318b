package plans

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
)

var listCenter string

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List a center's plans",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Catalog == nil {
			return cli.ErrNotInitialized
		}
		centerID, err := cli.ParseID("center", listCenter)
		if err != nil {
			return err
		}

		plans, err := app.Catalog.ListPlans(cmd.Context(), centerID)
		if err != nil {
			return fmt.Errorf("list plans: %w", err)
		}

		if cli.JSONOutput() {
			views := make([]map[string]any, 0, len(plans))
			for _, p := range plans {
				views = append(views, planView(p))
			}
			return cli.PrintJSON(cmd, views)
		}

		if len(plans) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No plans.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\t4\t8\tUNLIMITED\tCURRENCY")
		for _, p := range plans {
			prices := p.Prices()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				p.ID(), p.Name(),
				prices.Four.StringFixed(2), prices.Eight.StringFixed(2), prices.Unlimited.StringFixed(2),
				p.Currency())
		}
		return w.Flush()
	},
}

func planView(p *catalog.Plan) map[string]any {
	prices := p.Prices()
	return map[string]any{
		"id":        p.ID(),
		"center_id": p.CenterID(),
		"name":      p.Name(),
		"currency":  p.Currency(),
		"prices": map[string]string{
			"4":         prices.Four.StringFixed(2),
			"8":         prices.Eight.StringFixed(2),
			"unlimited": prices.Unlimited.StringFixed(2),
		},
	}
}

func init() {
	listCmd.Flags().StringVar(&listCenter, "center", "", "center ID (required)")
	_ = listCmd.MarkFlagRequired("center")
}
