package plans

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	catalogApp "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	catalog "github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
)

var (
	addCenter    string
	addFour      string
	addEight     string
	addUnlimited string
	addCurrency  string
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a plan to a center",
	Long: `Add a plan with prices for the 4-lesson, 8-lesson and unlimited tariffs.

Examples:
  lessonpass plans add "Swimming" --center 3f1c... --four 15000 --eight 28000 --unlimited 45000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Catalog == nil {
			return cli.ErrNotInitialized
		}
		centerID, err := cli.ParseID("center", addCenter)
		if err != nil {
			return err
		}
		prices, err := parsePrices(addFour, addEight, addUnlimited)
		if err != nil {
			return err
		}

		plan, err := app.Catalog.AddPlan(cmd.Context(), catalogApp.AddPlanCommand{
			CenterID: centerID,
			Name:     args[0],
			Prices:   prices,
			Currency: addCurrency,
		})
		if err != nil {
			return fmt.Errorf("add plan: %w", err)
		}

		if cli.JSONOutput() {
			return cli.PrintJSON(cmd, planView(plan))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plan added: %s (%s)\n", plan.Name(), plan.ID())
		return nil
	},
}

func parsePrices(four, eight, unlimited string) (catalog.Prices, error) {
	var prices catalog.Prices
	for _, p := range []struct {
		flag  string
		value string
		dst   *decimal.Decimal
	}{
		{"four", four, &prices.Four},
		{"eight", eight, &prices.Eight},
		{"unlimited", unlimited, &prices.Unlimited},
	} {
		d, err := decimal.NewFromString(p.value)
		if err != nil {
			return catalog.Prices{}, fmt.Errorf("invalid --%s price %q", p.flag, p.value)
		}
		*p.dst = d
	}
	return prices, nil
}

func init() {
	addCmd.Flags().StringVar(&addCenter, "center", "", "center ID (required)")
	addCmd.Flags().StringVar(&addFour, "four", "", "price of the 4-lesson tariff (required)")
	addCmd.Flags().StringVar(&addEight, "eight", "", "price of the 8-lesson tariff (required)")
	addCmd.Flags().StringVar(&addUnlimited, "unlimited", "", "price of the unlimited tariff (required)")
	addCmd.Flags().StringVar(&addCurrency, "currency", "KZT", "ISO 4217 currency code")
	for _, name := range []string{"center", "four", "eight", "unlimited"} {
		_ = addCmd.MarkFlagRequired(name)
	}
}
