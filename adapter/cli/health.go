package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database, cache and broker health",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Health == nil {
			return ErrNotInitialized
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		report := app.Health.Check(ctx)

		if JSONOutput() {
			if err := PrintJSON(cmd, report); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Status)
			for _, name := range slices.Sorted(maps.Keys(report.Checks)) {
				check := report.Checks[name]
				fmt.Fprintf(out, "  %-10s %s", name, check.Status)
				if check.Message != "" {
					fmt.Fprintf(out, " (%s)", check.Message)
				}
				fmt.Fprintln(out)
			}
		}

		if report.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("service unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
