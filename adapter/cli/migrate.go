package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending database migrations and report what changed.

Migrations run whenever lessonpass connects to its database, so this
command exists to prepare a fresh database ahead of a deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return ErrNotInitialized
		}

		if JSONOutput() {
			applied := app.AppliedMigrations
			if applied == nil {
				applied = []string{}
			}
			return PrintJSON(cmd, map[string]any{"applied": applied})
		}

		out := cmd.OutOrStdout()
		if len(app.AppliedMigrations) == 0 {
			fmt.Fprintln(out, "Schema is up to date.")
			return nil
		}
		for _, version := range app.AppliedMigrations {
			fmt.Fprintf(out, "applied %s\n", version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
