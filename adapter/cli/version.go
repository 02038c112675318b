package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if JSONOutput() {
			return PrintJSON(cmd, map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_date": BuildDate,
				"go":         runtime.Version(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "lessonpass %s (%s, built %s, %s)\n",
			Version, Commit, BuildDate, runtime.Version())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
