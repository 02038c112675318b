// Package plans implements the "plans" command group.
package plans

import (
	"github.com/spf13/cobra"
)

// Cmd is the plans command group
var Cmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage center plans",
	Long:  `Add and list the plans a center sells lesson passes for.`,
}

func init() {
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
}
