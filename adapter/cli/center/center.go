// Package center implements the "center" command group.
package center

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lessonpass/adapter/cli"
)

// Cmd is the center command group
var Cmd = &cobra.Command{
	Use:   "center",
	Short: "Report on a center's students and sales",
	Long:  `List the students holding active passes at a center and summarise its visits, sales and revenue.`,
}

var centerID string

func center() (uuid.UUID, error) {
	return cli.ParseID("center", centerID)
}

func init() {
	Cmd.PersistentFlags().StringVar(&centerID, "center", "", "center ID (required)")
	_ = Cmd.MarkPersistentFlagRequired("center")

	Cmd.AddCommand(rosterCmd)
	Cmd.AddCommand(reportCmd)
}
