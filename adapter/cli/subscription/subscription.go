// Package subscription implements the "subscription" command group.
package subscription

import (
	"github.com/spf13/cobra"
)

// Cmd is the subscription command group
var Cmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Book and manage lesson subscriptions",
	Long:    `Book lesson passes, list an account's subscriptions and cancel unpaid bookings.`,
}

var (
	accountID   string
	dependentID string
)

func init() {
	Cmd.PersistentFlags().StringVar(&accountID, "account", "", "account ID the subscriptions belong to")
	Cmd.PersistentFlags().StringVar(&dependentID, "dependent", "", "dependent the pass is for, empty for the account itself")

	Cmd.AddCommand(bookCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(statsCmd)
}
