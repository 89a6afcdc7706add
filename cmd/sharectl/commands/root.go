// Package commands implements the sharectl CLI: identity generation and
// inspection of the persisted share set of an auth provider.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	dbPath       string
	deviceSecret string
)

func Execute() error {
	root := &cobra.Command{
		Use:   "sharectl",
		Short: "Inspect and bootstrap teamsync authentication state",
	}

	root.PersistentFlags().StringVar(&dbPath, "db", "", "bolt database holding the persisted shares")
	root.PersistentFlags().StringVar(&deviceSecret, "device-secret", "", "device secret key, hex encoded")

	root.AddCommand(identityCmd(), sharesCmd())
	return root.Execute()
}
