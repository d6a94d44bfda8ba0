// Package app holds the errorparty command line: the bridge server, schema migrations and
// share-code tooling.
package app

import (
	"context"

	"github.com/spf13/cobra"
)

// Run bootstraps the ErrorParty backend application.
func Run(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "errorparty",
		Short:         "ErrorParty game-coordinator bridge",
		Long:          "errorparty keeps a bot session to the game network, decodes match share codes, fetches and normalizes match results and keeps the bot's friend roster in line with linked accounts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newDecodeCmd(),
		newEncodeCmd(),
		newAdminTokenCmd(),
	)
	return root
}
