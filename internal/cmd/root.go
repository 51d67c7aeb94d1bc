// Package cmd defines the relaychat command line: a server under `serve`
// and the interactive console client under `client`.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "A multi-room real-time text and file relay",
	Long: `relaychat is a multi-room chat relay. Clients register a username,
exchange messages in the global room or in private pairwise rooms, and
transfer files referenced by generated ids.

Start a server:
  $ relaychat serve --host 127.0.0.1 --port 8000

Connect a client:
  $ relaychat client --username alice`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
