package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaychat/relaychat/internal/client"
)

var (
	clientHost     string
	clientPort     string
	clientUsername string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a relay server from the console",
	Long: `Connect to a relay server. Typed lines are sent to the current chat.
Special commands: "upload" sends a local file, "download" fetches one by
file-id, "exit" quits.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVar(&clientHost, "host", "127.0.0.1", "server host address")
	clientCmd.Flags().StringVar(&clientPort, "port", "8000", "server port number")
	clientCmd.Flags().StringVar(&clientUsername, "username", "", "your username for the chat")
	_ = clientCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(clientHost, clientPort, clientUsername)
	if err != nil {
		return err
	}

	fmt.Printf("Connected to %s:%s as %s\n", clientHost, clientPort, clientUsername)
	return c.Run(ctx)
}
