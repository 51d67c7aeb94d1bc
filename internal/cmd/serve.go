package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaychat/relaychat/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host address to bind (default: 127.0.0.1)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "port number to bind (default: 8000)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := server.NewConfigFromEnv()
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	return server.New(cfg).Run(ctx)
}
