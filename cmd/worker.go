package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amalrajan/distributed-nodes/worker"
)

var (
	workerIdentity    string // Stable logical name assigned by the supervisor
	workerCoordinator string // TCP address to listen on (server) or dial (client)
	workerServer      bool   // Run as the server worker
)

// workerCmd is the entry point of a supervised worker process. The
// supervisor launches it by re-executing its own binary, so it is hidden
// from help output.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Internal worker entry point (launched by the supervisor)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return worker.Run(ctx, worker.Options{
			Identity:    workerIdentity,
			Coordinator: workerCoordinator,
			Server:      workerServer,
		})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerIdentity, "identity", "", "Worker identity")
	workerCmd.Flags().StringVar(&workerCoordinator, "coordinator", "127.0.0.1:10001", "Coordinator TCP address")
	workerCmd.Flags().BoolVar(&workerServer, "server", false, "Run as the server worker")

	rootCmd.AddCommand(workerCmd)
}
