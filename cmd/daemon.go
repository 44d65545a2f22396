package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/csvquery/csvbrowse/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Unix socket daemon",
		Long: `Answer newline-delimited JSON requests on a Unix domain socket.

Each request is an object with an "action" (ping, describe, rows, search,
count, delete or status) and the parameters that action needs, for example:

  {"action":"rows","fileId":"file-1234.csv","page":2,"pageSize":50}`,
		RunE: func(c *cobra.Command, _ []string) error {
			socket, _ := c.Flags().GetString("socket")
			workers, _ := c.Flags().GetInt("workers")
			return runDaemon(socket, workers)
		},
	}
	cmd.Flags().String("socket", "", "socket path, overrides daemon.socket_path")
	cmd.Flags().Int("workers", 0, "max concurrent connections, overrides daemon.max_concurrency")
	rootCmd.AddCommand(cmd)
}

func runDaemon(socket string, workers int) error {
	a, err := newApp("csvbrowse-daemon")
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Daemon
	if socket != "" {
		cfg.SocketPath = socket
	}
	if workers > 0 {
		cfg.MaxConcurrency = workers
	}

	ctx, cancel := handleSignals(context.Background())
	defer cancel()

	return server.NewUDSDaemon(cfg, a.cfg.Limits, a.engine, a.store, a.logger).Run(ctx)
}
