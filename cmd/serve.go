package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/csvquery/csvbrowse/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(c *cobra.Command, _ []string) error {
			addr, _ := c.Flags().GetString("addr")
			return runServe(addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides server.addr")
	rootCmd.AddCommand(cmd)
}

func runServe(addr string) error {
	a, err := newApp("csvbrowse-api")
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	if addr != "" {
		cfg.Addr = addr
	}

	ctx, cancel := handleSignals(context.Background())
	defer cancel()

	a.logger.Info("Serving uploads", slog.String("dir", a.store.Dir()))
	return server.NewHTTPServer(cfg, a.cfg.Limits, a.engine, a.store, a.logger).Run(ctx)
}
