package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/crmport/internal/queue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume import jobs from the queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if !app.Config.Queue.Enabled() {
				return fmt.Errorf("worker needs QUEUE_URL")
			}
			conn, err := app.DialQueue()
			if err != nil {
				return err
			}
			defer conn.Close()

			err = conn.Consume(ctx, queue.NewHandler(app.Service, slog.Default()), slog.Default())
			if werr := app.Service.WaitForImports(ctx); werr != nil && err == nil {
				slog.Warn("imports still running at exit", "error", werr)
			}
			return err
		},
	}
}
