package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the trigger scheduler without the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildStack(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.close()

			app.scheduler.Start()
			app.log.Info("Trigger scheduler started",
				"interval", app.cfg.PollInterval(),
				"workers", app.cfg.Scheduler.WorkerCount,
			)

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			sig := <-shutdown
			app.log.Info("Shutdown signal received", "signal", sig.String())
			return nil
		},
	}
}
