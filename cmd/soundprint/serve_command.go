package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"soundprint/internal/inbox"
	"soundprint/internal/logging"
	"soundprint/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the inbox watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServices(runCtx, app)
		},
	}
}

// runServices runs the API server and, when enabled, the inbox watcher until
// ctx is cancelled or one of them fails.
func runServices(ctx context.Context, app *application) error {
	log := logging.Component(app.logger, "serve")

	var history server.JobHistory
	if app.jobs != nil {
		history = app.jobs
	}
	api := server.NewServer(app.cfg, app.registrar, history, app.logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Start(groupCtx)
	})

	if app.cfg.Inbox.Enabled {
		watcher := inbox.NewWatcher(app.cfg, app.registrar, app.logger)
		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
	}

	err := group.Wait()
	if err != nil {
		log.WithError(err).Error("Service stopped with error")
		return err
	}
	log.Info("Shutdown complete")
	return nil
}
