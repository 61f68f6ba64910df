package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modpipe/modpipe/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var consumer string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the pipeline workers without the ops API",
		Long:  "Runs the ingress and actions workers only. Scale out by running multiple worker processes against shared Redis and Postgres backends, each with a distinct --consumer name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if consumer != "" {
				cfg.Streams.Consumer = consumer
			}

			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.close()
			app.watchPolicy(ctx)

			logger.Info("workers starting",
				"consumer", cfg.Streams.Consumer,
				"ingress_stream", cfg.Streams.Ingress,
				"decisions_stream", cfg.Streams.Decisions)

			runner := worker.NewRunner(logger, app.workers()...)
			runner.Start(ctx)
			<-ctx.Done()
			runner.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name within the group (default from config)")
	return cmd
}
