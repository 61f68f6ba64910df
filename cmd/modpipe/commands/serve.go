package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/modpipe/modpipe/internal/config"
	"github.com/modpipe/modpipe/internal/dashboard"
	"github.com/modpipe/modpipe/internal/worker"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops API server and pipeline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
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

			var runner *worker.Runner
			if !noWorkers {
				runner = worker.NewRunner(logger, app.workers()...)
				runner.Start(ctx)
			}

			srv := dashboard.NewServer(app.repo, app.enforcer, app.policies, app.guard, app.stats, logger)
			handler := http.Handler(srv.Handler())

			if cfg.Tracing.Enabled {
				shutdown, err := setupTracing()
				if err != nil {
					return fmt.Errorf("setting up tracing: %w", err)
				}
				defer shutdown()
				handler = otelhttp.NewHandler(handler, "modpipe-ops")
			}

			bindAddr := cfg.Server.Bind
			if bindAddr == "" {
				bindAddr = "127.0.0.1"
			}
			httpSrv := &http.Server{
				Addr:    fmt.Sprintf("%s:%d", bindAddr, cfg.Server.Port),
				Handler: handler,
			}

			printBanner(cfg, bindAddr, noWorkers)

			errCh := make(chan error, 1)
			go func() {
				if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
					return
				}
				errCh <- nil
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
			if runner != nil {
				runner.Wait()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the ops API only")
	return cmd
}

func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

func printBanner(cfg *config.Config, bindAddr string, noWorkers bool) {
	backend := "memory"
	if cfg.Redis.URL != "" {
		backend = "redis"
	}
	storage := "sqlite"
	if cfg.Postgres.URL != "" {
		storage = "postgres"
	}
	workers := "ingress, actions"
	if noWorkers {
		workers = "off"
	}

	fmt.Println()
	fmt.Println("  modpipe")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  API:      http://%s:%d/api\n", bindAddr, cfg.Server.Port)
	fmt.Printf("  Health:   http://%s:%d/health\n", bindAddr, cfg.Server.Port)
	fmt.Printf("  Metrics:  http://%s:%d/metrics\n", bindAddr, cfg.Server.Port)
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Queues: %s  |  Storage: %s  |  Workers: %s\n", backend, storage, workers)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
}
