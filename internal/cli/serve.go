package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opgate/opgate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: "Serves POST /v1/execute, GET /v1/operations, /healthz and /metrics.\n" +
		"Policy sources are watched for changes and hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.cfg.Server.Addr, a.dispatcher, a.log)

	if a.cfg.Policy.Watch {
		reloader, err := server.NewReloader(a.dispatcher, a.cfg.Policy.Sources, a.log)
		if err != nil {
			return err
		}
		go func() {
			if err := reloader.Run(ctx); err != nil {
				a.log.Warn("policy watcher stopped", zap.Error(err))
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
