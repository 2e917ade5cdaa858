package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/upc-lookup/internal/app"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/logger"
)

// Command creates the command that runs the HTTP API and the background
// enrichment workers.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lookup API server",
		Long:  "Start the HTTP API, serving product lookups and image files and processing enrichment jobs in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, build)
		},
	}

	setupFlags(cmd)
	return cmd
}

func setupFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", conf.DefaultPort, "HTTP listen port")
	cmd.Flags().Int("workers", conf.DefaultEnrichWorkers, "Number of background enrichment workers")
	cmd.Flags().String("base-url", "", "Public base URL prepended to image paths")

	for flag, key := range map[string]string{
		"port":     "webserver.port",
		"workers":  "enrichment.workers",
		"base-url": "webserver.baseurl",
	} {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

func run(parent context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, build)
	if err != nil {
		return err
	}
	deadline := settings.WebServer.ShutdownTimeout
	if deadline <= 0 {
		deadline = conf.DefaultShutdownDeadline
	}
	defer func() {
		if err := a.Close(deadline); err != nil {
			a.Log.Warn("shutdown incomplete", logger.Error(err))
		}
	}()

	a.Start(ctx)
	srv, err := a.NewServer()
	if err != nil {
		return err
	}
	srv.Start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := a.RotateLogs(); err != nil {
				a.Log.Error("log rotation failed", logger.Error(err))
			} else {
				a.Log.Info("log files reopened")
			}
		case err := <-srv.Err():
			a.Log.Error("http server stopped", logger.Error(err))
			_ = srv.Shutdown(context.Background())
			return err
		case <-ctx.Done():
			a.Log.Info("shutdown signal received")
			return srv.Shutdown(context.Background())
		}
	}
}
