package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/vmprov/pkg/api"
	"github.com/davidthor/vmprov/pkg/metrics"
	"github.com/davidthor/vmprov/pkg/pricing"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment API",
		Long: `Serve the deployment API over HTTP.

Deployments started through POST /api/deploy run in the background; their
progress is polled from /api/deployment/{id}/status or streamed from
/api/deployment/{id}/watch. Status is kept in memory only.

Examples:
  vmprov serve
  vmprov serve --listen :8080 --runner docker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings := loadSettings(viper.GetViper())
			logger := log.StandardLogger()
			m := metrics.New()

			orchestrator, err := newOrchestrator(settings, logger, m, newServeResolver(ctx, settings, logger))
			if err != nil {
				return err
			}

			router := api.New(api.Config{
				Deployments: orchestrator,
				Pricing:     pricing.NewCalculator(),
				Metrics:     m,
				MetricsPath: settings.MetricsPath,
				Logger:      logger,
			})

			server := &http.Server{
				Addr:              settings.Listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				logger.WithField("listen", settings.Listen).Info("serving deployment API")
				errc <- server.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("listen", DefaultListen, "Address to listen on")
	cmd.Flags().String("metrics-path", DefaultMetricsPath, "Path serving prometheus metrics")
	_ = viper.BindPFlag(KeyListen, cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag(KeyMetricsPath, cmd.Flags().Lookup("metrics-path"))

	return cmd
}
