package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/davidthor/vmprov/pkg/engine"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/tracker"
)

func newDeployCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run a deployment in the foreground",
		Long: `Run a deployment in the foreground and follow its progress.

The deployment config is read from a YAML or JSON file. Credential values
may be references such as env://AWS_SECRET_ACCESS_KEY, file:///path or
awssm://secret-id#key.

Examples:
  vmprov deploy -f deployment.yaml
  vmprov deploy -f deployment.json --runner docker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deployment.LoadFile(file)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings := loadSettings(viper.GetViper())
			logger := log.StandardLogger()

			// The config comes from the operator, so every reference scheme is resolved.
			orchestrator, err := newOrchestrator(settings, logger, nil, newSecrets(ctx, settings, logger))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rec, err := followDeployment(ctx, out, NewProgressPrinter(out, isTerminal(cmd)), orchestrator, cfg)
			if err != nil {
				return err
			}
			if rec.Status != tracker.StatusCompleted {
				return fmt.Errorf("deployment %s failed", rec.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the deployment config")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// followDeployment starts cfg, prints its progress and returns once the run
// has finished, including archiving.
func followDeployment(ctx context.Context, out io.Writer, printer *ProgressPrinter, orchestrator *engine.Orchestrator, cfg *deployment.Config) (tracker.Record, error) {
	id := orchestrator.StartDeployment(cfg)
	fmt.Fprintf(out, "Deployment %s started\n\n", id)

	updates, err := orchestrator.Watch(ctx, id)
	if err != nil {
		return tracker.Record{}, err
	}
	for rec := range updates {
		printer.PrintUpdate(rec)
	}

	// The record turns terminal before the workspace is archived.
	final, err := orchestrator.Wait(ctx, id)
	if err != nil {
		return tracker.Record{}, fmt.Errorf("stopped following deployment %s: %w", id, err)
	}

	printer.PrintFinalSummary(final)
	return final, nil
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
