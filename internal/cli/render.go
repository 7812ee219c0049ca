package cli

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/vmprov/pkg/iac/render"
	"github.com/davidthor/vmprov/pkg/schema/deployment"
	"github.com/davidthor/vmprov/pkg/workspace"
)

func newRenderCmd() *cobra.Command {
	var (
		file   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the terraform configuration without deploying it",
		Long: `Render main.tf and terraform.tfvars for a deployment config into a
directory, without running terraform.

terraform.tfvars contains the resolved credentials and is written with
owner-only permissions.

Examples:
  vmprov render -f deployment.yaml -o ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deployment.LoadFile(file)
			if err != nil {
				return err
			}

			settings := loadSettings(viper.GetViper())
			resolver := newSecrets(cmd.Context(), settings, log.StandardLogger())
			creds, err := resolver.ResolveCredentials(cmd.Context(), cfg.Credentials)
			if err != nil {
				return err
			}
			resolved := *cfg
			resolved.Credentials = creds

			docs, err := render.Render(&resolved)
			if err != nil {
				return err
			}

			abs, err := filepath.Abs(output)
			if err != nil {
				return fmt.Errorf("failed to resolve output directory: %w", err)
			}
			workspaces, err := workspace.NewManager(filepath.Dir(abs))
			if err != nil {
				return err
			}
			ws, err := workspaces.Create(filepath.Base(abs))
			if err != nil {
				return err
			}
			if err := workspaces.WriteDocuments(ws, docs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", ws.Path(render.MainFile))
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", ws.Path(render.VariablesFile))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the deployment config")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "Directory to write the documents to")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
