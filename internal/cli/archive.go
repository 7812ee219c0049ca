package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/vmprov/pkg/errors"
	"github.com/davidthor/vmprov/pkg/state"
	"github.com/davidthor/vmprov/pkg/workspace"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived deployments",
		Long: `List, show and remove the deployments kept in the configured archive
backend (see archive-backend).`,
	}

	cmd.AddCommand(newArchiveListCmd())
	cmd.AddCommand(newArchiveShowCmd())
	cmd.AddCommand(newArchiveRmCmd())

	return cmd
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archiver, err := configuredArchiver()
			if err != nil {
				return err
			}
			return listArchived(cmd.Context(), cmd.OutOrStdout(), archiver)
		},
	}
}

func newArchiveShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show <deployment-id>",
		Short: "Show the outputs or a file of an archived deployment",
		Long: `Show the outputs of an archived deployment. Sensitive outputs were
redacted when they were archived.

Examples:
  vmprov archive show 3f0c...
  vmprov archive show 3f0c... --file main.tf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archiver, err := configuredArchiver()
			if err != nil {
				return err
			}
			return showArchived(cmd.Context(), cmd.OutOrStdout(), archiver, args[0], file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Print an archived file instead (main.tf, terraform.tfstate, outputs.json)")

	return cmd
}

func newArchiveRmCmd() *cobra.Command {
	var keepWorkspace bool

	cmd := &cobra.Command{
		Use:   "rm <deployment-id>",
		Short: "Remove an archived deployment",
		Long: `Remove the archived files of a deployment, and its local workspace
unless --keep-workspace is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := loadSettings(viper.GetViper())
			archiver, err := configuredArchiver()
			if err != nil {
				return err
			}

			var workspaces *workspace.Manager
			if !keepWorkspace {
				if workspaces, err = workspace.NewManager(settings.WorkspaceRoot); err != nil {
					return err
				}
			}
			return removeArchived(cmd.Context(), cmd.OutOrStdout(), archiver, workspaces, args[0])
		},
	}

	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "Keep the local workspace directory")

	return cmd
}

func configuredArchiver() (*state.Archiver, error) {
	archiver, err := newArchiver(loadSettings(viper.GetViper()))
	if err != nil {
		return nil, err
	}
	if archiver == nil {
		return nil, fmt.Errorf("no archive backend configured (set %s)", displayKey(KeyArchiveBackend))
	}
	return archiver, nil
}

func listArchived(ctx context.Context, out io.Writer, archiver *state.Archiver) error {
	ids, err := archiver.Deployments(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No archived deployments")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func showArchived(ctx context.Context, out io.Writer, archiver *state.Archiver, id, file string) error {
	if err := requireArchived(ctx, archiver, id); err != nil {
		return err
	}

	if file != "" {
		if path.Base(file) != file {
			return fmt.Errorf("invalid archived file name %q", file)
		}
		data, err := archiver.ReadFile(ctx, id, file)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	outputs, err := archiver.Outputs(ctx, id)
	if errors.Is(err, errors.ErrCodeNotFound) {
		fmt.Fprintf(out, "Deployment %s has no archived outputs\n", id)
		return nil
	}
	if err != nil {
		return err
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Deployment %s\n", id)
	for _, name := range names {
		fmt.Fprintf(out, "  %s = %s\n", name, formatOutput(outputs[name]))
	}
	return nil
}

// removeArchived deletes the archive of id and, when workspaces is set, the
// local workspace directory.
func removeArchived(ctx context.Context, out io.Writer, archiver *state.Archiver, workspaces *workspace.Manager, id string) error {
	if err := requireArchived(ctx, archiver, id); err != nil {
		return err
	}
	if err := archiver.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed archive of %s\n", id)

	if workspaces == nil {
		return nil
	}
	removed, err := workspaces.Remove(id)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(out, "Removed workspace of %s\n", id)
	}
	return nil
}

func requireArchived(ctx context.Context, archiver *state.Archiver, id string) error {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return fmt.Errorf("invalid deployment id %q", id)
	}
	ok, err := archiver.Has(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFoundError("archived deployment", id)
	}
	return nil
}
