package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/iac/render"
)

// Set at build time with -ldflags "-X github.com/davidthor/vmprov/internal/cli.Version=..."
var (
	Version = "dev"
	Commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the supported providers and runners",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vmprov %s (commit %s, %s/%s)\n", Version, Commit, runtime.GOOS, runtime.GOARCH)

			providers := make([]string, 0)
			for _, p := range render.NewRenderer().Providers() {
				providers = append(providers, string(p))
			}
			fmt.Fprintf(out, "providers: %s\n", strings.Join(providers, ", "))
			fmt.Fprintf(out, "runners:   %s\n", strings.Join(iac.DefaultRegistry().List(), ", "))
		},
	}
}
