// Package cli implements the vmprov CLI commands.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/vmprov/pkg/iac"
	"github.com/davidthor/vmprov/pkg/logging"

	// Import runners and archive backends to register them via init()
	_ "github.com/davidthor/vmprov/pkg/iac/container"
	_ "github.com/davidthor/vmprov/pkg/iac/opentofu"
	_ "github.com/davidthor/vmprov/pkg/state/backend/azurerm"
	_ "github.com/davidthor/vmprov/pkg/state/backend/gcs"
	_ "github.com/davidthor/vmprov/pkg/state/backend/local"
	_ "github.com/davidthor/vmprov/pkg/state/backend/s3"
)

var (
	cfgFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vmprov",
	Short: "Provision virtual machines from a declarative description",
	Long: `vmprov renders infrastructure-as-code for a set of virtual machines and
drives terraform through init, plan, apply and output.

Deployments run in the background of "vmprov serve" and are followed over
the HTTP API, or run in the foreground with "vmprov deploy".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(viper.GetString(KeyLogLevel), viper.GetString(KeyLogFormat))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	setDefaults(viper.GetViper())

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vmprov/config.yaml)")
	flags.String("workspace-root", DefaultWorkspaceRoot, "Directory holding one workspace per deployment")
	flags.String("runner", DefaultRunner, fmt.Sprintf("How terraform is run (%s)", strings.Join(iac.DefaultRegistry().List(), ", ")))
	flags.Duration("command-timeout", DefaultCommandTimeout, "Timeout for a single terraform command")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", logging.FormatText, "Log format (text, json)")

	// Bind to viper
	_ = viper.BindPFlag(KeyWorkspaceRoot, flags.Lookup("workspace-root"))
	_ = viper.BindPFlag(KeyRunner, flags.Lookup("runner"))
	_ = viper.BindPFlag(KeyCommandTimeout, flags.Lookup("command-timeout"))
	_ = viper.BindPFlag(KeyLogLevel, flags.Lookup("log-level"))
	_ = viper.BindPFlag(KeyLogFormat, flags.Lookup("log-format"))
	viper.SetEnvPrefix("VMPROV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newArchiveCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.vmprov")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// Read config file if it exists
	_ = viper.ReadInConfig()
}
