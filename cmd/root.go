package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// configFile is the configuration file every subcommand starts from.
var configFile string

// rootCmd is the base command of the streamop binary.
var rootCmd = &cobra.Command{
	Use:   "streamop",
	Short: "Reconcile messaging streams with their backing stores",
	Long: `streamop converges credentials, ACL bindings, key-material secrets and
persisted records with the Stream resources that declare them. It watches
for changes, sweeps periodically to repair whatever the watch missed, and
removes the state of streams that no longer exist.`,
	// Handled errors should not echo the usage text on top.
	SilenceUsage: true,
}

// SetVersion injects the build version, called from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI. Called by main.main.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "streamop version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/streamop/config.yaml", "Configuration file")
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
