package cmd

import (
	"github.com/spf13/cobra"

	"streamop/internal/config"
)

// standaloneDir overrides the configured manifest directory when set.
var standaloneDir string

// standaloneCmd runs the operator without a cluster, off a directory of
// stream manifests.
var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run the operator off a directory of stream manifests",
	Long: `Standalone mode needs no cluster: desired state is read from yaml
manifests in a directory, edits to the directory are picked up live, and
secrets are held in memory. Everything else behaves exactly like serve,
including sweeps and the operational endpoints.`,
	Args: cobra.NoArgs,
	RunE: runStandalone,
}

func runStandalone(cmd *cobra.Command, args []string) error {
	return runOperator(cmd, config.ModeStandalone)
}

func init() {
	rootCmd.AddCommand(standaloneCmd)

	standaloneCmd.Flags().StringVar(&standaloneDir, "dir", "", "Stream manifest directory (overrides the configuration)")
	standaloneCmd.Flags().StringVarP(&serveNamespace, "namespace", "n", "", "Namespace to reconcile (overrides the configuration)")
}
