package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"streamop/internal/app"
	"streamop/internal/config"
)

// serveNamespace overrides the configured namespace when set.
var serveNamespace string

// serveSelector overrides the configured stream label selector when set.
var serveSelector string

// serveCmd runs the operator against a Kubernetes cluster.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator against a Kubernetes cluster",
	Long: `Watches Stream resources in the configured namespace and converges
every backing store to their desired state. Runs until terminated;
SIGINT and SIGTERM trigger a graceful shutdown that lets in-flight
reconciliations finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	return runOperator(cmd, config.ModeKubernetes)
}

// runOperator is the shared body of serve and standalone: load, override,
// assemble, run until a signal lands.
func runOperator(cmd *cobra.Command, mode config.Mode) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg.Mode = mode
	applyOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("assemble operator: %w", err)
	}
	return application.Run(ctx)
}

func applyOverrides(cfg *config.Config) {
	if serveNamespace != "" {
		cfg.Namespace = serveNamespace
	}
	if serveSelector != "" {
		cfg.Selector = serveSelector
	}
	if standaloneDir != "" {
		cfg.Source.Dir = standaloneDir
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveNamespace, "namespace", "n", "", "Namespace to reconcile (overrides the configuration)")
	serveCmd.Flags().StringVarP(&serveSelector, "selector", "l", "", "Stream label selector (overrides the configuration)")
}
