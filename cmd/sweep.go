package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"streamop/internal/app"
	"streamop/internal/config"
	"streamop/internal/operator"
)

// sweepQuiet suppresses the spinner and table, leaving only the exit code.
var sweepQuiet bool

// sweepCmd runs one full reconciliation sweep and reports the outcome.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single full reconciliation sweep",
	Long: `Converges every stream once and exits: the union of the desired streams
and everything any store still knows about is reconciled, so orphaned
state gets cleaned up too. Exits non-zero when any stream failed to
converge.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
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

	var s *spinner.Spinner
	if !sweepQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Sweeping streams..."
		s.Start()
	}

	summary, err := application.SweepOnce(ctx)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if !sweepQuiet {
		renderSummary(summary)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d streams failed to converge", summary.Failed, summary.Total)
	}
	return nil
}

func renderSummary(summary operator.SweepSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"STREAMS", "CONVERGED", "DELETED", "SKIPPED", "FAILED", "DURATION"})
	t.AppendRow(table.Row{
		summary.Total,
		summary.Converged,
		summary.Deleted,
		summary.Skipped,
		colorCount(summary.Failed),
		summary.Duration.Round(time.Millisecond),
	})
	t.Render()

	if len(summary.Failures) == 0 {
		return
	}
	failures := table.NewWriter()
	failures.SetOutputMirror(os.Stdout)
	failures.SetStyle(table.StyleRounded)
	failures.AppendHeader(table.Row{"STREAM", "ERROR"})
	for _, name := range sortedFailureNames(summary.Failures) {
		failures.AppendRow(table.Row{name, summary.Failures[name].Error()})
	}
	failures.Render()
}

func colorCount(n int) string {
	if n > 0 {
		return text.FgRed.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func sortedFailureNames(failures map[string]error) []string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVarP(&sweepQuiet, "quiet", "q", false, "No spinner or table, just the exit code")
	sweepCmd.Flags().StringVarP(&serveNamespace, "namespace", "n", "", "Namespace to reconcile (overrides the configuration)")
	sweepCmd.Flags().StringVarP(&serveSelector, "selector", "l", "", "Stream label selector (overrides the configuration)")
}
