package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"streamop/internal/app"
	"streamop/internal/codec"
	"streamop/internal/config"
	"streamop/internal/operator"
	"streamop/pkg/apis/streamop/v1alpha1"
)

// exportDir is where the exported manifests are written.
var exportDir string

// exportCmd turns the record store back into Stream manifests. Useful for
// bootstrapping a manifest directory from a running installation, or for
// inspecting what the operator believes the desired state to be.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stream records as manifests",
	Long: `Reads every record from the record store and writes one Stream
manifest per stream into the output directory. Existing manifests are
overwritten, but their caller-owned metadata (labels, annotations,
owner references) is preserved.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	records, closeStore, err := app.OpenRecordStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	names, err := records.KnownNames(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	sort.Strings(names)

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for _, name := range names {
		if err := exportOne(ctx, records, name); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d stream(s) to %s\n", len(names), exportDir)
	return nil
}

// exportOne writes the manifest for a single record, merging caller-owned
// metadata from an existing manifest file when one is already there.
func exportOne(ctx context.Context, records operator.RecordStore, name string) error {
	data, err := records.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("read record %s: %w", name, err)
	}
	record, err := codec.UnmarshalRecord(data)
	if err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	entity := codec.EntityFromRecord(record)

	path := filepath.Join(exportDir, name+".yaml")
	existing, err := readManifest(path)
	if err != nil {
		return err
	}

	stream := codec.Encode(entity, existing)
	out, err := yaml.Marshal(stream)
	if err != nil {
		return fmt.Errorf("render manifest for %s: %w", name, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write manifest for %s: %w", name, err)
	}
	return nil
}

func readManifest(path string) (*v1alpha1.Stream, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read existing manifest %s: %w", path, err)
	}
	var stream v1alpha1.Stream
	if err := yaml.Unmarshal(data, &stream); err != nil {
		return nil, fmt.Errorf("parse existing manifest %s: %w", path, err)
	}
	return &stream, nil
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportDir, "out", "o", ".", "Directory to write manifests into")
}
