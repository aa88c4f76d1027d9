package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	OutDir string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export not-yet-exported envelopes as a batch directory",
		Long: `Materialize every envelope above the export high-water mark into a
new self-contained batch directory: chunk files plus an integrity
manifest. With nothing new to export, the command is a no-op.

Examples:
  evidlog export
  evidlog export --out /mnt/usb/outbox`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "", "batch output directory (default: <root>/exports)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	out := opts.Formatter(cmd)

	nodeID, err := opts.nodeID()
	if err != nil {
		return err
	}

	layout := opts.Layout()
	exportsDir := opts.OutDir
	if exportsDir == "" {
		exportsDir = layout.ExportsDir()
	}

	exp := export.New(
		layout.JournalPath(nodeID),
		layout.ExportMarkPath(nodeID),
		exportsDir,
		nodeID,
		opts.ChunkSize(),
	)

	batch, err := exp.ExportNew()
	if err != nil {
		return WrapExitError(ExitCommandError, "export", err)
	}
	if batch == nil {
		if opts.Format == "json" {
			return out.Success(map[string]any{"exported": false})
		}
		return out.Success("nothing new to export")
	}

	out.VerboseLog("batch %s: %d chunks", batch.Manifest.BatchID, len(batch.Manifest.Chunks))
	if opts.Format == "json" {
		return out.Success(map[string]any{
			"exported": true,
			"dir":      batch.Dir,
			"manifest": batch.Manifest,
		})
	}

	total := 0
	for _, c := range batch.Manifest.Chunks {
		total += c.Count
	}
	return out.Success(fmt.Sprintf("exported %d envelopes in %d chunk(s) to %s", total, len(batch.Manifest.Chunks), batch.Dir))
}
