package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/merge"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Force bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <batch-dir>",
		Short: "Verify and merge an export batch into the federated store",
		Long: `Verify a batch's manifest against its chunk files and merge it into
this destination's federated store, namespaced by source node and
batch identifier.

A hash mismatch rejects the whole batch; nothing is partially merged.
Re-importing an already-merged batch is a no-op unless --force.

Examples:
  evidlog import /mnt/usb/outbox/batch-nodeA-20260830T120000-ab12cd34
  evidlog import --force ./batch-nodeA-20260830T120000-ab12cd34`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-import even if the batch is already recorded")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command, batchDir string) error {
	out := opts.Formatter(cmd)

	result, err := merge.ImportBatch(context.Background(), batchDir, opts.Layout(), opts.Force)
	if err != nil {
		var ie *merge.IntegrityError
		if errors.As(err, &ie) {
			_ = out.Error("INTEGRITY_FAILURE", ie.Error(), nil)
			return NewExitError(ExitFailure, "batch rejected")
		}
		return WrapExitError(ExitCommandError, "import", err)
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	switch result.Status {
	case merge.StatusAlreadyImported:
		return out.Success(fmt.Sprintf("already imported: batch %s from node %s", result.BatchID, result.SourceNodeID))
	default:
		return out.Success(fmt.Sprintf("merged %d envelopes (%d chunks) from node %s into %s",
			result.EnvelopeCount, result.ChunkCount, result.SourceNodeID, result.DestDir))
	}
}
