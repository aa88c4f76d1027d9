package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/journal"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Node    string
	Journal string
}

// VerifyResult is the verify command's report.
type VerifyResult struct {
	NodeID    string `json:"node_id"`
	Journal   string `json:"journal"`
	Valid     bool   `json:"valid"`
	Envelopes uint64 `json:"envelopes"`
	Error     string `json:"error,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check this node's hash chain",
		Long: `Walk a journal from genesis, recomputing every hash link.

Reports the first violated invariant (broken link, gap, duplicate seq,
or malformed record) with its position. Verification is read-only: a
broken chain is never repaired.

Examples:
  evidlog verify
  evidlog verify --node other-node-1a2b3c
  evidlog verify --journal /backups/nodeX.log --node nodeX`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Node, "node", "", "node whose chain to verify (default: this node)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "explicit journal file (requires --node)")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	out := opts.Formatter(cmd)

	if opts.Journal != "" && opts.Node == "" {
		return NewExitError(ExitCommandError, "--journal requires --node to name the chain owner")
	}

	nodeID := opts.Node
	if nodeID == "" {
		id, err := opts.nodeID()
		if err != nil {
			return err
		}
		nodeID = id
	}

	path := opts.Journal
	if path == "" {
		path = opts.Layout().JournalPath(nodeID)
	}

	out.VerboseLog("verifying %s", path)

	count, cerr := countAndVerify(path, nodeID)
	result := VerifyResult{
		NodeID:    nodeID,
		Journal:   filepath.Clean(path),
		Valid:     cerr == nil,
		Envelopes: count,
	}

	if cerr != nil {
		result.Error = cerr.Error()
		if opts.Format == "json" {
			_ = out.Error(string(cerr.Code), cerr.Error(), result)
		} else {
			_ = out.Error(string(cerr.Code), cerr.Error(), nil)
		}
		return NewExitError(ExitFailure, "chain verification failed")
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(fmt.Sprintf("chain valid: %d envelopes, node %s", count, nodeID))
}

// countAndVerify runs full-chain verification in one pass over the
// journal, reporting how many envelopes were checked. A missing journal
// is an empty, valid chain.
func countAndVerify(path, nodeID string) (uint64, *journal.ChainError) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &journal.ChainError{
			Code:    journal.ErrCodeMalformedLine,
			Message: err.Error(),
			NodeID:  nodeID,
		}
	}
	defer f.Close()

	v := journal.NewVerifier(nodeID)
	if cerr := v.VerifyReader(f); cerr != nil {
		return v.Count, cerr
	}
	return v.Count, nil
}
