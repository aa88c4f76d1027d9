package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/envelope"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Type  string
	Tag   string
	Limit int
}

// NewLogCommand creates the log command, the read path for display and
// reporting consumers.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List envelopes in this node's ledger",
		Long: `List envelopes in this node's ledger, in seq order.

Examples:
  evidlog log
  evidlog log --type heartbeat --limit 20
  evidlog log --tag infra --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by evidence type")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "filter by tag")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most N newest envelopes (0 = all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	out := opts.Formatter(cmd)

	j, err := opts.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	var matched []*envelope.Envelope
	err = j.Scan(func(env *envelope.Envelope) error {
		if opts.Type != "" && string(env.EvidenceType) != opts.Type {
			return nil
		}
		if opts.Tag != "" && !slices.Contains(env.Tags, opts.Tag) {
			return nil
		}
		matched = append(matched, env)
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "read journal", err)
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[len(matched)-opts.Limit:]
	}

	if opts.Format == "json" {
		return out.Success(matched)
	}

	if len(matched) == 0 {
		return out.Success("no envelopes")
	}
	var b strings.Builder
	for _, env := range matched {
		fmt.Fprintf(&b, "%6d  %-28s  %-18s  %-16s", env.Seq, env.Timestamp, env.EvidenceType, env.Source)
		if len(env.Tags) > 0 {
			fmt.Fprintf(&b, "  [%s]", strings.Join(env.Tags, ","))
		}
		b.WriteByte('\n')
	}
	fmt.Fprint(out.Writer, b.String())
	return nil
}
