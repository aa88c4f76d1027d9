package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/envelope"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Type        string
	Payload     string
	PayloadFile string
	Tags        []string
	Source      string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one evidence envelope to this node's ledger",
		Long: `Append one evidence envelope to this node's ledger.

The envelope's seq, prev_hash, and envelope_hash are computed here and
the line is synced to disk before the command reports success.

Examples:
  evidlog append --type heartbeat --source scheduler
  evidlog append --type metric_sample --source collector \
      --payload '{"cpu_pct": 42}' --tag infra --tag hourly
  evidlog append --type audit_entry --source api --payload-file entry.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "evidence type (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.Source, "source", "", "producing component (required)")
	_ = cmd.MarkFlagRequired("source")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "file holding the JSON payload")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag (repeatable)")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command) error {
	out := opts.Formatter(cmd)

	payload, err := loadPayload(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "payload", err)
	}

	j, err := opts.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	env, err := j.Append(envelope.EvidenceType(opts.Type), payload, opts.Tags, opts.Source)
	if err != nil {
		return WrapExitError(ExitCommandError, "append", err)
	}

	out.VerboseLog("appended seq=%d hash=%s", env.Seq, env.EnvelopeHash)
	if opts.Format == "json" {
		return out.Success(env)
	}
	return out.Success(fmt.Sprintf("appended %s seq=%d node=%s", env.EvidenceType, env.Seq, env.NodeID))
}

// loadPayload parses the payload flag or file into a JSON object.
// Numbers stay json.Number so integer payloads hash stably.
func loadPayload(opts *AppendOptions) (map[string]any, error) {
	if opts.Payload != "" && opts.PayloadFile != "" {
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}

	raw := []byte(opts.Payload)
	if opts.PayloadFile != "" {
		data, err := os.ReadFile(opts.PayloadFile)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}
