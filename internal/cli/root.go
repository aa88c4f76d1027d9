// Package cli implements the evidlog command-line surface: append,
// log, verify, export, import, and status over a local storage root.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerworks/evidlog/internal/config"
	"github.com/ledgerworks/evidlog/internal/identity"
	"github.com/ledgerworks/evidlog/internal/journal"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Root       string // storage root directory
	ConfigPath string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the evidlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "evidlog",
		Short: "evidlog - tamper-evident evidence ledger",
		Long: "Append-only, hash-chained evidence ledger with file-based\n" +
			"batch export/import between disconnected nodes.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			if opts.Root == "" {
				opts.Root = cfg.Root
			}
			if opts.Root == "" {
				opts.Root = "evidlog-data"
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "storage root directory")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "evidlog.yaml", "config file path")

	// Add subcommands
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// Layout resolves the storage layout under the configured root.
func (o *RootOptions) Layout() config.Layout {
	return config.NewLayout(o.Root)
}

// ChunkSize returns the configured export chunk size.
func (o *RootOptions) ChunkSize() int {
	if o.cfg == nil {
		return config.DefaultChunkSize
	}
	return o.cfg.ChunkSize
}

// Formatter builds the output formatter for a command invocation.
func (o *RootOptions) Formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openJournal resolves the node identity and opens its journal.
func (o *RootOptions) openJournal() (*journal.Journal, error) {
	layout := o.Layout()
	nodeID, err := identity.LoadOrCreate(layout.IdentityPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "node identity", err)
	}
	j, err := journal.Open(layout.JournalPath(nodeID), layout.CounterPath(nodeID), nodeID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open journal", err)
	}
	return j, nil
}

// nodeID resolves the node identity without opening the journal.
func (o *RootOptions) nodeID() (string, error) {
	id, err := identity.LoadOrCreate(o.Layout().IdentityPath())
	if err != nil {
		return "", WrapExitError(ExitCommandError, "node identity", err)
	}
	return id, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
