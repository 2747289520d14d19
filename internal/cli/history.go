package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
	"github.com/roach88/docsync/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Scope  string
	Branch string
	All    bool // include superseded operations
}

// HistoryResult is the history of one document scope.
type HistoryResult struct {
	DocumentID string                     `json:"documentId"`
	Scope      string                     `json:"scope"`
	Branch     string                     `json:"branch"`
	Stored     int                        `json:"stored"`
	Operations []ir.Operation             `json:"operations"`
	Issues     []reshuffle.IntegrityIssue `json:"issues,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <document-id>",
		Short: "Show a document's operation history",
		Long: `Show the operation history of a document scope and check its integrity.

By default only visible operations are listed: those no later skip has
superseded. --all lists every stored operation in index order.

The command exits with status 1 when the visible history has gaps or
duplicated positions.

Examples:
  docsync history doc-1
  docsync history doc-1 --scope document --all --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "global", "operation scope")
	cmd.Flags().StringVar(&opts.Branch, "branch", "main", "branch")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include superseded operations")
	return cmd
}

func runHistory(opts *HistoryOptions, documentID string, cmd *cobra.Command) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	raw, err := st.GetHistory(context.Background(), documentID, opts.Scope, opts.Branch)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	sorted := reshuffle.Sort(raw)
	visible := reshuffle.GarbageCollect(sorted)

	result := HistoryResult{
		DocumentID: documentID,
		Scope:      opts.Scope,
		Branch:     opts.Branch,
		Stored:     len(raw),
		Operations: visible,
		Issues:     reshuffle.CheckIntegrity(visible),
	}
	if opts.All {
		result.Operations = sorted
	}

	err = writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		if result.Stored == 0 {
			fmt.Fprintf(w, "No operations for %s/%s/%s\n", documentID, opts.Scope, opts.Branch)
			return
		}
		fmt.Fprintf(w, "%s/%s/%s: %d stored, %d visible\n", documentID, opts.Scope, opts.Branch, len(raw), len(visible))
		printOperations(w, result.Operations)
		for _, issue := range result.Issues {
			fmt.Fprintf(w, "! %s\n", issue)
		}
	})
	if err != nil {
		return err
	}
	if len(result.Issues) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("history has %d integrity issues", len(result.Issues)))
	}
	return nil
}

// openStore opens the configured store without starting a replica.
func (o *RootOptions) openStore() (*store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}
