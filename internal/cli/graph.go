package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/consistency"
	"github.com/roach88/docsync/internal/indexer"
	"github.com/roach88/docsync/internal/ir"
)

// GraphOptions holds flags shared by the graph subcommands.
type GraphOptions struct {
	*RootOptions
	Types []string
	Limit int
}

// PathResult is the output of graph path.
type PathResult struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Path  []string `json:"path"`
	Found bool     `json:"found"`
}

// NewGraphCommand creates the graph command and its subcommands.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query the document graph",
		Long: `Query the relationship graph indexed from ADD_RELATIONSHIP and
REMOVE_RELATIONSHIP operations in the configured store.

The index is brought up to date with the operation log before querying.`,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.Types, "type", nil, "only follow these relationship types")

	cmd.AddCommand(&cobra.Command{
		Use:           "path <from> <to>",
		Short:         "Find the shortest directed path between two documents",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndexer(opts, func(ctx context.Context, ix *indexer.Indexer) error {
				path, err := ix.FindPath(ctx, args[0], args[1], opts.readOptions())
				if err != nil {
					return WrapExitError(ExitFailure, "path query failed", err)
				}
				if path == nil {
					path = []string{}
				}
				res := PathResult{From: args[0], To: args[1], Path: path, Found: len(path) > 0}
				return writeOutput(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
					if !res.Found {
						fmt.Fprintf(w, "No path from %s to %s\n", res.From, res.To)
						return
					}
					fmt.Fprintln(w, strings.Join(res.Path, " -> "))
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "ancestors <document-id>",
		Short:         "List every document that links to a document, transitively",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndexer(opts, func(ctx context.Context, ix *indexer.Indexer) error {
				graph, err := ix.FindAncestors(ctx, args[0], opts.readOptions())
				if err != nil {
					return WrapExitError(ExitFailure, "ancestors query failed", err)
				}
				return writeOutput(cmd.OutOrStdout(), opts.Format, graph, func(w io.Writer) {
					fmt.Fprintf(w, "nodes: %s\n", strings.Join(graph.Nodes, ", "))
					for _, e := range graph.Edges {
						fmt.Fprintf(w, "  %s -[%s]-> %s\n", e.From, e.Type, e.To)
					}
				})
			})
		},
	})

	relationships := func(use, short string, outgoing bool) *cobra.Command {
		return &cobra.Command{
			Use:           use + " <document-id>",
			Short:         short,
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIndexer(opts, func(ctx context.Context, ix *indexer.Indexer) error {
					read := ix.GetIncoming
					if outgoing {
						read = ix.GetOutgoing
					}
					page, err := read(ctx, args[0], opts.readOptions())
					if err != nil {
						return WrapExitError(ExitFailure, use+" query failed", err)
					}
					return writeOutput(cmd.OutOrStdout(), opts.Format, page.Results, func(w io.Writer) {
						printRelationships(w, page.Results)
						if page.HasMore {
							fmt.Fprintf(w, "(more results; limit %d)\n", opts.Limit)
						}
					})
				})
			},
		}
	}
	out := relationships("outgoing", "List relationships from a document", true)
	in := relationships("incoming", "List relationships to a document", false)
	for _, c := range []*cobra.Command{out, in} {
		c.Flags().IntVar(&opts.Limit, "limit", 0, "maximum results (0 = indexer page size)")
		cmd.AddCommand(c)
	}

	return cmd
}

func (o *GraphOptions) readOptions() indexer.ReadOptions {
	ro := indexer.ReadOptions{Types: o.Types}
	if o.Limit > 0 {
		ro.Paging = &indexer.Paging{Limit: o.Limit}
	}
	return ro
}

// withIndexer opens the store, catches the index up and runs fn.
func withIndexer(opts *GraphOptions, fn func(ctx context.Context, ix *indexer.Indexer) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	ix := indexer.New(st, st, consistency.New(), indexer.WithLogger(opts.logger()))
	if err := ix.Init(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to index operations", err)
	}
	return fn(ctx, ix)
}

func printRelationships(w io.Writer, rels []ir.DocumentRelationship) {
	if len(rels) == 0 {
		fmt.Fprintln(w, "No relationships.")
		return
	}
	for _, r := range rels {
		fmt.Fprintf(w, "%s -[%s]-> %s\n", r.SourceID, r.RelationshipType, r.TargetID)
	}
}

