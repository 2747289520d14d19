package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/syncmgr"
)

// RemoteAddOptions holds flags for remote add.
type RemoteAddOptions struct {
	*RootOptions
	Type         string
	URL          string
	PollInterval string
	Token        string
	Peer         string
	CollectionID string
	DocumentIDs  []string
	Scopes       []string
	Branches     []string
	Since        string
	Reshuffle    string
}

// NewRemoteCommand creates the remote command and its subcommands. The
// commands edit the persisted remote definitions; a running replica picks
// them up on its next start.
func NewRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage persisted remotes",
	}
	cmd.AddCommand(newRemoteAddCommand(rootOpts))
	cmd.AddCommand(newRemoteListCommand(rootOpts))
	cmd.AddCommand(newRemoteRemoveCommand(rootOpts))
	return cmd
}

func newRemoteAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Define a remote",
		Long: `Define a remote the replica syncs with.

Examples:
  docsync remote add hub --url https://hub.example.com/graphql --collection drive-1
  docsync remote add hub --url http://localhost:8080/graphql --document-id doc-1 --scope global`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.record(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid remote", err)
			}
			return withStore(rootOpts, func(ctx context.Context, st *store.Store) error {
				_, err := st.GetRemote(ctx, rec.Name)
				switch {
				case err == nil:
					return NewExitError(ExitCommandError, fmt.Sprintf("remote %q already exists", rec.Name))
				case !errors.Is(err, store.ErrNotFound):
					return WrapExitError(ExitFailure, "failed to read remotes", err)
				}
				if err := st.UpsertRemote(ctx, rec); err != nil {
					return WrapExitError(ExitFailure, "failed to save remote", err)
				}
				return writeOutput(cmd.OutOrStdout(), opts.Format, rec, func(w io.Writer) {
					fmt.Fprintf(w, "Added remote %s (%s)\n", rec.Name, rec.ID)
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Type, "type", syncmgr.ChannelTypeRequest, "channel type (request|response|internal)")
	f.StringVar(&opts.URL, "url", "", "sync endpoint of the remote (request channels)")
	f.StringVar(&opts.PollInterval, "poll-interval", "", "poll interval, e.g. 2s (request channels)")
	f.StringVar(&opts.Token, "token", "", "static bearer token (request channels)")
	f.StringVar(&opts.Peer, "peer", "", "peer replica name (internal channels)")
	f.StringVar(&opts.CollectionID, "collection", "", "collection id")
	f.StringSliceVar(&opts.DocumentIDs, "document-id", nil, "only sync these documents")
	f.StringSliceVar(&opts.Scopes, "scope", nil, "only sync these scopes")
	f.StringSliceVar(&opts.Branches, "branch", nil, "only sync these branches")
	f.StringVar(&opts.Since, "since", "", "only backfill operations after this timestamp")
	f.StringVar(&opts.Reshuffle, "reshuffle", "", "reshuffle strategy for operations from this remote")
	return cmd
}

func (o *RemoteAddOptions) record(name string) (ir.RemoteRecord, error) {
	params := map[string]string{}
	switch o.Type {
	case syncmgr.ChannelTypeRequest:
		if o.URL == "" {
			return ir.RemoteRecord{}, fmt.Errorf("--url is required for %s channels", o.Type)
		}
		params[syncmgr.ParamURL] = o.URL
		if o.PollInterval != "" {
			params[syncmgr.ParamPollInterval] = o.PollInterval
		}
		if o.Token != "" {
			params[syncmgr.ParamToken] = o.Token
		}
	case syncmgr.ChannelTypeInternal:
		if o.Peer == "" {
			return ir.RemoteRecord{}, fmt.Errorf("--peer is required for %s channels", o.Type)
		}
		params[syncmgr.ParamPeer] = o.Peer
	case syncmgr.ChannelTypeResponse:
	default:
		return ir.RemoteRecord{}, fmt.Errorf("unknown channel type %q", o.Type)
	}
	if o.Reshuffle != "" {
		if _, err := reshuffle.ByName(o.Reshuffle); err != nil {
			return ir.RemoteRecord{}, err
		}
	}
	if len(params) == 0 {
		params = nil
	}

	return ir.RemoteRecord{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Name:         name,
		CollectionID: o.CollectionID,
		Channel:      ir.ChannelConfig{Type: o.Type, Parameters: params},
		Filter: ir.RemoteFilter{
			DocumentID: o.DocumentIDs,
			Scope:      o.Scopes,
			Branch:     o.Branches,
		},
		Options: ir.RemoteOptions{SinceTimestampUtcMs: o.Since, Reshuffle: o.Reshuffle},
	}, nil
}

func newRemoteListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List remotes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, func(ctx context.Context, st *store.Store) error {
				remotes, err := st.ListRemotes(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list remotes", err)
				}
				sort.Slice(remotes, func(i, j int) bool { return remotes[i].Name < remotes[j].Name })
				if remotes == nil {
					remotes = []ir.RemoteRecord{}
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, remotes, func(w io.Writer) {
					if len(remotes) == 0 {
						fmt.Fprintln(w, "No remotes.")
						return
					}
					for _, r := range remotes {
						fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Channel.Type, describeParams(r.Channel.Parameters))
					}
				})
			})
		},
	}
}

func newRemoteRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <name>",
		Short:         "Remove a remote",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withStore(rootOpts, func(ctx context.Context, st *store.Store) error {
				if _, err := st.GetRemote(ctx, name); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return NewExitError(ExitCommandError, fmt.Sprintf("unknown remote %q", name))
					}
					return WrapExitError(ExitFailure, "failed to read remotes", err)
				}
				if err := st.RemoveRemote(ctx, name); err != nil {
					return WrapExitError(ExitFailure, "failed to remove remote", err)
				}
				return writeOutput(cmd.OutOrStdout(), rootOpts.Format, map[string]string{"removed": name}, func(w io.Writer) {
					fmt.Fprintf(w, "Removed remote %s\n", name)
				})
			})
		},
	}
}

func withStore(opts *RootOptions, fn func(ctx context.Context, st *store.Store) error) error {
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func describeParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == syncmgr.ParamToken {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	return strings.Join(parts, " ")
}
