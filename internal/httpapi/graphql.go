package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/roach88/docsync/internal/channel"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/syncmgr"
)

// maxBodyBytes bounds a protocol request body.
const maxBodyBytes = 32 << 20

// envelopeReceiver is implemented by channels that accept pushed envelopes.
type envelopeReceiver interface {
	ReceiveEnvelope(env ir.SyncEnvelope) error
}

// handleGraphQL dispatches on the query's root field. Resolver failures are
// answered with status 200 and an error list, as GraphQL servers do;
// malformed requests get 400.
func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req channel.GraphQLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "", fmt.Errorf("invalid request body: %w", err))
		return
	}
	field, err := rootField(req.Query)
	if err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "", err)
		return
	}
	if s.remotes == nil {
		writeGraphQLError(w, http.StatusServiceUnavailable, field, errors.New("sync is not enabled"))
		return
	}

	var result any
	switch field {
	case channel.OpTouchChannel:
		result, err = s.touchChannel(r.Context(), req.Variables)
	case channel.OpPollSyncEnvelopes:
		result, err = s.pollSyncEnvelopes(r.Context(), req.Variables)
	case channel.OpPushSyncEnvelopes:
		result, err = s.pushSyncEnvelopes(req.Variables)
	default:
		err = fmt.Errorf("unknown operation %q", field)
	}
	if err != nil {
		s.logger.Warn("sync request failed", "operation", field, "error", err)
		writeGraphQLError(w, http.StatusOK, field, err)
		return
	}

	data, err := ir.MarshalJSONNoEscape(map[string]any{field: result})
	if err != nil {
		writeGraphQLError(w, http.StatusInternalServerError, field, err)
		return
	}
	body, err := ir.MarshalJSONNoEscape(channel.GraphQLResponse{Data: data})
	if err != nil {
		writeGraphQLError(w, http.StatusInternalServerError, field, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeGraphQLError(w http.ResponseWriter, status int, field string, err error) {
	gqlErr := channel.GraphQLError{Message: err.Error()}
	if field != "" {
		gqlErr.Path = []string{field}
	}
	writeJSON(w, status, channel.GraphQLResponse{Errors: []channel.GraphQLError{gqlErr}})
}

// rootField returns the first field of the query's selection set, which
// names the operation.
func rootField(query string) (string, error) {
	open := strings.IndexByte(query, '{')
	if open < 0 {
		return "", errors.New("query has no selection set")
	}
	rest := strings.TrimLeftFunc(query[open+1:], func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if end < 0 {
		end = len(rest)
	}
	if end == 0 {
		return "", errors.New("query selects no field")
	}
	return rest[:end], nil
}

func decodeVariables(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("variables are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid variables: %w", err)
	}
	return nil
}

// touchChannel registers the caller as a remote served by a ResponseChannel.
// Touching a channel that already exists is a no-op.
func (s *Server) touchChannel(ctx context.Context, raw json.RawMessage) (bool, error) {
	var vars channel.TouchChannelVariables
	if err := decodeVariables(raw, &vars); err != nil {
		return false, err
	}
	in := vars.Input
	if in.ID == "" || in.Name == "" {
		return false, errors.New("touchChannel: id and name are required")
	}
	if _, err := s.remotes.GetByID(in.ID); err == nil {
		return true, nil
	}

	_, err := s.remotes.AddRecord(ctx, ir.RemoteRecord{
		ID:           in.ID,
		Name:         in.Name,
		CollectionID: in.CollectionID,
		Channel:      ir.ChannelConfig{Type: syncmgr.ChannelTypeResponse},
		Filter:       in.Filter,
		Options:      ir.RemoteOptions{SinceTimestampUtcMs: in.SinceTimestampUtcMs},
	})
	if err != nil {
		return false, fmt.Errorf("touchChannel %s: %w", in.ID, err)
	}
	s.logger.Info("channel registered", "channel", in.ID, "collection_id", in.CollectionID)
	return true, nil
}

func (s *Server) pollSyncEnvelopes(ctx context.Context, raw json.RawMessage) (channel.PollResult, error) {
	var vars channel.PollVariables
	if err := decodeVariables(raw, &vars); err != nil {
		return channel.PollResult{}, err
	}
	remote, err := s.remotes.GetByID(vars.ChannelID)
	if err != nil {
		return channel.PollResult{}, channelNotFound(vars.ChannelID)
	}
	rc, ok := remote.Channel.(*channel.ResponseChannel)
	if !ok {
		return channel.PollResult{}, fmt.Errorf("channel %s cannot be polled", vars.ChannelID)
	}
	return rc.Poll(ctx, vars.OutboxAck, vars.OutboxLatest)
}

// pushSyncEnvelopes delivers envelopes in order. An envelope may only depend
// on keys of envelopes earlier in the same push.
func (s *Server) pushSyncEnvelopes(raw json.RawMessage) (bool, error) {
	var vars channel.PushVariables
	if err := decodeVariables(raw, &vars); err != nil {
		return false, err
	}

	seen := make(map[string]bool, len(vars.Envelopes))
	for _, env := range vars.Envelopes {
		for _, dep := range env.DependsOn {
			if !seen[dep] {
				return false, fmt.Errorf("envelope %q depends on unknown envelope %q", env.Key, dep)
			}
		}
		if env.Key != "" {
			seen[env.Key] = true
		}
	}

	for _, env := range vars.Envelopes {
		remote, err := s.remotes.GetByID(env.ChannelMeta.ID)
		if err != nil {
			return false, channelNotFound(env.ChannelMeta.ID)
		}
		rx, ok := remote.Channel.(envelopeReceiver)
		if !ok {
			return false, fmt.Errorf("channel %s does not accept envelopes", env.ChannelMeta.ID)
		}
		if err := rx.ReceiveEnvelope(env); err != nil {
			return false, fmt.Errorf("deliver envelope to %s: %w", env.ChannelMeta.ID, err)
		}
	}
	return true, nil
}

// channelNotFound is the error a RequestChannel recognizes as lost channel
// state.
func channelNotFound(id string) error {
	return fmt.Errorf("Channel not found: %s", id)
}
