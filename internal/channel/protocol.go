package channel

import (
	"encoding/json"

	"github.com/roach88/docsync/internal/ir"
)

// Field names of the sync protocol's root operations.
const (
	OpTouchChannel      = "touchChannel"
	OpPollSyncEnvelopes = "pollSyncEnvelopes"
	OpPushSyncEnvelopes = "pushSyncEnvelopes"
)

const envelopeSelection = `
      type
      channelMeta { id }
      operations {
        operation {
          id index skip hash timestampUtcMs error
          action { id type scope timestampUtcMs input context { signer } }
        }
        context { documentId documentType scope branch ordinal }
      }
      cursor { remoteName cursorType cursorOrdinal lastSyncedAtUtcMs }
      key
      dependsOn`

// TouchChannelMutation registers or refreshes a channel on the remote.
const TouchChannelMutation = `
  mutation TouchChannel($input: TouchChannelInput!) {
    touchChannel(input: $input)
  }`

// PollSyncEnvelopesQuery fetches envelopes past the caller's inbox position
// and reports how far the remote has applied the caller's pushes.
const PollSyncEnvelopesQuery = `
  query PollSyncEnvelopes($channelId: String!, $outboxAck: Int!, $outboxLatest: Int!) {
    pollSyncEnvelopes(channelId: $channelId, outboxAck: $outboxAck, outboxLatest: $outboxLatest) {
      envelopes {` + envelopeSelection + `
      }
      ackOrdinal
    }
  }`

// PushSyncEnvelopesMutation delivers envelopes to the remote.
const PushSyncEnvelopesMutation = `
  mutation PushSyncEnvelopes($envelopes: [SyncEnvelopeInput!]!) {
    pushSyncEnvelopes(envelopes: $envelopes)
  }`

// GraphQLRequest is the POST body of every protocol call.
type GraphQLRequest struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

// GraphQLError is one entry of a response's error list.
type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// GraphQLResponse is the body of every protocol answer.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// TouchChannelInput describes the caller's channel to the remote.
type TouchChannelInput struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CollectionID string          `json:"collectionId"`
	Filter       ir.RemoteFilter `json:"filter"`
	// SinceTimestampUtcMs is the newest local operation timestamp; the remote
	// only sends operations after it. "0" requests everything.
	SinceTimestampUtcMs string `json:"sinceTimestampUtcMs"`
}

// TouchChannelVariables are the variables of TouchChannelMutation.
type TouchChannelVariables struct {
	Input TouchChannelInput `json:"input"`
}

// PollVariables are the variables of PollSyncEnvelopesQuery. OutboxAck and
// OutboxLatest are the caller's inbox ack and latest ordinals, which are
// positions in the remote's outbound stream.
type PollVariables struct {
	ChannelID    string `json:"channelId"`
	OutboxAck    int64  `json:"outboxAck"`
	OutboxLatest int64  `json:"outboxLatest"`
}

// PollResult is the answer to PollSyncEnvelopesQuery.
type PollResult struct {
	Envelopes []ir.SyncEnvelope `json:"envelopes"`
	// AckOrdinal is the highest ordinal of the caller's pushes the remote has
	// applied.
	AckOrdinal int64 `json:"ackOrdinal"`
}

// PushVariables are the variables of PushSyncEnvelopesMutation.
type PushVariables struct {
	Envelopes []ir.SyncEnvelope `json:"envelopes"`
}
