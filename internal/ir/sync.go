package ir

// EnvelopeTypeOperations is the only envelope type on the wire.
const EnvelopeTypeOperations = "operations"

// ChannelMeta identifies the channel an envelope travels on.
type ChannelMeta struct {
	ID string `json:"id"`
}

// SyncEnvelope is the unit of transport between reactors.
//
// Key and DependsOn encode a partial order for batched pushes that share a
// logical job: an envelope may only be applied after the envelopes whose keys
// it lists in DependsOn.
type SyncEnvelope struct {
	Type        string                 `json:"type"`
	ChannelMeta ChannelMeta            `json:"channelMeta"`
	Operations  []OperationWithContext `json:"operations,omitempty"`
	Cursor      *RemoteCursor          `json:"cursor,omitempty"`
	Key         string                 `json:"key,omitempty"`
	DependsOn   []string               `json:"dependsOn,omitempty"`
}

// CursorType selects which mailbox a cursor tracks.
type CursorType string

const (
	CursorInbox  CursorType = "inbox"
	CursorOutbox CursorType = "outbox"
)

// RemoteCursor is the persisted acknowledgement position of one mailbox.
type RemoteCursor struct {
	RemoteName        string     `json:"remoteName"`
	CursorType        CursorType `json:"cursorType"`
	CursorOrdinal     int64      `json:"cursorOrdinal"`
	LastSyncedAtUtcMs int64      `json:"lastSyncedAtUtcMs,omitempty"`
}

// RemoteFilter restricts which operations a remote receives.
// An empty list matches everything for that dimension.
type RemoteFilter struct {
	DocumentID []string `json:"documentId"`
	Scope      []string `json:"scope"`
	Branch     []string `json:"branch"`
}

// Matches reports whether the operation's context passes the filter.
func (f RemoteFilter) Matches(ctx OperationContext) bool {
	return matchesAny(f.DocumentID, ctx.DocumentID) &&
		matchesAny(f.Scope, ctx.Scope) &&
		matchesAny(f.Branch, ctx.Branch)
}

func matchesAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// ChannelConfig selects and parameterizes a channel implementation.
type ChannelConfig struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RemoteOptions are per-remote sync settings.
type RemoteOptions struct {
	// SinceTimestampUtcMs bounds the backfill; "0" or empty means everything.
	SinceTimestampUtcMs string `json:"sinceTimestampUtcMs,omitempty"`
	// Reshuffle names the merge comparator for operations from this remote.
	Reshuffle string `json:"reshuffle,omitempty"`
}

// RemoteRecord is the persisted definition of a remote.
type RemoteRecord struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	CollectionID string        `json:"collectionId"`
	Channel      ChannelConfig `json:"channelConfig"`
	Filter       RemoteFilter  `json:"filter"`
	Options      RemoteOptions `json:"options"`
}
