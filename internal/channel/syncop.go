package channel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/docsync/internal/ir"
)

// Status is the lifecycle position of a SyncOperation.
// Values are ordered; transitions only move forward.
type Status int

const (
	StatusUnknown Status = iota
	StatusTransportPending
	StatusExecutionPending
	StatusApplied
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusTransportPending:
		return "TransportPending"
	case StatusExecutionPending:
		return "ExecutionPending"
	case StatusApplied:
		return "Applied"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusError
}

// StatusListener observes a transition.
type StatusListener func(op *SyncOperation, prev, next Status)

// SyncOperation wraps one batch of operations travelling to or from a remote.
//
// Status transitions are forward-only: a transition to the current or an
// earlier status is ignored, forward skips are allowed, and Applied and Error
// are terminal.
type SyncOperation struct {
	ID              string
	JobID           string
	JobDependencies []string
	RemoteName      string
	DocumentID      string
	Scopes          []string
	Branch          string
	Operations      []ir.OperationWithContext

	mu        sync.Mutex
	status    Status
	err       error
	listeners []StatusListener
}

// NewSyncOperation creates an operation in StatusUnknown.
func NewSyncOperation(id, jobID string, jobDependencies []string, remoteName, documentID string, scopes []string, branch string, ops []ir.OperationWithContext) *SyncOperation {
	return &SyncOperation{
		ID:              id,
		JobID:           jobID,
		JobDependencies: jobDependencies,
		RemoteName:      remoteName,
		DocumentID:      documentID,
		Scopes:          scopes,
		Branch:          branch,
		Operations:      ops,
	}
}

// Status returns the current status.
func (s *SyncOperation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error recorded by Failed.
func (s *SyncOperation) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// On registers a listener for status transitions.
func (s *SyncOperation) On(l StatusListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Started marks the operation as handed to the transport.
func (s *SyncOperation) Started() {
	s.transition(StatusTransportPending, nil)
}

// Transported marks the operation as received and awaiting execution.
func (s *SyncOperation) Transported() {
	s.transition(StatusExecutionPending, nil)
}

// Executed marks the operation as applied.
func (s *SyncOperation) Executed() {
	s.transition(StatusApplied, nil)
}

// Failed marks the operation as failed with err.
func (s *SyncOperation) Failed(err error) {
	s.transition(StatusError, err)
}

// MaxOrdinal returns the highest ordinal in the payload, or 0 when empty.
func (s *SyncOperation) MaxOrdinal() int64 {
	var max int64
	for _, op := range s.Operations {
		if op.Context.Ordinal > max {
			max = op.Context.Ordinal
		}
	}
	return max
}

func (s *SyncOperation) transition(next Status, err error) {
	s.mu.Lock()
	prev := s.status
	if prev.Terminal() || next <= prev {
		s.mu.Unlock()
		return
	}
	s.status = next
	if next == StatusError {
		s.err = err
	}
	listeners := append([]StatusListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		notifyListener(l, s, prev, next)
	}
}

// notifyListener runs one listener, containing a panic so later listeners
// still run.
func notifyListener(l StatusListener, op *SyncOperation, prev, next Status) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync operation listener panicked",
				"sync_op", op.ID,
				"prev", prev.String(),
				"next", next.String(),
				"panic", r,
			)
		}
	}()
	l(op, prev, next)
}
