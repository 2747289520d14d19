package channel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorSource names the mailbox a ChannelError originated from.
type ErrorSource string

const (
	SourceInbox   ErrorSource = "inbox"
	SourceOutbox  ErrorSource = "outbox"
	SourceChannel ErrorSource = "channel"
)

// ErrChannelShutdown is returned by operations attempted after Shutdown.
var ErrChannelShutdown = errors.New("channel is shut down")

// channelNotFound is the message fragment a remote uses to report that it
// has no state for a channel id.
const channelNotFound = "Channel not found"

// ChannelError records a failure attributed to one side of a channel. It is
// the error stored on SyncOperations moved to the dead-letter mailbox.
type ChannelError struct {
	Source ErrorSource
	Err    error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s error: %v", e.Source, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// TransportError is a recoverable failure: the request did not reach the
// remote, the remote answered with a non-2xx status, or the body could not
// be parsed. Pushes failing this way are retried with backoff.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is an unrecoverable failure: the remote answered and
// explicitly rejected the request, or sent no data.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// IsRecoverable reports whether err should be retried rather than
// dead-lettered.
func IsRecoverable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsChannelNotFound reports whether the remote lost the channel's state and
// the channel must be registered again.
func IsChannelNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), channelNotFound)
}

// IsShutdown reports whether err is ErrChannelShutdown.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrChannelShutdown)
}
