package reactor

import (
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/ir"
)

// ErrStopped is returned for jobs submitted to, or still queued in, a
// reactor whose Run loop has exited.
var ErrStopped = errors.New("reactor stopped")

// LoadErrorCode categorizes rejected loads.
type LoadErrorCode string

const (
	// ErrCodeMissingOperations indicates the incoming operations start past
	// the local head, leaving positions nobody covers.
	ErrCodeMissingOperations LoadErrorCode = "MISSING_OPERATIONS"

	// ErrCodeDuplicateIndex indicates two incoming operations claim the same
	// index, or an index is not ascending.
	ErrCodeDuplicateIndex LoadErrorCode = "DUPLICATE_INDEX"

	// ErrCodeExcessiveReshuffle indicates the merge would skip more
	// positions than the configured maximum.
	ErrCodeExcessiveReshuffle LoadErrorCode = "EXCESSIVE_RESHUFFLE"
)

// LoadError is returned when incoming operations cannot be applied to a
// document scope.
type LoadError struct {
	Code    LoadErrorCode
	Key     ir.ConsistencyKey
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Key)
}

// IsLoadError reports whether err is a *LoadError with the given code.
func IsLoadError(err error, code LoadErrorCode) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// RequestError reports a malformed write request.
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid write request: %s: %s", e.Field, e.Message)
}
