package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is reported by blocking pops whose timeout elapsed before
	// an acquisition or an error arrived. The queue content is untouched.
	ErrTimeout = errors.New("timed out waiting for acquisition")

	// ErrWouldDeadlock is reported when a pop without timeout is attempted
	// on an empty queue while the stream is not monitoring. No value can
	// ever arrive in that state, so waiting would hang the caller forever.
	ErrWouldDeadlock = errors.New("stream is not monitoring and no timeout was given")

	// ErrClosed is reported by operations on a closed stream.
	ErrClosed = errors.New("stream is closed")
)

// AcquisitionError reports that the underlying client failed to acquire a
// value for a parameter. It is recorded on the client's delivery goroutine and
// surfaces on the consumer's next pop. The stream stays usable afterwards;
// later pops may succeed once the source recovers.
type AcquisitionError struct {
	// Parameter is the name of the parameter whose acquisition failed.
	Parameter string
	// Description is the client's human-readable failure summary.
	Description string
	// Err is the underlying cause reported by the client, if any.
	Err error
}

func (e *AcquisitionError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("acquisition of %s failed: %s", e.Parameter, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("acquisition of %s failed: %v", e.Parameter, e.Err)
	}
	return fmt.Sprintf("acquisition of %s failed", e.Parameter)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// GroupAcquisitionError reports an acquisition failure of one member of a
// group stream. The whole group cycle is treated as failed; the partial cycle
// collected so far is discarded.
type GroupAcquisitionError struct {
	// Parameter is the name of the failing group member.
	Parameter string
	// Err is the member's acquisition error.
	Err *AcquisitionError
}

func (e *GroupAcquisitionError) Error() string {
	return fmt.Sprintf("group member %s: %v", e.Parameter, e.Err)
}

func (e *GroupAcquisitionError) Unwrap() error {
	return e.Err
}
