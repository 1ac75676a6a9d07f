package loader

import (
	"errors"
	"fmt"
	"strings"
)

// Storage implementations wrap these so errors.Is can classify failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// IsNotFound reports whether err is a storage lookup miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// OperationError is a caller-visible collaborator failure enriched with the
// destination it concerned.
type OperationError struct {
	Op          string
	Destination TableID
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("cannot %s table %q in storage: %v", e.Op, e.Destination.String(), e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// TaskFailure is the failure of one task of a queue.
type TaskFailure struct {
	Destination TableID
	JobID       string
	Message     string
	Err         error
}

func (f TaskFailure) String() string {
	return fmt.Sprintf("Failed to load table %q: %s", f.Destination.String(), f.Message)
}

// AggregateLoadError carries every task failure of a WaitForAll call, in
// submission order.
type AggregateLoadError struct {
	Failures []TaskFailure
}

func (e *AggregateLoadError) Error() string {
	lines := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the underlying per-task errors.
func (e *AggregateLoadError) Unwrap() []error {
	var errs []error
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Destinations lists the failed destinations in order.
func (e *AggregateLoadError) Destinations() []TableID {
	out := make([]TableID, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Destination
	}
	return out
}

// JobError is a remote job that finished with status error.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}
