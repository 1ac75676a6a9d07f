package syncstate

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup miss via errors.Is.
var ErrNotFound = errors.New("sync state not found")

// Kind distinguishes the two state key variants.
type Kind string

const (
	KindTable Kind = "table"
	KindFiles Kind = "files"
)

// NotFoundError reports that no state is recorded for a key.
type NotFoundError struct {
	Kind Kind
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Kind == KindFiles {
		return fmt.Sprintf("state for files defined by %q not found", e.Key)
	}
	return fmt.Sprintf("state for table %q not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is a state lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DuplicateKeyError is returned when a state list carries the same key twice.
type DuplicateKeyError struct {
	Kind Kind
	Key  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s state for %q", e.Kind, e.Key)
}
