package errors

import (
	"errors"
	"fmt"
)

// ErrNotFound marks operations referencing a fingerprint or id that does
// not exist. Wrap it with context via fmt.Errorf and %w.
var ErrNotFound = errors.New("not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// FileNotAllowed is a user-correctable validation failure: the upload was
// rejected and the message explains why. It is never retried.
type FileNotAllowed struct {
	Message string
}

func (e *FileNotAllowed) Error() string {
	return e.Message
}

func FileNotAllowedf(format string, args ...any) error {
	return &FileNotAllowed{Message: fmt.Sprintf(format, args...)}
}

func IsFileNotAllowed(err error) bool {
	var fna *FileNotAllowed
	return errors.As(err, &fna)
}

// Internalf marks a programming or environment bug, e.g. a stream whose
// length changed between steps. Callers must propagate it untouched.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("internal: "+format, args...)
}
