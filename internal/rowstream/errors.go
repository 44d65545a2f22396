package rowstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file identity has no backing file.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidFileID is returned for identities that cannot name a file
	// inside the opener's directory.
	ErrInvalidFileID = errors.New("invalid file id")
)

// ReadError represents an I/O failure or malformed framing hit while
// scanning a file. Rows yielded before the failure are not retracted.
type ReadError struct {
	FileID string
	Line   int
	Err    error
}

func (e *ReadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("read %s at line %d: %v", e.FileID, e.Line, e.Err)
	}
	return fmt.Sprintf("read %s: %v", e.FileID, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsReadError reports whether err is, or wraps, a *ReadError.
func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}
