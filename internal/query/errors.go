package query

import (
	"errors"
	"fmt"

	"github.com/csvquery/csvbrowse/internal/rowstream"
)

var (
	// ErrInvalidQuery is returned for parameters that are rejected before
	// any scan is opened: empty search text, non-positive page or limit,
	// or a malformed file identity.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNotFound is returned when the file identity has no backing file.
	ErrNotFound = rowstream.ErrNotFound
)

// IsReadError reports whether err came from a failed scan.
func IsReadError(err error) bool {
	return rowstream.IsReadError(err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func validateFileID(fileID string) error {
	if err := rowstream.ValidateFileID(fileID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return nil
}
