package build

import (
	"errors"
	"fmt"
)

// Failure classes. Every one of them stops the run; callers match them
// with errors.Is.
var (
	ErrSourceQuery     = errors.New("source query failed")
	ErrReferenceLookup = errors.New("reference lookup failed")
	ErrPersistence     = errors.New("persistence failed")
	ErrInvalidData     = errors.New("invalid data")

	// ErrLinesNotCommitted is returned when the stop stage is requested
	// without a committed line stage in this or a previous run.
	ErrLinesNotCommitted = errors.New("line stage has not committed")
)

func sourceError(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceQuery, fmt.Sprintf(format, args...), err)
}

func persistenceError(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, fmt.Sprintf(format, args...), err)
}

func invalidData(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidData, fmt.Sprintf(format, args...), err)
}
