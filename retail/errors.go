package retail

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedInput is returned when a CSV file cannot be parsed into records.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMissingColumn is returned when a required CSV column is absent.
	ErrMissingColumn = errors.New("missing column")

	// ErrStoreNotFound is returned when a store id is not part of the dataset.
	ErrStoreNotFound = errors.New("store not found")

	// ErrEmptyDataset is returned when the merge yields no observations.
	ErrEmptyDataset = errors.New("merged dataset is empty")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LoadError pinpoints the file, row and column of a load failure. Row is the
// 1-based data row (header excluded); zero when the whole file failed.
type LoadError struct {
	File   string
	Row    int
	Column string
	Err    error
}

func (e *LoadError) Error() string {
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("load %s: row %d, column %s: %v", e.File, e.Row, e.Column, e.Err)
	case e.Column != "":
		return fmt.Sprintf("load %s: column %s: %v", e.File, e.Column, e.Err)
	default:
		return fmt.Sprintf("load %s: %v", e.File, e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// StoreNotFoundError carries the missing id.
type StoreNotFoundError struct {
	StoreID StoreID
}

func (e *StoreNotFoundError) Error() string {
	return fmt.Sprintf("store %d not found", int(e.StoreID))
}

func (e *StoreNotFoundError) Unwrap() error {
	return ErrStoreNotFound
}

// IsNotFound returns true if the error indicates an unknown store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound)
}
