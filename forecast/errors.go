package forecast

import (
	"errors"
	"fmt"

	"github.com/warp/retail-forecast/retail"
)

var (
	// ErrInsufficientHistory is returned when a store has too few training
	// rows to fit a model.
	ErrInsufficientHistory = errors.New("insufficient training history")

	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("model not fitted")

	// ErrFitFailed is returned when the normal equations cannot be solved.
	ErrFitFailed = errors.New("model fit failed")

	// ErrLengthMismatch is returned when time and value slices differ in length.
	ErrLengthMismatch = errors.New("time and value lengths differ")
)

// InsufficientHistoryError carries the row counts behind ErrInsufficientHistory.
// StoreID is zero when the error comes straight from a Model.
type InsufficientHistoryError struct {
	StoreID  retail.StoreID
	Rows     int
	Required int
}

func (e *InsufficientHistoryError) Error() string {
	if e.StoreID == 0 {
		return fmt.Sprintf("insufficient training history: %d usable rows, need at least %d", e.Rows, e.Required)
	}
	return fmt.Sprintf("store %d has %d training rows before the cutoff, need at least %d", int(e.StoreID), e.Rows, e.Required)
}

func (e *InsufficientHistoryError) Unwrap() error {
	return ErrInsufficientHistory
}

// IsClientError returns true if the error comes from the selected store's
// data rather than from the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientHistory) || retail.IsNotFound(err)
}
