package indicator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFlightData means the flight table is empty.
	ErrNoFlightData = errors.New("no flight data available")
	// ErrUnknownIndicator means a key or name matched no indicator.
	ErrUnknownIndicator = errors.New("unknown indicator")
)

// ProcessingError aborts an indicator cycle before anything is written.
// Indicator is empty when the failure is not tied to one indicator.
type ProcessingError struct {
	Indicator string
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Indicator == "" {
		return fmt.Sprintf("unable to compute indicators: %v", e.Err)
	}
	return fmt.Sprintf("unable to compute indicator %s: %v", e.Indicator, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
