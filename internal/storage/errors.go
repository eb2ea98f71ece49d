package storage

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when an insert is attempted with nothing to insert.
var ErrNoData = errors.New("no data provided")

// InsertError reports a failed bulk insert. Nothing from the batch is
// visible when it is returned.
type InsertError struct {
	Table string
	Rows  int
	Err   error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("insert %d rows into %s: %v", e.Rows, e.Table, e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}
