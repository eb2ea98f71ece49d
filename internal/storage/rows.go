package storage

// Rows is the cursor returned by Query. It is the subset of pgx.Rows that
// callers need, so tests can substitute an in-memory cursor.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}
