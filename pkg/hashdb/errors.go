package hashdb

import "errors"

// Ordinary control-flow results. Callers are expected to test for these
// with errors.Is; anything else coming out of the store is a real fault.
var (
	// ErrKeyExists is returned by Put when the key is already present.
	// Tree records are immutable, so overwrite attempts are rejected.
	ErrKeyExists = errors.New("hashdb: key exists")

	// ErrNotFound is returned when a key is absent. Record-level
	// corruption is reported the same way: the key is treated as missing.
	ErrNotFound = errors.New("hashdb: key not found")
)

// maxRetries bounds retries of transactions that failed with a
// transient conflict before the error surfaces.
const maxRetries = 5
