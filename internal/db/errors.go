// Package db maps SurrealDB query failures onto session errors, so callers
// can tell a reused session ID or a write conflict from a broken connection.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrSessionExists is returned by CreateSession for a reused session ID.
	ErrSessionExists = errors.New("session already exists")

	// ErrTransactionConflict means a concurrent write touched the same
	// session record. Progress updates retry on it.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound is returned by updates that matched no session record.
	ErrNotFound = errors.New("session not found")
)

// updateAttempts bounds the retries of a session update that keeps hitting
// transaction conflicts.
const updateAttempts = 3

// queryErrorKinds maps fragments of SurrealDB error messages to sentinels.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrSessionExists},
	{"Transaction conflict", ErrTransactionConflict},
	{"Transaction write conflict", ErrTransactionConflict},
}

// wrapQueryError wraps a SurrealDB query error with the matching sentinel.
// Other errors come back unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	for _, k := range queryErrorKinds {
		if strings.Contains(queryErr.Message, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, queryErr.Message)
		}
	}
	return err
}

// retryable reports whether a failed session update may succeed when run
// again unchanged.
func retryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
