package domain

import (
	"errors"
	"fmt"
)

var (
	// No live or historical record exists for the id.
	ErrQueryNotFound = errors.New("query not found")

	// The requested state is not reachable from the current one. The record is unchanged.
	ErrInvalidTransition = errors.New("invalid query state transition")

	// The query ended in a terminal state other than the one waited for.
	ErrStateUnreachable = errors.New("query can no longer reach the requested state")

	// Returned by Await for queries that ended in CANCELLED.
	ErrQueryCancelled = errors.New("query was cancelled")
)

// QueryError is the failure seen by a caller waiting on a query that ended in FAILED.
type QueryError struct {
	ID      QueryID
	Code    ErrorCode
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("Query %s failed (%s): %s", e.ID, e.Code.Name, e.Message)
}
