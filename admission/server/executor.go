package server

//go:generate mockgen -source=executor.go -package=server -destination=executor_mock.go

import (
	"context"

	"github.com/twitter/admission/admission/domain"
)

// QueryExecutor is the execution layer the controller drives. The controller never
// executes queries itself. Implementations report outcomes back through
// Controller.QueryFinished and Controller.QueryFailed.
type QueryExecutor interface {
	// Start begins running an admitted query.
	Start(ctx context.Context, id domain.QueryID, def domain.QueryDefinition) error

	// Cancel tears down a query cancelled by a client. Teardown may complete after Cancel returns.
	Cancel(ctx context.Context, id domain.QueryID) error

	// Terminate tears down a query killed by the controller, tagging it with code.
	Terminate(ctx context.Context, id domain.QueryID, code domain.ErrorCode) error
}
