package domain

import (
	"fmt"
)

type ErrorType string

const (
	UserError             ErrorType = "USER_ERROR"
	InternalError         ErrorType = "INTERNAL_ERROR"
	InsufficientResources ErrorType = "INSUFFICIENT_RESOURCES"
	External              ErrorType = "EXTERNAL"
)

// ErrorCode is the stable, enumerated reason attached to a FAILED query.
type ErrorCode struct {
	Code int       `json:"code"`
	Name string    `json:"name"`
	Type ErrorType `json:"type"`
}

func (c ErrorCode) String() string {
	return fmt.Sprintf("%s:%d", c.Name, c.Code)
}

var (
	GenericUserError              = ErrorCode{0x0000_0000, "GENERIC_USER_ERROR", UserError}
	ExceededTimeLimit             = ErrorCode{0x0002_0003, "EXCEEDED_TIME_LIMIT", InsufficientResources}
	GenericInternalError          = ErrorCode{0x0001_0000, "GENERIC_INTERNAL_ERROR", InternalError}
	RemoteTaskError               = ErrorCode{0x0001_0006, "REMOTE_TASK_ERROR", InternalError}
	ServerShuttingDown            = ErrorCode{0x0001_0009, "SERVER_SHUTTING_DOWN", InternalError}
	ClusterOutOfMemory            = ErrorCode{0x0002_0004, "CLUSTER_OUT_OF_MEMORY", InsufficientResources}
	GenericExternalError          = ErrorCode{0x0100_0000, "GENERIC_EXTERNAL", External}
	ClusterHasTooManyRunningTasks = ErrorCode{0x0002_000E, "CLUSTER_HAS_TOO_MANY_RUNNING_TASKS", InsufficientResources}
)

// OverloadMessage is attached to every query killed by the overload enforcer.
const OverloadMessage = "Query killed because the cluster is overloaded with too many tasks"

var knownErrorCodes = []ErrorCode{
	GenericUserError,
	ExceededTimeLimit,
	GenericInternalError,
	RemoteTaskError,
	ServerShuttingDown,
	ClusterOutOfMemory,
	GenericExternalError,
	ClusterHasTooManyRunningTasks,
}

// ErrorCodeByName looks up a known code, e.g. for failures reported by the execution layer.
func ErrorCodeByName(name string) (ErrorCode, bool) {
	for _, c := range knownErrorCodes {
		if c.Name == name {
			return c, true
		}
	}
	return ErrorCode{}, false
}
