// Package domain provides definitions for queries, their lifecycle states and the
// thresholds the admission controller enforces.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueryID uniquely identifies a submitted query. Ids are never reused.
type QueryID string

// QueryDefinition is what the client sent us
type QueryDefinition struct {
	Query     string `json:"query"`
	Group     string `json:"group,omitempty"` // resource group label, display only
	Requestor string `json:"requestor,omitempty"`
}

func (qd QueryDefinition) String() string {
	return fmt.Sprintf("group:%s, req:%s, query:%.40q", qd.Group, qd.Requestor, qd.Query)
}

// Lifecycle state of a query
type QueryState int

const (
	// Waiting in the dispatch queue for the cluster to have capacity
	Queued QueryState = iota

	// Admitted and handed to the execution layer
	Running

	// Completed successfully
	Finished

	// Terminated with an error, either by the execution layer or by the overload enforcer
	Failed

	// Cancelled by a client or operator
	Cancelled
)

var queryStateNames = [...]string{"QUEUED", "RUNNING", "FINISHED", "FAILED", "CANCELLED"}

func (s QueryState) String() string {
	if s < 0 || int(s) >= len(queryStateNames) {
		return fmt.Sprintf("QueryState(%d)", int(s))
	}
	return queryStateNames[s]
}

// Terminal states have no outgoing transitions.
func (s QueryState) IsTerminal() bool {
	return s == Finished || s == Failed || s == Cancelled
}

func ParseQueryState(s string) (QueryState, error) {
	for i, name := range queryStateNames {
		if strings.EqualFold(name, s) {
			return QueryState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown query state %q", s)
}

func (s QueryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *QueryState) UnmarshalText(text []byte) error {
	parsed, err := ParseQueryState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// QueryInfo is a read-only view of a query record.
type QueryInfo struct {
	ID           QueryID         `json:"id"`
	State        QueryState      `json:"state"`
	Definition   QueryDefinition `json:"definition"`
	SubmitTime   time.Time       `json:"submitTime"`
	StartTime    time.Time       `json:"startTime,omitempty"`
	EndTime      time.Time       `json:"endTime,omitempty"`
	RunningTasks int             `json:"runningTasks"`
	ErrorCode    *ErrorCode      `json:"errorCode,omitempty"`
	Message      string          `json:"failureMessage,omitempty"`
}

func (qi QueryInfo) String() string {
	s := fmt.Sprintf("%s %s tasks:%d", qi.ID, qi.State, qi.RunningTasks)
	if qi.ErrorCode != nil {
		s += fmt.Sprintf(" error:%s %q", qi.ErrorCode.Name, qi.Message)
	}
	return s
}

// Decision is the outcome of the admission policy for one query.
type Decision int

const (
	Admit Decision = iota
	Queue
	Kill
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "ADMIT"
	case Queue:
		return "QUEUE"
	case Kill:
		return "KILL"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}
