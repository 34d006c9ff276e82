package server

import (
	"github.com/twitter/admission/admission/domain"
)

// Decide is the admission policy. It is a pure function of its arguments:
//  1. a QUEUED query stays queued while the cluster total is at or above the not-execute cap.
//  2. a RUNNING query is killed while the cluster total is at or above the kill cap,
//     or while its own task count exceeds the per-query cap.
//  3. anything else is admitted.
//
// A cap of zero is disabled. The two kill conditions are independent, either one suffices.
// Without a snapshot nothing is known to be overloaded, so the query is admitted.
func Decide(snapshot *TaskCountSnapshot, thresholds domain.Thresholds, id domain.QueryID, state domain.QueryState) domain.Decision {
	if snapshot == nil {
		return domain.Admit
	}
	switch state {
	case domain.Queued:
		if enabled(thresholds.MaxTotalRunningTaskCountToNotExecuteNewQuery) &&
			snapshot.Total >= thresholds.MaxTotalRunningTaskCountToNotExecuteNewQuery {
			return domain.Queue
		}
	case domain.Running:
		if enabled(thresholds.MaxTotalRunningTaskCountToKillQuery) &&
			snapshot.Total >= thresholds.MaxTotalRunningTaskCountToKillQuery {
			return domain.Kill
		}
		if enabled(thresholds.MaxQueryRunningTaskCount) &&
			snapshot.Tasks(id) > thresholds.MaxQueryRunningTaskCount {
			return domain.Kill
		}
	}
	return domain.Admit
}

func enabled(threshold int) bool {
	return threshold > 0
}
