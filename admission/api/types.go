package api

import (
	"time"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/cloud/cluster"
)

// Wire types of the operator API. Query records are sent as domain.QueryInfo.

type SubmitResponse struct {
	ID domain.QueryID `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ThresholdsView struct {
	MaxQueryRunningTaskCount                     int `json:"maxQueryRunningTaskCount"`
	MaxTotalRunningTaskCountToKillQuery          int `json:"maxTotalRunningTaskCountToKillQuery"`
	MaxTotalRunningTaskCountToNotExecuteNewQuery int `json:"maxTotalRunningTaskCountToNotExecuteNewQuery"`
}

type SnapshotView struct {
	Seq        uint64                 `json:"seq"`
	Captured   time.Time              `json:"captured"`
	Total      int                    `json:"totalRunningTasks"`
	PerQuery   map[domain.QueryID]int `json:"perQuery"`
	NodeTasks  map[cluster.NodeId]int `json:"nodeTasks"`
	StaleNodes []cluster.NodeId       `json:"staleNodes,omitempty"`
}

type QueuedQuery struct {
	ID         domain.QueryID `json:"id"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// ClusterStatus is the controller's current view of the cluster.
type ClusterStatus struct {
	Thresholds ThresholdsView `json:"thresholds"`
	Snapshot   *SnapshotView  `json:"snapshot,omitempty"`
	Queued     []QueuedQuery  `json:"queued"`
}

func makeThresholdsView(t domain.Thresholds) ThresholdsView {
	return ThresholdsView{
		MaxQueryRunningTaskCount:                     t.MaxQueryRunningTaskCount,
		MaxTotalRunningTaskCountToKillQuery:          t.MaxTotalRunningTaskCountToKillQuery,
		MaxTotalRunningTaskCountToNotExecuteNewQuery: t.MaxTotalRunningTaskCountToNotExecuteNewQuery,
	}
}

func makeSnapshotView(s *server.TaskCountSnapshot) *SnapshotView {
	if s == nil {
		return nil
	}
	return &SnapshotView{
		Seq:        s.Seq,
		Captured:   s.Captured,
		Total:      s.Total,
		PerQuery:   s.PerQuery,
		NodeTasks:  s.NodeTasks,
		StaleNodes: s.StaleNodes,
	}
}

func makeQueuedQueries(entries []server.DispatchQueueEntry) []QueuedQuery {
	r := make([]QueuedQuery, len(entries))
	for i, e := range entries {
		r[i] = QueuedQuery{ID: e.ID, EnqueuedAt: e.EnqueuedAt}
	}
	return r
}
