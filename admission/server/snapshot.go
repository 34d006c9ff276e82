package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/cloud/cluster"
)

// TaskCountSnapshot is an immutable point-in-time aggregate of running tasks.
// Snapshots are superseded by later ones, never merged.
type TaskCountSnapshot struct {
	// Strictly increasing per aggregator.
	Seq uint64

	// When the poll that produced this snapshot started.
	Captured time.Time

	// Running tasks across the cluster, excluding queries known to be terminal.
	Total int

	// Running tasks per non-terminal query. Absent ids run no tasks.
	PerQuery map[domain.QueryID]int

	// Nodes whose counts were carried forward from an earlier poll.
	StaleNodes []cluster.NodeId

	// Running tasks per node, stale nodes report their carried forward counts.
	NodeTasks map[cluster.NodeId]int
}

// Tasks returns the number of running tasks for a query, 0 if it has none.
func (s *TaskCountSnapshot) Tasks(id domain.QueryID) int {
	if s == nil {
		return 0
	}
	return s.PerQuery[id]
}

func (s *TaskCountSnapshot) IsStale(node cluster.NodeId) bool {
	if s == nil {
		return false
	}
	i := sort.Search(len(s.StaleNodes), func(i int) bool { return s.StaleNodes[i] >= node })
	return i < len(s.StaleNodes) && s.StaleNodes[i] == node
}

// Without returns a derived snapshot whose totals exclude the given queries.
// The receiver is left untouched, the result keeps its sequence number.
func (s *TaskCountSnapshot) Without(ids []domain.QueryID) *TaskCountSnapshot {
	if s == nil || len(ids) == 0 {
		return s
	}
	derived := *s
	derived.PerQuery = make(map[domain.QueryID]int, len(s.PerQuery))
	for id, n := range s.PerQuery {
		derived.PerQuery[id] = n
	}
	for _, id := range ids {
		derived.Total -= derived.PerQuery[id]
		delete(derived.PerQuery, id)
	}
	if derived.Total < 0 {
		derived.Total = 0
	}
	return &derived
}

func (s *TaskCountSnapshot) String() string {
	if s == nil {
		return "<no snapshot>"
	}
	return fmt.Sprintf("seq:%d total:%d queries:%d nodes:%d stale:%v",
		s.Seq, s.Total, len(s.PerQuery), len(s.NodeTasks), s.StaleNodes)
}

// Dump renders every field, for debug logging.
func (s *TaskCountSnapshot) Dump() string {
	return spew.Sdump(s)
}
