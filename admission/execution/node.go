package execution

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/cloud/cluster"
)

// SimNode is an in-memory worker. It holds the tasks placed on it by SimExecutor
// and reports them like a real worker's task endpoint would.
type SimNode struct {
	id    cluster.NodeId
	clock clockwork.Clock

	mu    sync.Mutex
	tasks map[domain.QueryID]int

	// fault injection
	delay   time.Duration
	failErr error
}

func newSimNode(id cluster.NodeId, clock clockwork.Clock) *SimNode {
	return &SimNode{
		id:    id,
		clock: clock,
		tasks: make(map[domain.QueryID]int),
	}
}

func (n *SimNode) Id() cluster.NodeId {
	return n.id
}

func (n *SimNode) Status() string {
	return "sim://" + string(n.id)
}

func (n *SimNode) String() string {
	return string(n.id)
}

// RunningTaskCounts returns a copy of the node's tasks, after the injected delay or error.
func (n *SimNode) RunningTaskCounts(ctx context.Context) (map[domain.QueryID]int, error) {
	n.mu.Lock()
	delay, failErr := n.delay, n.failErr
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-n.clock.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	counts := make(map[domain.QueryID]int, len(n.tasks))
	for id, c := range n.tasks {
		counts[id] = c
	}
	return counts, nil
}

// SetDelay makes every later poll take d before answering.
func (n *SimNode) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// SetFailure makes every later poll fail with err, nil heals the node.
func (n *SimNode) SetFailure(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failErr = err
}

// NumTasks is the number of tasks on the node, across queries.
func (n *SimNode) NumTasks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.tasks {
		total += c
	}
	return total
}

func (n *SimNode) addTask(id domain.QueryID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks[id]++
}

func (n *SimNode) removeTasks(id domain.QueryID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := n.tasks[id]
	delete(n.tasks, id)
	return removed
}

// counter for a node that left the simulation before the aggregator noticed
type unreachableCounter cluster.NodeId

func (u unreachableCounter) RunningTaskCounts(ctx context.Context) (map[domain.QueryID]int, error) {
	return nil, errors.Errorf("node %s is unreachable", string(u))
}
