package execution

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/cloud/cluster"
)

// SimCluster is a set of SimNodes. It is both the membership source for a
// cluster.Cluster (as a Fetcher) and the TaskCounter source for the aggregator.
type SimCluster struct {
	mu    sync.RWMutex
	nodes map[cluster.NodeId]*SimNode
	clock clockwork.Clock
}

// NewSimCluster creates a cluster with nodes node1..nodeN.
func NewSimCluster(numNodes int, clock clockwork.Clock) *SimCluster {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &SimCluster{
		nodes: make(map[cluster.NodeId]*SimNode),
		clock: clock,
	}
	for i := 0; i < numNodes; i++ {
		c.AddNode(cluster.NodeId(fmt.Sprintf("node%d", i+1)))
	}
	return c
}

// AddNode adds an empty node, or returns the existing one with that id.
func (c *SimCluster) AddNode(id cluster.NodeId) *SimNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[id]; ok {
		return n
	}
	n := newSimNode(id, c.clock)
	c.nodes[id] = n
	return n
}

// RemoveNode drops a node along with every task on it, like a lost worker.
func (c *SimCluster) RemoveNode(id cluster.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
	log.WithFields(log.Fields{"node": id}).Info("Removed simulated node")
}

func (c *SimCluster) Node(id cluster.NodeId) (*SimNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns every node sorted by id.
func (c *SimCluster) Nodes() []*SimNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := make([]*SimNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		r = append(r, n)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].id < r[j].id })
	return r
}

// Fetch implements cluster.Fetcher.
func (c *SimCluster) Fetch() ([]cluster.Node, error) {
	nodes := c.Nodes()
	r := make([]cluster.Node, len(nodes))
	for i, n := range nodes {
		r[i] = n
	}
	return r, nil
}

// NumTasks is the number of tasks across all nodes.
func (c *SimCluster) NumTasks() int {
	total := 0
	for _, n := range c.Nodes() {
		total += n.NumTasks()
	}
	return total
}

// CounterFactory hands the aggregator the SimNode behind each cluster node.
// Nodes that were removed in the meantime count as unreachable.
func (c *SimCluster) CounterFactory() server.TaskCounterFactory {
	return func(node cluster.Node) server.TaskCounter {
		if n, ok := node.(*SimNode); ok {
			return n
		}
		n, ok := c.Node(node.Id())
		if !ok {
			return unreachableCounter(node.Id())
		}
		return n
	}
}

// placeTask puts one task of the query on the least loaded node and returns it.
func (c *SimCluster) placeTask(id domain.QueryID) (*SimNode, bool) {
	var target *SimNode
	least := 0
	for _, n := range c.Nodes() {
		if tasks := n.NumTasks(); target == nil || tasks < least {
			target, least = n, tasks
		}
	}
	if target == nil {
		return nil, false
	}
	target.addTask(id)
	return target, true
}

// removeTasks drops every task of the query from the nodes that are still around.
func (c *SimCluster) removeTasks(id domain.QueryID) int {
	removed := 0
	for _, n := range c.Nodes() {
		removed += n.removeTasks(id)
	}
	return removed
}
