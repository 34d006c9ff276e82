// Package cluster tracks the worker nodes that make up the query cluster and
// publishes membership changes as batches of NodeUpdates.
package cluster

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const DefaultClusterChanSize = 100

// Cluster owns the current membership view. Membership is refreshed from a Fetcher
// on a fixed interval or changed explicitly through Update. Every change is sent on
// the channel returned by Updates.
type Cluster struct {
	mu       sync.Mutex
	state    *state
	updateCh chan []NodeUpdate
	cron     *fetchCron
}

// NewCluster creates a cluster seeded with initial nodes. The seed is published as the first
// batch of adds. If f is non-nil the membership is refetched every interval until Close.
func NewCluster(initial []Node, f Fetcher, interval time.Duration, clock clockwork.Clock, chanSize int) *Cluster {
	if chanSize <= 0 {
		chanSize = DefaultClusterChanSize
	}
	c := &Cluster{
		state:    makeState(),
		updateCh: make(chan []NodeUpdate, chanSize),
	}
	if len(initial) > 0 {
		c.publish(c.state.setAndDiff(initial))
	}
	if f != nil {
		if clock == nil {
			clock = clockwork.NewRealClock()
		}
		c.cron = startFetchCron(f, clock.NewTicker(interval), c.setNodes)
	}
	return c
}

// Updates is the channel consumers drain to learn about added and removed nodes.
func (c *Cluster) Updates() chan []NodeUpdate {
	return c.updateCh
}

// Members returns the current members sorted by id.
func (c *Cluster) Members() []Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.members()
}

// Update applies explicit adds and removes, e.g. from an operator.
func (c *Cluster) Update(updates []NodeUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(c.state.filterAndUpdate(updates))
}

// Close stops refetching membership. The updates channel stays open.
func (c *Cluster) Close() error {
	if c.cron != nil {
		c.cron.stop()
	}
	return nil
}

func (c *Cluster) setNodes(nodes []Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(c.state.setAndDiff(nodes))
}

// Must be called with mu held. Drops the batch if the consumer has fallen chanSize batches behind.
func (c *Cluster) publish(updates []NodeUpdate) {
	if len(updates) == 0 {
		return
	}
	select {
	case c.updateCh <- updates:
	default:
		log.Errorf("Cluster update channel full, dropping %d node updates", len(updates))
	}
}
