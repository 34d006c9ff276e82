package server

//go:generate mockgen -source=aggregator.go -package=server -destination=aggregator_mock.go

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/cloud/cluster"
	"github.com/twitter/admission/common/stats"
)

// TaskCounter reports the tasks running on one worker node, keyed by query.
type TaskCounter interface {
	RunningTaskCounts(ctx context.Context) (map[domain.QueryID]int, error)
}

// Function which converts a node to the TaskCounter used to poll it.
type TaskCounterFactory func(node cluster.Node) TaskCounter

const (
	DefaultPollInterval       = 250 * time.Millisecond
	DefaultNodeTimeout        = 100 * time.Millisecond
	DefaultMaxConcurrentPolls = 32
	DefaultNodeBackoffInitial = 500 * time.Millisecond
	DefaultNodeBackoffMax     = 10 * time.Second
)

type AggregatorConfig struct {
	// How often Start polls the cluster.
	PollInterval time.Duration

	// Upper bound on a single node poll.
	NodeTimeout time.Duration

	// Nodes polled in parallel.
	MaxConcurrentPolls int

	// A node failing repeatedly is skipped for an exponentially growing period within these bounds.
	NodeBackoffInitial time.Duration
	NodeBackoffMax     time.Duration
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = DefaultNodeTimeout
	}
	if c.MaxConcurrentPolls <= 0 {
		c.MaxConcurrentPolls = DefaultMaxConcurrentPolls
	}
	if c.NodeBackoffInitial <= 0 {
		c.NodeBackoffInitial = DefaultNodeBackoffInitial
	}
	if c.NodeBackoffMax < c.NodeBackoffInitial {
		c.NodeBackoffMax = DefaultNodeBackoffMax
	}
	return c
}

type nodeState struct {
	node    cluster.Node
	counter TaskCounter

	// last successfully polled counts, carried forward while the node is stale
	counts     map[domain.QueryID]int
	lastPolled time.Time
	stale      bool

	// consecutive failed polls, and when the node may be polled again
	failures int
	backoff  *backoff.ExponentialBackOff
	retryAt  time.Time
}

// ClusterTaskAggregator polls every worker node for its running tasks and publishes
// the result as a TaskCountSnapshot. It never touches query state.
//
// Membership arrives as batches of cluster.NodeUpdate. A node that fails or times out
// keeps contributing its last known counts and is reported stale. A node that keeps
// failing is skipped on an exponential backoff schedule.
type ClusterTaskAggregator struct {
	config        AggregatorConfig
	factory       TaskCounterFactory
	clock         clockwork.Clock
	stat          stats.StatsReceiver
	nodeUpdatesCh chan []cluster.NodeUpdate

	// serializes Poll and guards nodes
	pollMu sync.Mutex
	nodes  map[cluster.NodeId]*nodeState

	filterMu sync.RWMutex
	filter   func(domain.QueryID) bool

	seq        *atomic.Uint64
	latest     *atomic.Pointer[TaskCountSnapshot]
	snapshotCh chan *TaskCountSnapshot

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	doneCh      chan struct{}
}

func NewClusterTaskAggregator(
	nodeUpdatesCh chan []cluster.NodeUpdate,
	factory TaskCounterFactory,
	config AggregatorConfig,
	clock clockwork.Clock,
	stat stats.StatsReceiver,
) *ClusterTaskAggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &ClusterTaskAggregator{
		config:        config.withDefaults(),
		factory:       factory,
		clock:         clock,
		stat:          stat,
		nodeUpdatesCh: nodeUpdatesCh,
		nodes:         make(map[cluster.NodeId]*nodeState),
		seq:           atomic.NewUint64(0),
		latest:        atomic.NewPointer[TaskCountSnapshot](nil),
		snapshotCh:    make(chan *TaskCountSnapshot, 1),
	}
}

// SetQueryFilter installs a predicate deciding which queries count towards a snapshot.
// Tasks of queries rejected by the filter are left out of both the total and the per query map.
func (a *ClusterTaskAggregator) SetQueryFilter(filter func(domain.QueryID) bool) {
	a.filterMu.Lock()
	defer a.filterMu.Unlock()
	a.filter = filter
}

func (a *ClusterTaskAggregator) queryFilter() func(domain.QueryID) bool {
	a.filterMu.RLock()
	defer a.filterMu.RUnlock()
	return a.filter
}

// Latest returns the most recently published snapshot, nil before the first poll.
func (a *ClusterTaskAggregator) Latest() *TaskCountSnapshot {
	return a.latest.Load()
}

// Snapshots delivers published snapshots. Unread snapshots are replaced by newer ones.
func (a *ClusterTaskAggregator) Snapshots() <-chan *TaskCountSnapshot {
	return a.snapshotCh
}

// Start polls the cluster every PollInterval until Stop is called.
func (a *ClusterTaskAggregator) Start() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.doneCh = make(chan struct{})
	go a.loop(ctx, a.doneCh)
}

// Stop ends the poll loop and waits for an in progress poll to return.
func (a *ClusterTaskAggregator) Stop() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.doneCh
	a.cancel = nil
}

func (a *ClusterTaskAggregator) loop(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := a.clock.NewTicker(a.config.PollInterval)
	defer ticker.Stop()
	for {
		a.Poll(ctx)
		select {
		case <-ticker.Chan():
		case <-ctx.Done():
			return
		}
	}
}

// Poll queries every known node once and publishes the resulting snapshot.
// It returns within roughly NodeTimeout regardless of how nodes behave.
func (a *ClusterTaskAggregator) Poll(ctx context.Context) *TaskCountSnapshot {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	defer a.stat.Latency(stats.AggregatorPollLatency_ms).Time().Stop()

	a.updateNodes()
	captured := a.clock.Now()

	polled := []*nodeState{}
	for _, ns := range a.sortedNodes() {
		if captured.Before(ns.retryAt) {
			ns.stale = true
			a.stat.Counter(stats.AggregatorNodeBackoffCounter).Inc(1)
			continue
		}
		polled = append(polled, ns)
	}

	type reply struct {
		counts map[domain.QueryID]int
		err    error
	}
	replies := make([]reply, len(polled))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.MaxConcurrentPolls)
	for i, ns := range polled {
		i, ns := i, ns
		g.Go(func() error {
			replies[i].counts, replies[i].err = a.pollNode(gctx, ns)
			// node failures are folded into the snapshot, they never cancel sibling polls
			return nil
		})
	}
	_ = g.Wait()

	var pollErrs error
	for i, ns := range polled {
		if err := replies[i].err; err != nil {
			pollErrs = multierror.Append(pollErrs, errors.Wrapf(err, "node %s", ns.node.Id()))
			a.markFailed(ns, captured)
		} else {
			a.markPolled(ns, replies[i].counts, captured)
		}
	}

	snapshot := a.aggregate(captured)
	a.publish(snapshot)

	if pollErrs != nil {
		errs := pollErrs.(*multierror.Error)
		a.stat.Counter(stats.AggregatorNodePollErrCounter).Inc(int64(len(errs.Errors)))
		log.WithFields(
			log.Fields{
				"seq":    snapshot.Seq,
				"failed": len(errs.Errors),
				"stale":  len(snapshot.StaleNodes),
				"err":    errs.ErrorOrNil(),
			}).Warn("Node polls failed, carrying forward last known counts")
	}
	log.WithFields(
		log.Fields{
			"seq":     snapshot.Seq,
			"total":   snapshot.Total,
			"queries": len(snapshot.PerQuery),
		}).Debug("Published task count snapshot")
	return snapshot
}

// Drains pending membership changes without blocking.
func (a *ClusterTaskAggregator) updateNodes() {
	if a.nodeUpdatesCh == nil {
		return
	}
	for i := 0; i < cluster.DefaultClusterChanSize; i++ {
		select {
		case updates := <-a.nodeUpdatesCh:
			for _, u := range updates {
				switch u.UpdateType {
				case cluster.NodeAdded:
					if _, ok := a.nodes[u.Id]; ok {
						continue
					}
					a.nodes[u.Id] = &nodeState{node: u.Node, counter: a.factory(u.Node)}
					log.WithFields(log.Fields{"node": u.Id}).Info("Polling new node")
				case cluster.NodeRemoved:
					delete(a.nodes, u.Id)
					log.WithFields(log.Fields{"node": u.Id}).Info("Stopped polling removed node")
				}
			}
		default:
			a.stat.Gauge(stats.AggregatorNodesGauge).Update(int64(len(a.nodes)))
			return
		}
	}
	a.stat.Gauge(stats.AggregatorNodesGauge).Update(int64(len(a.nodes)))
}

func (a *ClusterTaskAggregator) sortedNodes() []*nodeState {
	ids := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	r := make([]*nodeState, 0, len(ids))
	for _, id := range ids {
		r = append(r, a.nodes[cluster.NodeId(id)])
	}
	return r
}

// pollNode bounds a single poll by NodeTimeout even if the counter ignores its context.
func (a *ClusterTaskAggregator) pollNode(ctx context.Context, ns *nodeState) (map[domain.QueryID]int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.NodeTimeout)
	defer cancel()
	type reply struct {
		counts map[domain.QueryID]int
		err    error
	}
	replyCh := make(chan reply, 1)
	go func() {
		counts, err := ns.counter.RunningTaskCounts(ctx)
		replyCh <- reply{counts, err}
	}()
	select {
	case r := <-replyCh:
		return r.counts, r.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "poll timed out")
	}
}

func (a *ClusterTaskAggregator) markPolled(ns *nodeState, counts map[domain.QueryID]int, now time.Time) {
	if ns.failures > 0 {
		log.WithFields(
			log.Fields{
				"node":     ns.node.Id(),
				"failures": ns.failures,
			}).Info("Node recovered")
	}
	ns.counts = counts
	ns.lastPolled = now
	ns.stale = false
	ns.failures = 0
	ns.retryAt = time.Time{}
	if ns.backoff != nil {
		ns.backoff.Reset()
	}
}

// The first failure is retried on the next poll, later ones wait out the backoff.
func (a *ClusterTaskAggregator) markFailed(ns *nodeState, now time.Time) {
	ns.stale = true
	ns.failures++
	if ns.failures < 2 {
		return
	}
	if ns.backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = a.config.NodeBackoffInitial
		b.MaxInterval = a.config.NodeBackoffMax
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Clock = a.clock
		b.Reset()
		ns.backoff = b
	}
	ns.retryAt = now.Add(ns.backoff.NextBackOff())
}

func (a *ClusterTaskAggregator) aggregate(captured time.Time) *TaskCountSnapshot {
	filter := a.queryFilter()
	snapshot := &TaskCountSnapshot{
		Captured:  captured,
		PerQuery:  make(map[domain.QueryID]int),
		NodeTasks: make(map[cluster.NodeId]int, len(a.nodes)),
	}
	for _, ns := range a.sortedNodes() {
		if ns.stale {
			snapshot.StaleNodes = append(snapshot.StaleNodes, ns.node.Id())
		}
		nodeTotal := 0
		var dropped []domain.QueryID
		for id, n := range ns.counts {
			if filter != nil && !filter(id) {
				dropped = append(dropped, id)
				continue
			}
			if n <= 0 {
				continue
			}
			snapshot.PerQuery[id] += n
			nodeTotal += n
		}
		if len(dropped) > 0 {
			ns.counts = withoutQueries(ns.counts, dropped)
		}
		snapshot.NodeTasks[ns.node.Id()] = nodeTotal
		snapshot.Total += nodeTotal
	}
	return snapshot
}

// A query rejected by the filter once stays out of a node's carried forward counts,
// even after the tracker has forgotten it.
func withoutQueries(counts map[domain.QueryID]int, ids []domain.QueryID) map[domain.QueryID]int {
	r := make(map[domain.QueryID]int, len(counts))
	for id, n := range counts {
		r[id] = n
	}
	for _, id := range ids {
		delete(r, id)
	}
	return r
}

// publish swaps in the new snapshot and replaces any unread one on the channel.
func (a *ClusterTaskAggregator) publish(snapshot *TaskCountSnapshot) {
	snapshot.Seq = a.seq.Inc()
	a.latest.Store(snapshot)
	select {
	case <-a.snapshotCh:
	default:
	}
	select {
	case a.snapshotCh <- snapshot:
	default:
	}
	a.stat.Counter(stats.AggregatorSnapshotCounter).Inc(1)
	a.stat.Gauge(stats.AggregatorStaleNodesGauge).Update(int64(len(snapshot.StaleNodes)))
	a.stat.Gauge(stats.AggregatorClusterRunningTasksGauge).Update(int64(snapshot.Total))
}
