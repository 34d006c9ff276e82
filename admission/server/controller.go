package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/async"
	"github.com/twitter/admission/common/stats"
)

const (
	DefaultTickRate      = 250 * time.Millisecond
	DefaultStartTimeout  = 10 * time.Second
	DefaultCancelTimeout = 10 * time.Second
)

// Used to set the level for this package's logging when running tests.
func init() {
	if loglevel := os.Getenv("ADMISSION_LOGLEVEL"); loglevel != "" {
		level, err := log.ParseLevel(loglevel)
		if err != nil {
			log.Error(err)
			return
		}
		log.SetLevel(level)
	} else {
		log.SetLevel(log.ErrorLevel)
	}
}

type ControllerConfig struct {
	Thresholds domain.Thresholds

	// Bounds on execution layer commands.
	StartTimeout     time.Duration
	CancelTimeout    time.Duration
	TerminateTimeout time.Duration

	// Terminal queries kept around for Info and List.
	HistorySize int

	// Longest the loop sleeps when nothing happens.
	TickRate time.Duration

	// When true the loop is not started, tests advance it by calling step().
	DebugMode bool
}

func (c ControllerConfig) String() string {
	return fmt.Sprintf("thresholds:{%s} start:%s cancel:%s terminate:%s history:%d tick:%s",
		c.Thresholds, c.StartTimeout, c.CancelTimeout, c.TerminateTimeout, c.HistorySize, c.TickRate)
}

// SnapshotSource publishes task count snapshots, ClusterTaskAggregator in production.
type SnapshotSource interface {
	Latest() *TaskCountSnapshot
	Snapshots() <-chan *TaskCountSnapshot
	SetQueryFilter(func(domain.QueryID) bool)
}

// Controller wires the admission components together and is the entry point for
// clients, operators and the execution layer.
//
// Controller Concurrency: the controller runs a loop in its own go routine. Every
// step it applies the newest snapshot (refresh counts, enforce, dispatch, prune).
// The loop also wakes up right away on submissions and on any query reaching a
// terminal state, so a freed slot is handed to the queue head without waiting
// for the next snapshot.
//
// Submit, Cancel, QueryFinished and QueryFailed may be called from any go routine,
// they go straight to the tracker and the queue which do their own locking.
// The enforcer and the async runner belong to the loop.
type Controller struct {
	config     ControllerConfig
	thresholds *atomic.Pointer[domain.Thresholds]

	tracker     *QueryLifecycleTracker
	queue       *DispatchQueue
	enforcer    *OverloadEnforcer
	snapshots   SnapshotSource
	executor    QueryExecutor
	asyncRunner async.Runner

	// queries that reached a terminal state after the latest snapshot was captured,
	// with the time they did
	freedMu sync.Mutex
	freed   map[domain.QueryID]time.Time
	lastSeq uint64

	wakeCh   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	clock clockwork.Clock
	stat  stats.StatsReceiver
}

// NewController creates a controller fed by snapshots and driving executor.
// Unless config.DebugMode is set the control loop starts immediately.
func NewController(
	config ControllerConfig,
	snapshots SnapshotSource,
	executor QueryExecutor,
	clock clockwork.Clock,
	stat stats.StatsReceiver,
) (*Controller, error) {
	if err := config.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultStartTimeout
	}
	if config.CancelTimeout <= 0 {
		config.CancelTimeout = DefaultCancelTimeout
	}
	if config.TerminateTimeout <= 0 {
		config.TerminateTimeout = DefaultTerminateTimeout
	}
	if config.TickRate <= 0 {
		config.TickRate = DefaultTickRate
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}

	tracker, err := NewQueryLifecycleTracker(config.HistorySize, clock, stat)
	if err != nil {
		return nil, err
	}
	thresholds := config.Thresholds
	c := &Controller{
		config:      config,
		thresholds:  atomic.NewPointer(&thresholds),
		tracker:     tracker,
		queue:       NewDispatchQueue(clock),
		enforcer:    NewOverloadEnforcer(tracker, executor, config.TerminateTimeout, clock, stat),
		snapshots:   snapshots,
		executor:    executor,
		asyncRunner: async.NewRunner(clock),
		freed:       make(map[domain.QueryID]time.Time),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		clock:       clock,
		stat:        stat,
	}
	tracker.AddListener(c.onTransition)
	snapshots.SetQueryFilter(func(id domain.QueryID) bool {
		return !tracker.IsTerminal(id)
	})

	log.Infof("Created admission controller: %s", config)
	if !config.DebugMode {
		go stats.StartUptimeReporting(stat, stats.ControllerUptime_ms, stats.StatReportIntvl, c.stopCh)
		go c.loop()
	} else {
		close(c.doneCh)
	}
	return c, nil
}

// Stop ends the control loop. Queries keep their current state.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Controller) Thresholds() domain.Thresholds {
	return *c.thresholds.Load()
}

// SetThresholds swaps the thresholds used from the next step on.
func (c *Controller) SetThresholds(t domain.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.thresholds.Store(&t)
	log.Infof("Admission thresholds changed: %s", t)
	c.wake()
	return nil
}

// Submit registers a new query in QUEUED and returns its id. The query starts
// running once the dispatcher admits it.
func (c *Controller) Submit(def domain.QueryDefinition) (domain.QueryID, error) {
	if def.Query == "" {
		return "", errors.New("query text is empty")
	}
	id := c.tracker.Submit(def)
	c.queue.Enqueue(id)
	c.stat.Counter(stats.ControllerSubmitCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID":   id,
			"group":     def.Group,
			"requestor": def.Requestor,
		}).Info("Query submitted")
	c.wake()
	return id, nil
}

// Cancel moves a queued or running query to CANCELLED right away. Tearing down a
// running query happens in the background.
func (c *Controller) Cancel(id domain.QueryID) error {
	from, err := c.tracker.Transition(id, domain.Cancelled, nil, "")
	if err != nil {
		return err
	}
	c.stat.Counter(stats.ControllerCancelCounter).Inc(1)
	switch from {
	case domain.Queued:
		c.queue.Remove(id)
	case domain.Running:
		go c.cancelExecution(id)
	}
	return nil
}

// QueryFinished is called by the execution layer when a query completes.
func (c *Controller) QueryFinished(id domain.QueryID) error {
	if _, err := c.tracker.Transition(id, domain.Finished, nil, ""); err != nil {
		return err
	}
	c.stat.Counter(stats.ControllerFinishedCounter).Inc(1)
	return nil
}

// QueryFailed is called by the execution layer when a query fails on its own.
func (c *Controller) QueryFailed(id domain.QueryID, code domain.ErrorCode, message string) error {
	if _, err := c.tracker.Transition(id, domain.Failed, &code, message); err != nil {
		return err
	}
	c.stat.Counter(stats.ControllerFailedCounter).Inc(1)
	return nil
}

func (c *Controller) Info(id domain.QueryID) (domain.QueryInfo, error) {
	return c.tracker.Get(id)
}

func (c *Controller) List() []domain.QueryInfo {
	return c.tracker.List()
}

// QueuedQueries lists the dispatch queue, head first.
func (c *Controller) QueuedQueries() []DispatchQueueEntry {
	return c.queue.Snapshot()
}

// LatestSnapshot is the newest snapshot the controller can see, nil before the first poll.
func (c *Controller) LatestSnapshot() *TaskCountSnapshot {
	return c.snapshots.Latest()
}

// Await blocks until the query is terminal. It returns nil for FINISHED, a *domain.QueryError
// for FAILED and domain.ErrQueryCancelled for CANCELLED.
func (c *Controller) Await(ctx context.Context, id domain.QueryID) error {
	info, err := c.tracker.WaitForState(ctx, id, domain.Finished, domain.Failed, domain.Cancelled)
	if err != nil {
		return err
	}
	switch info.State {
	case domain.Failed:
		qe := &domain.QueryError{ID: id, Message: info.Message}
		if info.ErrorCode != nil {
			qe.Code = *info.ErrorCode
		}
		return qe
	case domain.Cancelled:
		return domain.ErrQueryCancelled
	}
	return nil
}

func (c *Controller) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// onTransition runs on whichever go routine applied the transition.
func (c *Controller) onTransition(info domain.QueryInfo, from domain.QueryState) {
	if !info.State.IsTerminal() {
		return
	}
	if from == domain.Running {
		c.freedMu.Lock()
		c.freed[info.ID] = info.EndTime
		c.freedMu.Unlock()
	}
	c.wake()
}

// run the controller loop indefinitely in its own go routine.
// no logic other than looping lives here so tests can drive step() directly
func (c *Controller) loop() {
	defer close(c.doneCh)
	ticker := c.clock.NewTicker(c.config.TickRate)
	defer ticker.Stop()
	for {
		c.step()
		select {
		case <-c.snapshots.Snapshots():
		case <-c.wakeCh:
		case <-c.asyncRunner.Notify():
		case <-c.enforcer.Notify():
		case <-ticker.Chan():
		case <-c.stopCh:
			return
		}
	}
}

// run one loop iteration
func (c *Controller) step() {
	defer c.stat.Latency(stats.ControllerStepLatency_ms).Time().Stop()

	// callbacks of finished start and terminate commands
	c.asyncRunner.ProcessMessages()
	c.enforcer.ProcessMessages()

	if snapshot := c.snapshots.Latest(); snapshot != nil && snapshot.Seq != c.lastSeq {
		c.lastSeq = snapshot.Seq
		c.expireFreed(snapshot)
		c.tracker.UpdateRunningTasks(snapshot)
		c.enforcer.Enforce(c.effectiveSnapshot(), c.Thresholds())
	}
	c.dispatch()

	if pruned := c.tracker.Prune(); len(pruned) > 0 {
		c.enforcer.Forget(pruned)
	}
	c.updateStats()
}

// effectiveSnapshot is the latest snapshot minus the tasks of queries that ended after it was captured.
func (c *Controller) effectiveSnapshot() *TaskCountSnapshot {
	snapshot := c.snapshots.Latest()
	c.freedMu.Lock()
	ids := make([]domain.QueryID, 0, len(c.freed))
	for id := range c.freed {
		ids = append(ids, id)
	}
	c.freedMu.Unlock()
	return snapshot.Without(ids)
}

// A freed query stops mattering once a snapshot was captured after it ended
// (the aggregator's filter drops it), or once a snapshot no longer reports it.
func (c *Controller) expireFreed(snapshot *TaskCountSnapshot) {
	c.freedMu.Lock()
	defer c.freedMu.Unlock()
	for id, ended := range c.freed {
		if _, reported := snapshot.PerQuery[id]; !reported || ended.Before(snapshot.Captured) {
			delete(c.freed, id)
		}
	}
}

// dispatch admits queue heads in order until the policy says to wait.
// The head blocks everything behind it, the queue is never reordered.
func (c *Controller) dispatch() {
	snapshot := c.effectiveSnapshot()
	thresholds := c.Thresholds()
	for {
		head, ok := c.queue.PeekHead()
		if !ok {
			return
		}
		if state, ok := c.tracker.State(head.ID); !ok || state != domain.Queued {
			// cancelled between the transition and its removal from the queue
			c.queue.Remove(head.ID)
			continue
		}
		if decision := Decide(snapshot, thresholds, head.ID, domain.Queued); decision != domain.Admit {
			log.WithFields(
				log.Fields{
					"queryID":  head.ID,
					"decision": decision,
					"total":    snapshot.Total,
					"queued":   c.queue.Len(),
				}).Debug("Cluster busy, holding queue")
			return
		}
		if !c.queue.ReleaseIfHead(head.ID) {
			continue
		}
		if _, err := c.tracker.Transition(head.ID, domain.Running, nil, ""); err != nil {
			continue
		}
		c.startQuery(head.ID)
	}
}

func (c *Controller) startQuery(id domain.QueryID) {
	info, err := c.tracker.Get(id)
	if err != nil {
		return
	}
	c.stat.Counter(stats.ControllerAdmitCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID":  id,
			"decision": domain.Admit,
			"waited":   c.clock.Since(info.SubmitTime),
		}).Info("Admitting query")

	c.asyncRunner.RunAsyncTimeout(c.config.StartTimeout,
		func(ctx context.Context) error {
			return c.executor.Start(ctx, id, info.Definition)
		},
		func(err error) {
			if err == nil {
				return
			}
			c.stat.Counter(stats.ControllerStartErrCounter).Inc(1)
			log.WithFields(
				log.Fields{
					"queryID": id,
					"err":     err,
				}).Error("Execution layer failed to start query")
			code := domain.GenericInternalError
			if _, terr := c.tracker.Transition(id, domain.Failed, &code, "failed to start query: "+err.Error()); terr == nil {
				go c.cancelExecution(id)
			}
		})
}

func (c *Controller) cancelExecution(id domain.QueryID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.CancelTimeout)
	defer cancel()
	if err := c.executor.Cancel(ctx, id); err != nil {
		log.WithFields(
			log.Fields{
				"queryID": id,
				"err":     err,
			}).Warn("Execution layer failed to cancel query")
	}
}

func (c *Controller) updateStats() {
	c.stat.Gauge(stats.ControllerQueuedQueriesGauge).Update(int64(c.queue.Len()))
	c.stat.Gauge(stats.ControllerRunningQueriesGauge).Update(int64(len(c.tracker.InState(domain.Running))))
}
