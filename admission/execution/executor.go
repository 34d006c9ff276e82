package execution

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/admission/server"
	"github.com/twitter/admission/common/stats"
)

const DefaultTeardownDelay = 100 * time.Millisecond

// Reporter receives the outcome of queries that end on their own. *server.Controller implements it.
type Reporter interface {
	QueryFinished(id domain.QueryID) error
	QueryFailed(id domain.QueryID, code domain.ErrorCode, message string) error
}

type stopReason int

const (
	notStopped stopReason = iota
	cancelled
	terminated
)

type simQuery struct {
	id   domain.QueryID
	plan Plan

	stopOnce sync.Once
	stopCh   chan struct{}
	reason   stopReason

	// closed once every task of the query is gone
	doneCh chan struct{}
}

func (q *simQuery) stop(reason stopReason) {
	q.stopOnce.Do(func() {
		q.reason = reason
		close(q.stopCh)
	})
}

// SimExecutor runs queries on a SimCluster. A started query places its tasks one
// by one, runs for a while and then reports back to the Reporter. Cancel and
// Terminate tear a query down in the background, its tasks stay visible on the
// nodes until the teardown delay has passed.
type SimExecutor struct {
	cluster       *SimCluster
	planner       TaskPlanner
	teardownDelay time.Duration
	clock         clockwork.Clock
	stat          stats.StatsReceiver

	mu       sync.Mutex
	reporter Reporter
	queries  map[domain.QueryID]*simQuery
}

var _ server.QueryExecutor = (*SimExecutor)(nil)

func NewSimExecutor(
	cluster *SimCluster,
	planner TaskPlanner,
	teardownDelay time.Duration,
	clock clockwork.Clock,
	stat stats.StatsReceiver,
) *SimExecutor {
	if planner == nil {
		planner = NewDirectivePlanner(Plan{Tasks: 1, RunTime: time.Second})
	}
	if teardownDelay < 0 {
		teardownDelay = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &SimExecutor{
		cluster:       cluster,
		planner:       planner,
		teardownDelay: teardownDelay,
		clock:         clock,
		stat:          stat,
		queries:       make(map[domain.QueryID]*simQuery),
	}
}

// SetReporter wires the executor back to the controller, which is created after the executor.
func (e *SimExecutor) SetReporter(r Reporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reporter = r
}

func (e *SimExecutor) Start(ctx context.Context, id domain.QueryID, def domain.QueryDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plan, err := e.planner(def)
	if err != nil {
		return errors.Wrapf(err, "planning query %s", id)
	}
	if plan.StartError != "" {
		return errors.New(plan.StartError)
	}

	q := &simQuery{
		id:     id,
		plan:   plan,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.mu.Lock()
	if _, ok := e.queries[id]; ok {
		e.mu.Unlock()
		return errors.Errorf("query %s is already running", id)
	}
	e.queries[id] = q
	e.stat.Gauge(stats.SimRunningQueriesGauge).Update(int64(len(e.queries)))
	e.mu.Unlock()

	e.stat.Counter(stats.SimQueriesStartedCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID": id,
			"tasks":   plan.Tasks,
			"ramp":    plan.RampInterval,
			"run":     plan.RunTime,
		}).Debug("Starting simulated query")
	go e.run(q)
	return nil
}

// Cancel returns right away, the teardown completes in the background.
func (e *SimExecutor) Cancel(ctx context.Context, id domain.QueryID) error {
	if q, ok := e.lookup(id); ok {
		q.stop(cancelled)
	}
	return nil
}

// Terminate stops the query and waits for its tasks to be gone, or for ctx to expire.
func (e *SimExecutor) Terminate(ctx context.Context, id domain.QueryID, code domain.ErrorCode) error {
	q, ok := e.lookup(id)
	if !ok {
		return nil
	}
	q.stop(terminated)
	log.WithFields(
		log.Fields{
			"queryID": id,
			"code":    code,
		}).Debug("Terminating simulated query")
	select {
	case <-q.doneCh:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "terminating query %s", id)
	}
}

// Running is the number of queries with tasks in the cluster, including ones being torn down.
func (e *SimExecutor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

func (e *SimExecutor) lookup(id domain.QueryID) (*simQuery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.queries[id]
	return q, ok
}

func (e *SimExecutor) forget(q *simQuery) {
	e.mu.Lock()
	delete(e.queries, q.id)
	e.stat.Gauge(stats.SimRunningQueriesGauge).Update(int64(len(e.queries)))
	e.mu.Unlock()
	close(q.doneCh)
}

func (e *SimExecutor) run(q *simQuery) {
	for placed := 0; placed < q.plan.Tasks; placed++ {
		if placed > 0 && !e.wait(q, q.plan.RampInterval) {
			e.teardown(q)
			return
		}
		if _, ok := e.cluster.placeTask(q.id); !ok {
			e.cluster.removeTasks(q.id)
			e.forget(q)
			e.report(q.id, func(r Reporter) error {
				return r.QueryFailed(q.id, domain.RemoteTaskError, "no workers available")
			})
			return
		}
		e.stat.Counter(stats.SimTasksPlacedCounter).Inc(1)
	}

	if q.plan.Hang {
		<-q.stopCh
		e.teardown(q)
		return
	}
	if !e.wait(q, q.plan.RunTime) {
		e.teardown(q)
		return
	}

	e.cluster.removeTasks(q.id)
	e.forget(q)
	if q.plan.FailMessage != "" {
		code, message := failureCode(q.plan.FailMessage)
		e.report(q.id, func(r Reporter) error { return r.QueryFailed(q.id, code, message) })
		return
	}
	e.report(q.id, func(r Reporter) error { return r.QueryFinished(q.id) })
}

// wait returns false if the query was stopped before d elapsed.
func (e *SimExecutor) wait(q *simQuery, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-q.stopCh:
			return false
		default:
			return true
		}
	}
	select {
	case <-e.clock.After(d):
		return true
	case <-q.stopCh:
		return false
	}
}

func (e *SimExecutor) teardown(q *simQuery) {
	if e.teardownDelay > 0 {
		<-e.clock.After(e.teardownDelay)
	}
	removed := e.cluster.removeTasks(q.id)
	e.stat.Counter(stats.SimTeardownCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID":    q.id,
			"terminated": q.reason == terminated,
			"tasks":      removed,
		}).Debug("Tore down simulated query")
	e.forget(q)
}

func (e *SimExecutor) report(id domain.QueryID, f func(Reporter) error) {
	e.mu.Lock()
	r := e.reporter
	e.mu.Unlock()
	if r == nil {
		return
	}
	if err := f(r); err != nil {
		// the controller already moved the query on, e.g. it was cancelled meanwhile
		log.WithFields(
			log.Fields{
				"queryID": id,
				"err":     err,
			}).Debug("Query outcome not recorded")
	}
}

// A failure message may start with a known error code name, otherwise the failure is a remote task error.
func failureCode(message string) (domain.ErrorCode, string) {
	splits := strings.SplitN(message, " ", 2)
	if code, ok := domain.ErrorCodeByName(splits[0]); ok {
		if len(splits) == 2 {
			return code, splits[1]
		}
		return code, code.Name
	}
	return domain.RemoteTaskError, message
}
