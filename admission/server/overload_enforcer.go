package server

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/async"
	"github.com/twitter/admission/common/stats"
)

const DefaultTerminateTimeout = 5 * time.Second

// OverloadEnforcer kills running queries that violate the thresholds.
//
// Every kill is issued at most once per query: the id is marked in flight before
// anything else happens, and marked ids are never evaluated again. Marks are dropped
// only once the tracker has pruned the query.
//
// The enforcer is owned by the controller loop. Enforce, ProcessMessages and Forget
// must all be called from that one go routine.
type OverloadEnforcer struct {
	tracker          *QueryLifecycleTracker
	executor         QueryExecutor
	asyncRunner      async.Runner
	terminateTimeout time.Duration
	inFlight         map[domain.QueryID]bool
	clock            clockwork.Clock
	stat             stats.StatsReceiver
}

func NewOverloadEnforcer(
	tracker *QueryLifecycleTracker,
	executor QueryExecutor,
	terminateTimeout time.Duration,
	clock clockwork.Clock,
	stat stats.StatsReceiver,
) *OverloadEnforcer {
	if terminateTimeout <= 0 {
		terminateTimeout = DefaultTerminateTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &OverloadEnforcer{
		tracker:          tracker,
		executor:         executor,
		asyncRunner:      async.NewRunner(clock),
		terminateTimeout: terminateTimeout,
		inFlight:         make(map[domain.QueryID]bool),
		clock:            clock,
		stat:             stat,
	}
}

// Enforce applies the policy to every running query and kills the violators.
// Returns the ids that were killed by this call.
func (e *OverloadEnforcer) Enforce(snapshot *TaskCountSnapshot, thresholds domain.Thresholds) []domain.QueryID {
	if snapshot == nil {
		return nil
	}
	killed := []domain.QueryID{}
	for _, id := range e.tracker.InState(domain.Running) {
		if e.inFlight[id] {
			continue
		}
		if Decide(snapshot, thresholds, id, domain.Running) != domain.Kill {
			continue
		}
		if e.kill(id, snapshot) {
			killed = append(killed, id)
		}
	}
	return killed
}

func (e *OverloadEnforcer) kill(id domain.QueryID, snapshot *TaskCountSnapshot) bool {
	e.inFlight[id] = true

	code := domain.ClusterHasTooManyRunningTasks
	if _, err := e.tracker.Transition(id, domain.Failed, &code, domain.OverloadMessage); err != nil {
		// The query ended some other way since it was listed, nothing left to kill.
		log.WithFields(
			log.Fields{
				"queryID": id,
				"seq":     snapshot.Seq,
				"err":     err,
			}).Debug("Skipping kill of query that is no longer running")
		return false
	}

	e.stat.Counter(stats.EnforcerKillCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID":      id,
			"seq":          snapshot.Seq,
			"decision":     domain.Kill,
			"queryTasks":   snapshot.Tasks(id),
			"clusterTasks": snapshot.Total,
		}).Info("Killing query, cluster is overloaded")

	start := e.clock.Now()
	e.asyncRunner.RunAsyncTimeout(e.terminateTimeout,
		func(ctx context.Context) error {
			return e.executor.Terminate(ctx, id, code)
		},
		func(err error) {
			e.stat.Histogram(stats.EnforcerTerminateLatency_ms).Update(int64(e.clock.Since(start) / time.Millisecond))
			if err == nil {
				return
			}
			if err == async.ErrTimeout {
				e.stat.Counter(stats.EnforcerTerminateTimeoutCounter).Inc(1)
			} else {
				e.stat.Counter(stats.EnforcerTerminateErrCounter).Inc(1)
			}
			log.WithFields(
				log.Fields{
					"queryID": id,
					"err":     err,
				}).Warn("Terminate command failed")
		})
	return true
}

// Notify fires when a terminate command completed and ProcessMessages has work to do.
func (e *OverloadEnforcer) Notify() <-chan struct{} {
	return e.asyncRunner.Notify()
}

// ProcessMessages runs the callbacks of completed terminate commands.
func (e *OverloadEnforcer) ProcessMessages() {
	e.asyncRunner.ProcessMessages()
}

// InFlight is the number of terminate commands that have not completed yet.
func (e *OverloadEnforcer) InFlight() int {
	return e.asyncRunner.NumRunning()
}

// Forget drops the kill marks of pruned queries.
func (e *OverloadEnforcer) Forget(ids []domain.QueryID) {
	for _, id := range ids {
		delete(e.inFlight, id)
	}
}
