package execution

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/common/stats"
)

type failure struct {
	id      domain.QueryID
	code    domain.ErrorCode
	message string
}

type fakeReporter struct {
	finished chan domain.QueryID
	failed   chan failure
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{
		finished: make(chan domain.QueryID, 10),
		failed:   make(chan failure, 10),
	}
}

func (r *fakeReporter) QueryFinished(id domain.QueryID) error {
	r.finished <- id
	return nil
}

func (r *fakeReporter) QueryFailed(id domain.QueryID, code domain.ErrorCode, message string) error {
	r.failed <- failure{id, code, message}
	return nil
}

func fixedPlan(plan Plan) TaskPlanner {
	return func(domain.QueryDefinition) (Plan, error) { return plan, nil }
}

var simDef = domain.QueryDefinition{Query: "SELECT 1"}

func TestSimExecutorRampsAndFinishes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sim := NewSimCluster(2, clock)
	reg := stats.NewFinagleStatsRegistry()
	stat := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg })
	exec := NewSimExecutor(sim, fixedPlan(Plan{Tasks: 3, RampInterval: 10 * time.Millisecond, RunTime: time.Second}), 0, clock, stat)
	reporter := newFakeReporter()
	exec.SetReporter(reporter)

	require.NoError(t, exec.Start(context.Background(), "q1", simDef))
	for placed := 1; placed <= 3; placed++ {
		clock.BlockUntil(1)
		assert.Equal(t, placed, sim.NumTasks())
		if placed < 3 {
			clock.Advance(10 * time.Millisecond)
		}
	}
	clock.Advance(time.Second)

	select {
	case id := <-reporter.finished:
		assert.Equal(t, domain.QueryID("q1"), id)
	case <-time.After(5 * time.Second):
		t.Fatal("query never finished")
	}
	assert.Equal(t, 0, sim.NumTasks())
	assert.Equal(t, 0, exec.Running())

	stats.StatsOk("", reg, t, map[string]stats.Rule{
		stats.SimQueriesStartedCounter: {Checker: stats.Int64EqTest, Value: 1},
		stats.SimTasksPlacedCounter:    {Checker: stats.Int64EqTest, Value: 3},
		stats.SimRunningQueriesGauge:   {Checker: stats.Int64EqTest, Value: 0},
		stats.SimTeardownCounter:       {Checker: stats.DoesNotExistTest, Value: nil},
	})
}

func TestSimExecutorCancelTearsDownInBackground(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sim := NewSimCluster(2, clock)
	exec := NewSimExecutor(sim, fixedPlan(Plan{Tasks: 2, Hang: true}), 100*time.Millisecond, clock, nil)
	reporter := newFakeReporter()
	exec.SetReporter(reporter)

	require.NoError(t, exec.Start(context.Background(), "q1", simDef))
	require.Eventually(t, func() bool { return sim.NumTasks() == 2 }, 5*time.Second, time.Millisecond)

	require.NoError(t, exec.Cancel(context.Background(), "q1"))
	clock.BlockUntil(1)
	assert.Equal(t, 2, sim.NumTasks(), "tasks linger until teardown completes")
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return exec.Running() == 0 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 0, sim.NumTasks())

	assert.Len(t, reporter.finished, 0)
	assert.Len(t, reporter.failed, 0)
	assert.NoError(t, exec.Cancel(context.Background(), "q1"))
}

func TestSimExecutorTerminateWaitsForTeardown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sim := NewSimCluster(1, clock)
	exec := NewSimExecutor(sim, fixedPlan(Plan{Tasks: 1, Hang: true}), time.Second, clock, nil)
	require.NoError(t, exec.Start(context.Background(), "q1", simDef))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := exec.Terminate(ctx, "q1", domain.ClusterHasTooManyRunningTasks)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))

	errCh := make(chan error, 1)
	go func() {
		errCh <- exec.Terminate(context.Background(), "q1", domain.ClusterHasTooManyRunningTasks)
	}()
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("terminate never returned")
	}
	assert.Equal(t, 0, sim.NumTasks())
	assert.NoError(t, exec.Terminate(context.Background(), "q1", domain.ClusterHasTooManyRunningTasks))
}

func TestSimExecutorReportsFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reporter := newFakeReporter()

	exec := NewSimExecutor(NewSimCluster(1, clock), fixedPlan(Plan{Tasks: 1, FailMessage: "CLUSTER_OUT_OF_MEMORY too big"}), 0, clock, nil)
	exec.SetReporter(reporter)
	require.NoError(t, exec.Start(context.Background(), "q1", simDef))

	noWorkers := NewSimExecutor(NewSimCluster(0, clock), fixedPlan(Plan{Tasks: 1}), 0, clock, nil)
	noWorkers.SetReporter(reporter)
	require.NoError(t, noWorkers.Start(context.Background(), "q2", simDef))

	got := map[domain.QueryID]failure{}
	for len(got) < 2 {
		select {
		case f := <-reporter.failed:
			got[f.id] = f
		case <-time.After(5 * time.Second):
			t.Fatalf("missing failure reports, got %v", got)
		}
	}
	assert.Equal(t, failure{"q1", domain.ClusterOutOfMemory, "too big"}, got["q1"])
	assert.Equal(t, failure{"q2", domain.RemoteTaskError, "no workers available"}, got["q2"])
}

func TestSimExecutorStartErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exec := NewSimExecutor(NewSimCluster(1, clock), nil, 0, clock, nil)

	err := exec.Start(context.Background(), "q1", domain.QueryDefinition{Query: "-- sim reject out of slots"})
	assert.EqualError(t, err, "out of slots")
	assert.Error(t, exec.Start(context.Background(), "q2", domain.QueryDefinition{Query: "-- sim tasks lots"}))

	require.NoError(t, exec.Start(context.Background(), "q3", domain.QueryDefinition{Query: "-- sim hang"}))
	assert.Error(t, exec.Start(context.Background(), "q3", domain.QueryDefinition{Query: "-- sim hang"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, exec.Start(ctx, "q4", simDef))
	assert.Equal(t, 1, exec.Running())
}
