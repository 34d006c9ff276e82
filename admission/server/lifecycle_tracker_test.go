package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/common/stats"
)

func makeTestTracker(t *testing.T, historySize int) (*QueryLifecycleTracker, clockwork.FakeClock, stats.StatsRegistry) {
	clock := clockwork.NewFakeClock()
	reg := stats.NewFinagleStatsRegistry()
	stat := stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg })
	tracker, err := NewQueryLifecycleTracker(historySize, clock, stat)
	require.NoError(t, err)
	return tracker, clock, reg
}

var testDef = domain.QueryDefinition{Query: "SELECT 1", Group: "adhoc", Requestor: "alice"}

func TestTrackerLifecycle(t *testing.T) {
	tracker, clock, _ := makeTestTracker(t, 0)

	id := tracker.Submit(testDef)
	info, err := tracker.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Queued, info.State)
	assert.Equal(t, testDef, info.Definition)
	assert.Equal(t, clock.Now(), info.SubmitTime)

	clock.Advance(time.Second)
	from, err := tracker.Transition(id, domain.Running, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Queued, from)

	tracker.UpdateRunningTasks(&TaskCountSnapshot{PerQuery: counts{id: 7}})
	info, _ = tracker.Get(id)
	assert.Equal(t, 7, info.RunningTasks)
	assert.Equal(t, time.Second, info.StartTime.Sub(info.SubmitTime))

	clock.Advance(time.Second)
	from, err = tracker.Transition(id, domain.Finished, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Running, from)

	info, _ = tracker.Get(id)
	assert.Equal(t, domain.Finished, info.State)
	assert.Equal(t, 0, info.RunningTasks)
	assert.Nil(t, info.ErrorCode)
	assert.Equal(t, clock.Now(), info.EndTime)
	assert.True(t, tracker.IsTerminal(id))
}

func TestTrackerRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		path []domain.QueryState
		to   domain.QueryState
	}{
		{nil, domain.Finished},
		{nil, domain.Failed},
		{nil, domain.Queued},
		{[]domain.QueryState{domain.Running}, domain.Running},
		{[]domain.QueryState{domain.Running}, domain.Queued},
		{[]domain.QueryState{domain.Cancelled}, domain.Running},
		{[]domain.QueryState{domain.Running, domain.Finished}, domain.Failed},
		{[]domain.QueryState{domain.Running, domain.Failed}, domain.Cancelled},
		{[]domain.QueryState{domain.Running, domain.Cancelled}, domain.Finished},
	}
	tracker, _, reg := makeTestTracker(t, 0)
	for _, tt := range tests {
		id := tracker.Submit(testDef)
		for _, s := range tt.path {
			_, err := tracker.Transition(id, s, nil, "")
			require.NoError(t, err)
		}
		before, _ := tracker.Get(id)
		_, err := tracker.Transition(id, tt.to, nil, "")
		assert.Equal(t, domain.ErrInvalidTransition, errors.Cause(err), "%v -> %s", tt.path, tt.to)
		after, _ := tracker.Get(id)
		assert.Equal(t, before, after, "rejected transitions leave the record untouched")
	}
	stats.StatsOk("", reg, t, map[string]stats.Rule{
		stats.TrackerInvalidTransitionCounter: {Checker: stats.Int64EqTest, Value: len(tests)},
	})

	_, err := tracker.Transition("unknown", domain.Running, nil, "")
	assert.Equal(t, domain.ErrQueryNotFound, errors.Cause(err))
}

func TestTrackerFailureCode(t *testing.T) {
	tracker, _, _ := makeTestTracker(t, 0)

	overloaded := tracker.Submit(testDef)
	tracker.Transition(overloaded, domain.Running, nil, "")
	code := domain.ClusterHasTooManyRunningTasks
	_, err := tracker.Transition(overloaded, domain.Failed, &code, domain.OverloadMessage)
	require.NoError(t, err)
	info, _ := tracker.Get(overloaded)
	require.NotNil(t, info.ErrorCode)
	assert.Equal(t, domain.ClusterHasTooManyRunningTasks, *info.ErrorCode)
	assert.Equal(t, domain.OverloadMessage, info.Message)

	crashed := tracker.Submit(testDef)
	tracker.Transition(crashed, domain.Running, nil, "")
	tracker.Transition(crashed, domain.Failed, nil, "worker lost")
	info, _ = tracker.Get(crashed)
	require.NotNil(t, info.ErrorCode)
	assert.Equal(t, domain.GenericInternalError, *info.ErrorCode)

	// the code is set once, a later failure can't replace it
	other := domain.GenericUserError
	_, err = tracker.Transition(overloaded, domain.Failed, &other, "again")
	assert.Error(t, err)
	info, _ = tracker.Get(overloaded)
	assert.Equal(t, domain.ClusterHasTooManyRunningTasks, *info.ErrorCode)
}

func TestTrackerRacingTransitionsApplyOnce(t *testing.T) {
	tracker, _, _ := makeTestTracker(t, 0)
	id := tracker.Submit(testDef)
	tracker.Transition(id, domain.Running, nil, "")

	var applied sync.WaitGroup
	var mu sync.Mutex
	successes := []domain.QueryState{}
	for _, to := range []domain.QueryState{domain.Finished, domain.Failed, domain.Cancelled, domain.Failed, domain.Cancelled} {
		applied.Add(1)
		go func(to domain.QueryState) {
			defer applied.Done()
			if _, err := tracker.Transition(id, to, nil, ""); err == nil {
				mu.Lock()
				successes = append(successes, to)
				mu.Unlock()
			}
		}(to)
	}
	applied.Wait()
	require.Len(t, successes, 1)
	state, _ := tracker.State(id)
	assert.Equal(t, successes[0], state)
}

func TestTrackerListeners(t *testing.T) {
	tracker, _, _ := makeTestTracker(t, 0)
	type seen struct {
		id       domain.QueryID
		from, to domain.QueryState
	}
	var transitions []seen
	tracker.AddListener(func(info domain.QueryInfo, from domain.QueryState) {
		// listeners run outside the tracker locks
		_, _ = tracker.Get(info.ID)
		transitions = append(transitions, seen{info.ID, from, info.State})
	})

	id := tracker.Submit(testDef)
	tracker.Transition(id, domain.Running, nil, "")
	tracker.Transition(id, domain.Running, nil, "")
	tracker.Transition(id, domain.Cancelled, nil, "")

	assert.Equal(t, []seen{
		{id, domain.Queued, domain.Running},
		{id, domain.Running, domain.Cancelled},
	}, transitions)
}

func TestTrackerWaitForState(t *testing.T) {
	tracker, _, _ := makeTestTracker(t, 0)
	id := tracker.Submit(testDef)

	resultCh := make(chan error, 1)
	go func() {
		info, err := tracker.WaitForState(context.Background(), id, domain.Finished)
		if err == nil && info.State != domain.Finished {
			err = errors.Errorf("woke up in %s", info.State)
		}
		resultCh <- err
	}()

	tracker.Transition(id, domain.Running, nil, "")
	tracker.Transition(id, domain.Finished, nil, "")
	select {
	case err := <-resultCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForState did not return")
	}

	// a query that ended elsewhere can never reach the requested state
	cancelled := tracker.Submit(testDef)
	tracker.Transition(cancelled, domain.Cancelled, nil, "")
	info, err := tracker.WaitForState(context.Background(), cancelled, domain.Running)
	assert.Equal(t, domain.ErrStateUnreachable, errors.Cause(err))
	assert.Equal(t, domain.Cancelled, info.State)

	queued := tracker.Submit(testDef)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tracker.WaitForState(ctx, queued, domain.Finished)
	assert.Equal(t, context.DeadlineExceeded, err)

	_, err = tracker.WaitForState(context.Background(), "unknown", domain.Finished)
	assert.Equal(t, domain.ErrQueryNotFound, errors.Cause(err))
}

func TestTrackerPruneKeepsHistory(t *testing.T) {
	tracker, clock, reg := makeTestTracker(t, 2)

	ids := []domain.QueryID{}
	for i := 0; i < 4; i++ {
		ids = append(ids, tracker.Submit(testDef))
		clock.Advance(time.Millisecond)
	}
	tracker.Transition(ids[0], domain.Cancelled, nil, "")
	tracker.Transition(ids[1], domain.Running, nil, "")
	tracker.Transition(ids[1], domain.Finished, nil, "")
	tracker.Transition(ids[2], domain.Cancelled, nil, "")
	tracker.Transition(ids[3], domain.Running, nil, "")

	pruned := tracker.Prune()
	assert.ElementsMatch(t, ids[:3], pruned)
	assert.Equal(t, 1, tracker.NumLive())
	assert.Empty(t, tracker.Prune())
	assert.Equal(t, []domain.QueryID{ids[3]}, tracker.InState(domain.Running))

	// history holds two records, one of the pruned queries has been evicted
	listed := tracker.List()
	assert.Len(t, listed, 3)
	assert.Equal(t, ids[3], listed[len(listed)-1].ID)
	found := 0
	for _, id := range ids[:3] {
		if info, err := tracker.Get(id); err == nil {
			assert.True(t, info.State.IsTerminal())
			found++
		}
	}
	assert.Equal(t, 2, found)

	stats.StatsOk("", reg, t, map[string]stats.Rule{
		stats.TrackerPrunedCounter:    {Checker: stats.Int64EqTest, Value: 3},
		stats.TrackerLiveQueriesGauge: {Checker: stats.Int64EqTest, Value: 1},
	})
}

func TestTrackerListOrder(t *testing.T) {
	tracker, clock, _ := makeTestTracker(t, 0)
	first := tracker.Submit(testDef)
	clock.Advance(time.Second)
	second := tracker.Submit(testDef)
	clock.Advance(time.Second)
	third := tracker.Submit(testDef)

	tracker.Transition(second, domain.Running, nil, "")
	tracker.Transition(first, domain.Running, nil, "")

	listed := []domain.QueryID{}
	for _, info := range tracker.List() {
		listed = append(listed, info.ID)
	}
	assert.Equal(t, []domain.QueryID{first, second, third}, listed)
	assert.Equal(t, []domain.QueryID{first, second}, tracker.InState(domain.Running))
	assert.Equal(t, []domain.QueryID{third}, tracker.InState(domain.Queued))
}
