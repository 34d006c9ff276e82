package server

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"github.com/looplab/fsm"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/common/stats"
)

const DefaultHistorySize = 1000

// lifecycle events, named by what happens to the query
const (
	eventAdmit  = "admit"
	eventFinish = "finish"
	eventFail   = "fail"
	eventCancel = "cancel"
)

var lifecycleEvents = fsm.Events{
	{Name: eventAdmit, Src: []string{domain.Queued.String()}, Dst: domain.Running.String()},
	{Name: eventFinish, Src: []string{domain.Running.String()}, Dst: domain.Finished.String()},
	{Name: eventFail, Src: []string{domain.Running.String()}, Dst: domain.Failed.String()},
	{Name: eventCancel, Src: []string{domain.Queued.String(), domain.Running.String()}, Dst: domain.Cancelled.String()},
}

// the event that moves a query into the given state
var eventForState = map[domain.QueryState]string{
	domain.Running:   eventAdmit,
	domain.Finished:  eventFinish,
	domain.Failed:    eventFail,
	domain.Cancelled: eventCancel,
}

// TransitionListener is called after every applied transition, outside of any tracker lock.
type TransitionListener func(info domain.QueryInfo, from domain.QueryState)

type queryRecord struct {
	mu sync.Mutex

	id         domain.QueryID
	def        domain.QueryDefinition
	machine    *fsm.FSM
	state      domain.QueryState
	submitTime time.Time
	startTime  time.Time
	endTime    time.Time

	runningTasks int
	errorCode    *domain.ErrorCode
	message      string

	// closed and replaced on every transition to wake waiters
	changed chan struct{}
}

// must hold r.mu
func (r *queryRecord) info() domain.QueryInfo {
	qi := domain.QueryInfo{
		ID:           r.id,
		State:        r.state,
		Definition:   r.def,
		SubmitTime:   r.submitTime,
		StartTime:    r.startTime,
		EndTime:      r.endTime,
		RunningTasks: r.runningTasks,
		Message:      r.message,
	}
	if r.errorCode != nil {
		code := *r.errorCode
		qi.ErrorCode = &code
	}
	return qi
}

// QueryLifecycleTracker owns every query record and is the only writer of query state.
//
// Each record has its own lock, the tracker lock only guards the id to record map,
// so transitions on different queries never wait on each other. Terminal records are
// moved into a bounded history by Prune and can still be read afterwards.
type QueryLifecycleTracker struct {
	mu        sync.RWMutex
	live      map[domain.QueryID]*queryRecord
	history   *lru.Cache
	listeners []TransitionListener

	clock clockwork.Clock
	stat  stats.StatsReceiver
}

func NewQueryLifecycleTracker(historySize int, clock clockwork.Clock, stat stats.StatsReceiver) (*QueryLifecycleTracker, error) {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	history, err := lru.New(historySize)
	if err != nil {
		return nil, errors.Wrap(err, "creating query history")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &QueryLifecycleTracker{
		live:    make(map[domain.QueryID]*queryRecord),
		history: history,
		clock:   clock,
		stat:    stat,
	}, nil
}

// AddListener registers l for all future transitions.
func (t *QueryLifecycleTracker) AddListener(l TransitionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Submit creates a record in QUEUED under a fresh random id.
func (t *QueryLifecycleTracker) Submit(def domain.QueryDefinition) domain.QueryID {
	r := &queryRecord{
		id:         generateQueryID(),
		def:        def,
		machine:    fsm.NewFSM(domain.Queued.String(), lifecycleEvents, fsm.Callbacks{}),
		state:      domain.Queued,
		submitTime: t.clock.Now(),
		changed:    make(chan struct{}),
	}
	t.mu.Lock()
	t.live[r.id] = r
	t.stat.Gauge(stats.TrackerLiveQueriesGauge).Update(int64(len(t.live)))
	t.mu.Unlock()
	return r.id
}

// generates a query id using a random uuid
func generateQueryID() domain.QueryID {
	// uuid.NewV4 only fails if the system's random source does
	for {
		if id, err := uuid.NewV4(); err == nil {
			return domain.QueryID(id.String())
		}
	}
}

func (t *QueryLifecycleTracker) lookup(id domain.QueryID) (*queryRecord, bool) {
	t.mu.RLock()
	r, ok := t.live[id]
	t.mu.RUnlock()
	if ok {
		return r, true
	}
	if v, ok := t.history.Get(id); ok {
		return v.(*queryRecord), true
	}
	return nil, false
}

// Transition moves id to the given state and returns the state it left. code and message are
// recorded only when entering FAILED, where a nil code defaults to GENERIC_INTERNAL_ERROR.
// A transition that is not in the lifecycle returns an error wrapping ErrInvalidTransition
// and leaves the record untouched, so of two racing transitions only the first applies.
func (t *QueryLifecycleTracker) Transition(id domain.QueryID, to domain.QueryState, code *domain.ErrorCode, message string) (domain.QueryState, error) {
	r, ok := t.lookup(id)
	if !ok {
		return 0, errors.Wrapf(domain.ErrQueryNotFound, "query %s", id)
	}

	r.mu.Lock()
	from := r.state
	event, ok := eventForState[to]
	if !ok {
		r.mu.Unlock()
		return from, t.rejected(id, from, to)
	}
	if err := r.machine.Event(context.Background(), event); err != nil {
		r.mu.Unlock()
		return from, t.rejected(id, from, to)
	}

	now := t.clock.Now()
	r.state = to
	switch to {
	case domain.Running:
		r.startTime = now
	case domain.Failed:
		if code == nil {
			code = &domain.GenericInternalError
		}
		c := *code
		r.errorCode = &c
		r.message = message
		r.endTime = now
	case domain.Finished, domain.Cancelled:
		r.endTime = now
	}
	if to.IsTerminal() {
		r.runningTasks = 0
	}
	close(r.changed)
	r.changed = make(chan struct{})
	info := r.info()
	r.mu.Unlock()

	log.WithFields(
		log.Fields{
			"queryID": id,
			"from":    from,
			"to":      to,
		}).Info("Query state changed")

	t.mu.RLock()
	listeners := t.listeners
	t.mu.RUnlock()
	for _, l := range listeners {
		l(info, from)
	}
	return from, nil
}

func (t *QueryLifecycleTracker) rejected(id domain.QueryID, from, to domain.QueryState) error {
	t.stat.Counter(stats.TrackerInvalidTransitionCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"queryID": id,
			"from":    from,
			"to":      to,
		}).Debug("Rejected query state transition")
	return errors.Wrapf(domain.ErrInvalidTransition, "query %s: %s -> %s", id, from, to)
}

// Get returns the current view of a live or recently terminated query.
func (t *QueryLifecycleTracker) Get(id domain.QueryID) (domain.QueryInfo, error) {
	r, ok := t.lookup(id)
	if !ok {
		return domain.QueryInfo{}, errors.Wrapf(domain.ErrQueryNotFound, "query %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info(), nil
}

// State returns the state of a live or recently terminated query.
func (t *QueryLifecycleTracker) State(id domain.QueryID) (domain.QueryState, bool) {
	r, ok := t.lookup(id)
	if !ok {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, true
}

// IsTerminal is true only for known queries in a terminal state.
func (t *QueryLifecycleTracker) IsTerminal(id domain.QueryID) bool {
	state, ok := t.State(id)
	return ok && state.IsTerminal()
}

// List returns live and historical queries ordered by submission.
func (t *QueryLifecycleTracker) List() []domain.QueryInfo {
	t.mu.RLock()
	records := make([]*queryRecord, 0, len(t.live)+t.history.Len())
	seen := make(map[domain.QueryID]bool, len(t.live))
	for id, r := range t.live {
		records = append(records, r)
		seen[id] = true
	}
	t.mu.RUnlock()
	for _, key := range t.history.Keys() {
		if v, ok := t.history.Peek(key); ok && !seen[key.(domain.QueryID)] {
			records = append(records, v.(*queryRecord))
		}
	}

	infos := make([]domain.QueryInfo, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		infos = append(infos, r.info())
		r.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].SubmitTime.Equal(infos[j].SubmitTime) {
			return infos[i].SubmitTime.Before(infos[j].SubmitTime)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// InState returns the live queries currently in state, ordered by submission.
func (t *QueryLifecycleTracker) InState(state domain.QueryState) []domain.QueryID {
	t.mu.RLock()
	records := make([]*queryRecord, 0, len(t.live))
	for _, r := range t.live {
		records = append(records, r)
	}
	t.mu.RUnlock()

	type match struct {
		id     domain.QueryID
		submit time.Time
	}
	matches := []match{}
	for _, r := range records {
		r.mu.Lock()
		if r.state == state {
			matches = append(matches, match{r.id, r.submitTime})
		}
		r.mu.Unlock()
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].submit.Equal(matches[j].submit) {
			return matches[i].submit.Before(matches[j].submit)
		}
		return matches[i].id < matches[j].id
	})
	ids := make([]domain.QueryID, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

// UpdateRunningTasks refreshes the last known task count of every running query.
func (t *QueryLifecycleTracker) UpdateRunningTasks(snapshot *TaskCountSnapshot) {
	if snapshot == nil {
		return
	}
	t.mu.RLock()
	records := make([]*queryRecord, 0, len(t.live))
	for _, r := range t.live {
		records = append(records, r)
	}
	t.mu.RUnlock()
	for _, r := range records {
		r.mu.Lock()
		if r.state == domain.Running {
			r.runningTasks = snapshot.Tasks(r.id)
		}
		r.mu.Unlock()
	}
}

// WaitForState blocks until id is in one of states, and returns its info at that point.
// If the query ends in a different terminal state it can never get there, and
// ErrStateUnreachable is returned along with the final info.
func (t *QueryLifecycleTracker) WaitForState(ctx context.Context, id domain.QueryID, states ...domain.QueryState) (domain.QueryInfo, error) {
	r, ok := t.lookup(id)
	if !ok {
		return domain.QueryInfo{}, errors.Wrapf(domain.ErrQueryNotFound, "query %s", id)
	}
	for {
		r.mu.Lock()
		info := r.info()
		changed := r.changed
		r.mu.Unlock()

		for _, s := range states {
			if info.State == s {
				return info, nil
			}
		}
		if info.State.IsTerminal() {
			return info, errors.Wrapf(domain.ErrStateUnreachable, "query %s is %s", id, info.State)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return info, ctx.Err()
		}
	}
}

// Prune moves terminal records from the live map to history and returns their ids.
func (t *QueryLifecycleTracker) Prune() []domain.QueryID {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := []domain.QueryID{}
	for id, r := range t.live {
		r.mu.Lock()
		terminal := r.state.IsTerminal()
		r.mu.Unlock()
		if terminal {
			t.history.Add(id, r)
			delete(t.live, id)
			pruned = append(pruned, id)
		}
	}
	if len(pruned) > 0 {
		t.stat.Counter(stats.TrackerPrunedCounter).Inc(int64(len(pruned)))
		t.stat.Gauge(stats.TrackerLiveQueriesGauge).Update(int64(len(t.live)))
	}
	return pruned
}

// NumLive is the number of records not yet pruned.
func (t *QueryLifecycleTracker) NumLive() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}
