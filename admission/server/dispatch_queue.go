package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/twitter/admission/admission/domain"
)

type DispatchQueueEntry struct {
	ID         domain.QueryID
	EnqueuedAt time.Time
}

// DispatchQueue holds queries that have not been admitted yet, in strict FIFO order.
// All operations are linearizable under the queue's own lock.
type DispatchQueue struct {
	mu      sync.Mutex
	entries []DispatchQueueEntry
	members map[domain.QueryID]struct{}
	clock   clockwork.Clock
}

func NewDispatchQueue(clock clockwork.Clock) *DispatchQueue {
	return &DispatchQueue{
		members: make(map[domain.QueryID]struct{}),
		clock:   clock,
	}
}

// Enqueue appends id to the tail. Returns false if id was already queued.
func (q *DispatchQueue) Enqueue(id domain.QueryID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[id]; ok {
		return false
	}
	q.members[id] = struct{}{}
	q.entries = append(q.entries, DispatchQueueEntry{ID: id, EnqueuedAt: q.clock.Now()})
	return true
}

func (q *DispatchQueue) PeekHead() (DispatchQueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return DispatchQueueEntry{}, false
	}
	return q.entries[0], true
}

// ReleaseHead removes and returns the head.
func (q *DispatchQueue) ReleaseHead() (DispatchQueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return DispatchQueueEntry{}, false
	}
	return q.popLocked(), true
}

// ReleaseIfHead removes the head only if it is still id, so a concurrent Remove between
// PeekHead and release can't cause a different query to be released.
func (q *DispatchQueue) ReleaseIfHead(id domain.QueryID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 || q.entries[0].ID != id {
		return false
	}
	q.popLocked()
	return true
}

// Remove drops id wherever it is in the queue. Returns false if it wasn't queued.
func (q *DispatchQueue) Remove(id domain.QueryID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[id]; !ok {
		return false
	}
	delete(q.members, id)
	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

func (q *DispatchQueue) Contains(id domain.QueryID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[id]
	return ok
}

func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the entries, head first.
func (q *DispatchQueue) Snapshot() []DispatchQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DispatchQueueEntry(nil), q.entries...)
}

func (q *DispatchQueue) popLocked() DispatchQueueEntry {
	head := q.entries[0]
	q.entries[0] = DispatchQueueEntry{}
	q.entries = q.entries[1:]
	delete(q.members, head.ID)
	return head
}
