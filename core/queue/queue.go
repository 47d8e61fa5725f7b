// Package queue orders calls that are waiting for an ambulance. Entries are
// sorted by tier (critical first) and then by enqueue time, oldest first.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/model"
)

// DefaultEscalationThreshold is the wait after which an entry is escalated.
const DefaultEscalationThreshold = 5 * time.Minute

// Entry is one waiting call.
type Entry struct {
	CallID     string     `json:"call_id"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Tier       model.Tier `json:"tier"`
	BaseTier   model.Tier `json:"base_tier"`
	// Escalated is set once the entry has been promoted for waiting too long.
	Escalated bool `json:"escalated"`
	// Alerted is set once operators were told about an overdue critical call.
	Alerted bool `json:"alerted"`

	index int
}

// NewEntry builds the entry for a pending call. The enqueue time is the
// received time so the queue agrees with the stored pending calls.
func NewEntry(c model.EmergencyCall) Entry {
	t := c.Priority.Tier()
	return Entry{CallID: c.ID, EnqueuedAt: c.Timestamps.Received, Tier: t, BaseTier: t}
}

func less(a, b *Entry) bool {
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.CallID < b.CallID
}

type entryHeap []*Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a priority queue of pending calls safe for concurrent use. Its
// mutex guards only the queue's own index.
type Queue struct {
	mu        sync.Mutex
	h         entryHeap
	byID      map[string]*Entry
	threshold time.Duration
}

// New returns an empty queue escalating entries older than threshold. A
// non-positive threshold uses DefaultEscalationThreshold.
func New(threshold time.Duration) *Queue {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return &Queue{byID: map[string]*Entry{}, threshold: threshold}
}

// Threshold returns the escalation threshold.
func (q *Queue) Threshold() time.Duration { return q.threshold }

// Push adds e. It returns false when the call is already queued.
func (q *Queue) Push(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[e.CallID]; ok {
		return false
	}
	ne := e
	heap.Push(&q.h, &ne)
	q.byID[e.CallID] = &ne
	return true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	e := heap.Pop(&q.h).(*Entry)
	delete(q.byID, e.CallID)
	return *e, true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return *q.h[0], true
}

// Remove drops callID from the queue and reports whether it was present.
func (q *Queue) Remove(callID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[callID]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, callID)
	return true
}

// Position returns the 1-based position of callID.
func (q *Queue) Position(callID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[callID]
	if !ok {
		return 0, false
	}
	pos := 1
	for _, o := range q.h {
		if o != e && less(o, e) {
			pos++
		}
	}
	return pos, true
}

// Len returns the number of waiting calls.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Snapshot returns the entries in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	out := make([]Entry, len(q.h))
	for i, p := range q.h {
		out[i] = *p
		out[i].index = 0
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

// Escalate promotes entries that have waited longer than the threshold by
// one tier, at most once per entry, and flags overdue critical entries once.
func (q *Queue) Escalate(now time.Time) []events.EscalationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []events.EscalationEvent
	for _, e := range q.h {
		waited := now.Sub(e.EnqueuedAt)
		if waited <= q.threshold {
			continue
		}
		if !e.Escalated && e.Tier < model.TierCritical {
			from := e.Tier
			e.Tier = e.Tier.Promote()
			e.Escalated = true
			out = append(out, events.EscalationEvent{
				CallID: e.CallID, Kind: events.EscalationPromoted,
				From: from, To: e.Tier, Waited: waited, Time: now,
			})
		}
		if e.Tier == model.TierCritical && !e.Alerted {
			e.Alerted = true
			out = append(out, events.EscalationEvent{
				CallID: e.CallID, Kind: events.EscalationOverdue,
				From: e.Tier, To: e.Tier, Waited: waited, Time: now,
			})
		}
	}
	if len(out) > 0 {
		heap.Init(&q.h)
	}
	return out
}
