package tws

import (
	"fmt"
	"sync"

	"github.com/srg/twsync/pkg/tws/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DeferredEvent is an event both peers act on at TargetClock
type DeferredEvent struct {
	Event       protocol.EventID
	Param       uint32
	TargetClock uint32
}

func (e DeferredEvent) String() string {
	return fmt.Sprintf("%s param=0x%x clock=%d", e.Event, e.Param, e.TargetClock)
}

// Due reports whether the event fires at clock now. Clock values wrap, so the
// comparison is done on the signed difference.
func (e DeferredEvent) Due(now uint32) bool {
	return int32(now-e.TargetClock) >= 0
}

// DeferredQueue keeps deferred events in insertion order
type DeferredQueue struct {
	capacity int

	mu    sync.Mutex
	seq   uint64
	items *orderedmap.OrderedMap[uint64, DeferredEvent]
}

// NewDeferredQueue creates a queue holding at most capacity events
func NewDeferredQueue(capacity int) *DeferredQueue {
	if capacity <= 0 {
		capacity = MaxDeferredEvents
	}
	return &DeferredQueue{
		capacity: capacity,
		items:    orderedmap.New[uint64, DeferredEvent](),
	}
}

// Push appends ev; a full queue rejects it with ErrQueueFull
func (q *DeferredQueue) Push(ev DeferredEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() >= q.capacity {
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, ev)
	}
	q.seq++
	q.items.Set(q.seq, ev)
	return nil
}

// PopDue removes and returns, in insertion order, every event due at now.
// Events not yet due keep their position.
func (q *DeferredQueue) PopDue(now uint32) []DeferredEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []DeferredEvent
	var keys []uint64
	for pair := q.items.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Due(now) {
			due = append(due, pair.Value)
			keys = append(keys, pair.Key)
		}
	}
	for _, k := range keys {
		q.items.Delete(k)
	}
	return due
}

// Flush drops every queued event and returns how many were dropped
func (q *DeferredQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	q.items = orderedmap.New[uint64, DeferredEvent]()
	return n
}

// Len returns the number of queued events
func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Events returns a copy of the queued events in insertion order
func (q *DeferredQueue) Events() []DeferredEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeferredEvent, 0, q.items.Len())
	for pair := q.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
