// Package workq runs deferred work items on a single worker goroutine.
//
// Controller and IRQ-style callbacks must return quickly. They describe the
// real work as an Outcome and the adapter hands it to a Queue, which runs it
// in work-queue context where taking locks and allocating is allowed.
package workq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/groutine"
)

var (
	ErrNotRunning = errors.New("work queue is not running")
	ErrQueueFull  = errors.New("work queue is full")
)

// DefaultDepth is the queue depth used when New is called with zero depth
const DefaultDepth = 32

// Outcome is the result of a non-blocking callback: whether the event was
// accepted and, optionally, the work to run later.
type Outcome struct {
	Accept bool
	Work   *Work
}

// Accepted is an Outcome with no deferred work
func Accepted() Outcome { return Outcome{Accept: true} }

// Rejected is an Outcome that refuses the event
func Rejected() Outcome { return Outcome{} }

// Defer accepts the event and schedules fn as a one-shot item
func Defer(fn func()) Outcome { return Outcome{Accept: true, Work: NewWork("deferred", fn)} }

// Schedule accepts the event and schedules the reusable item w
func Schedule(w *Work) Outcome { return Outcome{Accept: true, Work: w} }

// Run executes the deferred work on the calling goroutine and returns Accept
func (o Outcome) Run() bool {
	if o.Work != nil {
		o.Work.Run()
	}
	return o.Accept
}

// Work is a reusable work item. Submitting an item that is already pending
// is a no-op, so periodic sources can submit freely.
type Work struct {
	name    string
	fn      func()
	pending atomic.Bool
}

// NewWork creates a reusable work item
func NewWork(name string, fn func()) *Work {
	return &Work{name: name, fn: fn}
}

// Name returns the item name
func (w *Work) Name() string { return w.name }

// Pending reports whether the item is queued and not yet run
func (w *Work) Pending() bool { return w.pending.Load() }

// Run clears the pending mark and runs the item
func (w *Work) Run() {
	w.pending.Store(false)
	w.fn()
}

// Queue is a single-worker FIFO
type Queue struct {
	name   string
	items  chan *Work
	logger *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	// queued plus running items
	inflight atomic.Int64
}

// New creates a stopped queue
func New(name string, depth int, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Queue{
		name:   name,
		items:  make(chan *Work, depth),
		logger: logger,
	}
}

// Start launches the worker goroutine. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running.Store(true)

	done := q.done
	groutine.Go(ctx, q.name, func(ctx context.Context) {
		defer close(done)
		q.loop(ctx)
	})
}

// Stop cancels the worker and waits for it to exit. Queued items are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	for {
		select {
		case w := <-q.items:
			w.pending.Store(false)
			q.inflight.Add(-1)
		default:
			return
		}
	}
}

// Submit queues w without blocking
func (q *Queue) Submit(w *Work) error {
	if !q.running.Load() {
		return ErrNotRunning
	}
	if !w.pending.CompareAndSwap(false, true) {
		return nil
	}

	q.inflight.Add(1)
	select {
	case q.items <- w:
		return nil
	default:
		w.pending.Store(false)
		q.inflight.Add(-1)
		q.logger.WithFields(logrus.Fields{
			"queue": q.name,
			"work":  w.name,
		}).Warn("Work queue full, dropping item")
		return ErrQueueFull
	}
}

// SubmitFunc queues a one-shot function
func (q *Queue) SubmitFunc(name string, fn func()) error {
	return q.Submit(NewWork(name, fn))
}

// Handle submits the Outcome's work item as is, so a reusable item that is
// still pending is not queued twice. It returns whether the event was accepted.
func (q *Queue) Handle(name string, o Outcome) bool {
	if o.Work != nil {
		if err := q.Submit(o.Work); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"event": name,
				"work":  o.Work.name,
			}).Warn("Failed to schedule deferred work")
		}
	}
	return o.Accept
}

// Len is the number of items waiting for the worker
func (q *Queue) Len() int {
	return len(q.items)
}

// Settle blocks until the queue is empty and the worker idle, including work
// submitted by the items it runs. Only meaningful when no other goroutine
// submits concurrently.
func (q *Queue) Settle(ctx context.Context) error {
	for {
		idle := make(chan bool, 1)
		// the worker runs one item at a time, so seeing only the marker
		// itself in flight means nothing else is queued or running
		marker := NewWork("settle", func() { idle <- q.inflight.Load() == 1 })
		if err := q.Submit(marker); err != nil {
			return err
		}
		select {
		case ok := <-idle:
			if ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer q.running.Store(false)

	log := q.logger.WithField("queue", groutine.GetName(ctx))
	log.Debug("Work queue started")
	for {
		select {
		case <-ctx.Done():
			log.Debug("Work queue stopped")
			return
		case w := <-q.items:
			q.run(w)
		}
	}
}

func (q *Queue) run(w *Work) {
	defer q.inflight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{
				"queue": q.name,
				"work":  w.name,
				"panic": r,
			}).Error("Work item panicked")
		}
	}()
	w.Run()
}
