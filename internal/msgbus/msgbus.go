package msgbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/event"
)

var (
	ErrUnknownTarget = errors.New("unknown message target")
	ErrDuplicate     = errors.New("target already registered")
	ErrNoReply       = errors.New("receiver closed without reply")
)

// DefaultMailboxSize is used when Register is called with zero capacity
const DefaultMailboxSize uint32 = 64

// Tap observes every message accepted by the bus
type Tap func(target string, msg event.Message)

// Bus routes asynchronous messages to named mailboxes.
//
// SendAsync never blocks: mailboxes are overlapped ring buffers, a full
// mailbox drops its oldest message and the drop is counted.
type Bus struct {
	boxes  *hashmap.Map[string, *Mailbox]
	logger *logrus.Logger

	tapsMu sync.RWMutex
	taps   []Tap
}

// NewBus creates an empty bus
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		boxes:  hashmap.New[string, *Mailbox](),
		logger: logger,
	}
}

// Register creates the mailbox for target
func (b *Bus) Register(target string, capacity uint32) (*Mailbox, error) {
	if capacity == 0 {
		capacity = DefaultMailboxSize
	}
	mb := &Mailbox{
		name:   target,
		buf:    mpmc.NewOverlappedRingBuffer[event.Message](capacity),
		signal: make(chan struct{}, 1),
	}
	if _, loaded := b.boxes.GetOrInsert(target, mb); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, target)
	}
	b.logger.WithField("target", target).Debug("Registered mailbox")
	return mb, nil
}

// Unregister removes target; pending messages are discarded
func (b *Bus) Unregister(target string) {
	b.boxes.Del(target)
}

// Mailbox returns the mailbox registered for target
func (b *Bus) Mailbox(target string) (*Mailbox, bool) {
	return b.boxes.Get(target)
}

// AddTap registers an observer for every accepted message
func (b *Bus) AddTap(t Tap) {
	b.tapsMu.Lock()
	b.taps = append(b.taps, t)
	b.tapsMu.Unlock()
}

// SendAsync queues msg for target without blocking
func (b *Bus) SendAsync(target string, msg event.Message) error {
	mb, ok := b.boxes.Get(target)
	if !ok {
		b.logger.WithFields(logrus.Fields{
			"target":  target,
			"message": msg.String(),
		}).Warn("Dropping message for unknown target")
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	if err := mb.put(msg); err != nil {
		return err
	}

	b.tapsMu.RLock()
	for _, t := range b.taps {
		t(target, msg)
	}
	b.tapsMu.RUnlock()
	return nil
}

// Call sends msg and blocks the calling goroutine until the receiver replies
// or ctx is done.
func (b *Bus) Call(ctx context.Context, target string, msg event.Message) (event.Message, error) {
	reply := make(chan event.Message, 1)
	msg.Reply = reply
	if err := b.SendAsync(target, msg); err != nil {
		return event.Message{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return event.Message{}, ErrNoReply
		}
		return resp, nil
	case <-ctx.Done():
		return event.Message{}, ctx.Err()
	}
}

// Mailbox is the receive side of one target
type Mailbox struct {
	name        string
	buf         mpmc.RichOverlappedRingBuffer[event.Message]
	signal      chan struct{}
	overwritten atomic.Int64
}

func (m *Mailbox) put(msg event.Message) error {
	overwrites, err := m.buf.EnqueueM(msg)
	if err != nil {
		return fmt.Errorf("mailbox %s enqueue: %w", m.name, err)
	}
	m.overwritten.Add(int64(overwrites))

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// Name returns the target name
func (m *Mailbox) Name() string {
	return m.name
}

// Overwritten returns how many messages were dropped because the mailbox was full
func (m *Mailbox) Overwritten() int64 {
	return m.overwritten.Load()
}

// TryReceive returns the oldest message without blocking
func (m *Mailbox) TryReceive() (event.Message, bool) {
	if m.buf.IsEmpty() {
		return event.Message{}, false
	}
	msg, err := m.buf.Dequeue()
	if err != nil {
		// another consumer won the race
		return event.Message{}, false
	}
	return msg, true
}

// Receive blocks until a message is available or ctx is done
func (m *Mailbox) Receive(ctx context.Context) (event.Message, error) {
	for {
		if msg, ok := m.TryReceive(); ok {
			return msg, nil
		}
		select {
		case <-m.signal:
		case <-ctx.Done():
			return event.Message{}, ctx.Err()
		}
	}
}

// Drain returns every queued message in arrival order
func (m *Mailbox) Drain() []event.Message {
	var out []event.Message
	for {
		msg, ok := m.TryReceive()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Respond answers a message received from Call. Messages sent with
// SendAsync carry no reply channel and are ignored.
func Respond(req event.Message, resp event.Message) {
	if req.Reply == nil {
		return
	}
	select {
	case req.Reply <- resp:
	default:
	}
}
