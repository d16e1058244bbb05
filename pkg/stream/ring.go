package stream

import (
	"errors"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// RingStats are the counters of a RingStream
type RingStats struct {
	Len      int
	Cap      int
	Written  uint64
	Read     uint64
	Overflow uint64 // bytes dropped because the buffer was full
}

// RingStream is a bounded, non-blocking byte stream. Writes past capacity are
// truncated and counted; reads from an empty stream return zero bytes.
type RingStream struct {
	buf *ringbuffer.RingBuffer

	written  atomic.Uint64
	read     atomic.Uint64
	overflow atomic.Uint64
}

// NewRingStream creates a stream holding up to capacity bytes
func NewRingStream(capacity int) *RingStream {
	return &RingStream{buf: ringbuffer.New(capacity)}
}

// Write stores as much of p as fits. It never fails on a full buffer: the
// returned count tells how much was kept.
func (r *RingStream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.buf.Write(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	r.written.Add(uint64(n))
	if n < len(p) {
		r.overflow.Add(uint64(len(p) - n))
	}
	return n, nil
}

// Read drains up to len(p) bytes
func (r *RingStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.buf.Read(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, err
	}
	r.read.Add(uint64(n))
	return n, nil
}

// Len is the number of buffered bytes
func (r *RingStream) Len() int {
	return r.buf.Length()
}

// Cap is the buffer capacity
func (r *RingStream) Cap() int {
	return r.buf.Capacity()
}

// Reset drops every buffered byte
func (r *RingStream) Reset() {
	r.buf.Reset()
}

// Stats returns a snapshot of the counters
func (r *RingStream) Stats() RingStats {
	return RingStats{
		Len:      r.buf.Length(),
		Cap:      r.buf.Capacity(),
		Written:  r.written.Load(),
		Read:     r.read.Load(),
		Overflow: r.overflow.Load(),
	}
}
