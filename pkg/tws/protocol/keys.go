package protocol

import (
	"sync"
	"time"
)

// Key event layout: key value in bits 8..15, key type in the upper 16 bits.
const (
	KeyTypeShortDown   uint32 = 1 << 16
	KeyTypeShortUp     uint32 = 1 << 17
	KeyTypeLongDown    uint32 = 1 << 18
	KeyTypeLong        uint32 = 1 << 19
	KeyTypeHold        uint32 = 1 << 20
	KeyTypeLongUp      uint32 = 1 << 21
	KeyTypeDoubleClick uint32 = 1 << 22
	KeyTypeTripleClick uint32 = 1 << 23

	KeyTypeAll uint32 = 0xFFFF0000
)

// DoubleClickWindow is the maximum gap between two identical key events
// merged into a double click
const DoubleClickWindow = 300 * time.Millisecond

// KeyEvent builds a key event from its type and value
func KeyEvent(keyType uint32, value uint8) uint32 {
	return keyType&KeyTypeAll | uint32(value)<<8
}

// KeyConverter adapts key events reported by a legacy peer, whose key state
// machine differs from ours: short-down is not reported, a short-up after a
// hold is a long-up, and a repeat of the same key within DoubleClickWindow is
// a double click.
type KeyConverter struct {
	now func() time.Time

	mu        sync.Mutex
	prevType  uint32
	prevValue uint8
	prevAt    time.Time
}

// NewKeyConverter creates a converter; nil now uses time.Now
func NewKeyConverter(now func() time.Time) *KeyConverter {
	if now == nil {
		now = time.Now
	}
	return &KeyConverter{now: now}
}

// Convert returns the key event to report and false when it must be dropped
func (k *KeyConverter) Convert(key uint32) (uint32, bool) {
	keyType := key & KeyTypeAll
	value := uint8(key >> 8)

	if keyType == KeyTypeShortDown {
		return 0, false
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if keyType == KeyTypeShortUp && k.prevValue == value && k.prevType == KeyTypeHold {
		keyType = KeyTypeLongUp
	}

	at := k.now()
	if k.prevValue == value && k.prevType == keyType && at.Sub(k.prevAt) < DoubleClickWindow {
		keyType = KeyTypeDoubleClick
	}

	k.prevType = keyType
	k.prevValue = value
	k.prevAt = at
	return KeyEvent(keyType, value), true
}
