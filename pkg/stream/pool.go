package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Slot is a logical audio stream position shared by the profiles and the TWS relay
type Slot uint8

const (
	SlotA2DP Slot = iota
	SlotLocal
	SlotSCO
	SlotSPP

	slotCount
)

func (s Slot) String() string {
	switch s {
	case SlotA2DP:
		return "a2dp"
	case SlotLocal:
		return "local"
	case SlotSCO:
		return "sco"
	case SlotSPP:
		return "spp"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

// Stream is an audio I/O stream handle. Len is the number of buffered bytes.
type Stream interface {
	io.Reader
	io.Writer
	Len() int
}

// Relay mirrors local audio to the TWS peer
type Relay interface {
	SetInput(s Stream) error
	SetSCOInput(s Stream, t Type) error
}

type entry struct {
	stream  Stream
	enabled bool
}

// Pool maps slots to the streams currently producing audio for them.
// Setting the A2DP, local or SCO slot also routes the stream into the relay.
type Pool struct {
	relay  Relay
	logger *logrus.Logger

	mu    sync.Mutex
	slots [slotCount]entry
}

// NewPool creates a pool; relay may be nil when no TWS relay exists
func NewPool(relay Relay, logger *logrus.Logger) *Pool {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{relay: relay, logger: logger}
}

func (p *Pool) check(slot Slot) error {
	if slot >= slotCount {
		return fmt.Errorf("invalid stream slot %d", uint8(slot))
	}
	return nil
}

// Set stores s in slot, nil clears it, and routes it to the relay
func (p *Pool) Set(slot Slot, s Stream) error {
	if err := p.check(slot); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots[slot].stream = s
	p.logger.WithFields(logrus.Fields{
		"slot":  slot.String(),
		"empty": s == nil,
	}).Debug("Stream pool slot set")

	if p.relay == nil {
		return nil
	}

	var err error
	switch slot {
	case SlotA2DP, SlotLocal:
		err = p.relay.SetInput(s)
	case SlotSCO:
		err = p.relay.SetSCOInput(s, TypeVoice)
	}
	if err != nil {
		return fmt.Errorf("failed to route %s stream to relay: %w", slot, err)
	}
	return nil
}

// Get returns the stream in slot, nil when empty
func (p *Pool) Get(slot Slot) Stream {
	if p.check(slot) != nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[slot].stream
}

// Enable marks slot as enabled or disabled
func (p *Pool) Enable(slot Slot, enable bool) error {
	if err := p.check(slot); err != nil {
		return err
	}
	p.mu.Lock()
	p.slots[slot].enabled = enable
	p.mu.Unlock()
	return nil
}

// IsEnabled reports whether slot is enabled
func (p *Pool) IsEnabled(slot Slot) bool {
	if p.check(slot) != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[slot].enabled
}

// WithLock runs fn holding the pool lock. fn must not call back into the pool.
func (p *Pool) WithLock(fn func(get func(Slot) Stream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(func(slot Slot) Stream {
		if slot >= slotCount {
			return nil
		}
		return p.slots[slot].stream
	})
}
