// Package protocol implements the byte protocol spoken between the two halves
// of a TWS pair, and the translation to the legacy US281B command set.
//
// A frame is one event id byte followed by a little-endian u32 parameter.
// Sync frames append the little-endian BT clock value at which both devices
// act on the event:
//
//	+-------+-----------+-------------------+
//	| event | param u32 | target clock u32  |
//	+-------+-----------+-------------------+
//	   0       1..4         5..8 (sync only)
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedFrame  = errors.New("malformed tws frame")
	ErrUnknownEvent    = errors.New("unknown tws event")
	ErrNotTranslatable = errors.New("event has no legacy equivalent")
)

// EventID is the first byte of every frame
type EventID uint8

const (
	EventUI      EventID = 0x01
	EventInput   EventID = 0x02
	EventSystem  EventID = 0x03
	EventVolume  EventID = 0x04
	EventStatus  EventID = 0x05
	EventBattery EventID = 0x06
)

// Status sub-events. Shared by every firmware version; never renumber.
const (
	StatusStartPlay uint8 = 0xE0
	StatusStopPlay  uint8 = 0xE1
)

// Frame sizes
const (
	FrameLen       = 5
	SyncFrameLen   = 9
	StatusFrameLen = 6
)

// Peer protocol versions
const (
	CurrentVersion         uint8 = 0x11
	WoodpeckerStartVersion uint8 = 0x10
	WoodpeckerEndVersion   uint8 = 0x2F
	US281BStartVersion     uint8 = 0x01
	US281BEndVersion       uint8 = 0x0F
)

// IsWoodpecker reports whether v belongs to the current firmware family
func IsWoodpecker(v uint8) bool {
	return v >= WoodpeckerStartVersion && v <= WoodpeckerEndVersion
}

// Feature is a bit in the peer feature mask
type Feature uint32

const (
	FeatureSubwoofer      Feature = 1 << 0
	FeatureA2DPAAC        Feature = 1 << 1
	FeatureLowLatency     Feature = 1 << 2
	FeatureUIStartStopCmd Feature = 1 << 3
	FeatureHFPTWS         Feature = 1 << 4
)

// CurrentFeatures is the feature mask advertised by this firmware
const CurrentFeatures = FeatureA2DPAAC | FeatureLowLatency | FeatureUIStartStopCmd | FeatureHFPTWS

var eventNames = map[EventID]string{
	EventUI:      "ui",
	EventInput:   "input",
	EventSystem:  "system",
	EventVolume:  "volume",
	EventStatus:  "status",
	EventBattery: "battery",
}

func (e EventID) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(0x%02x)", uint8(e))
}

// Valid reports whether e is a known event id
func (e EventID) Valid() bool {
	_, ok := eventNames[e]
	return ok
}

// ParseEventID maps an event name back to its id
func ParseEventID(s string) (EventID, error) {
	for id, n := range eventNames {
		if n == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// Frame is one decoded cross-device message
type Frame struct {
	Event       EventID
	Param       uint32
	Sync        bool
	TargetClock uint32

	// Raw holds the frame as received; status frames carry fields past the param
	Raw []byte
}

// Encode serializes f. Sync frames are nine bytes, others five.
func Encode(f Frame) []byte {
	n := FrameLen
	if f.Sync {
		n = SyncFrameLen
	}
	b := make([]byte, n)
	b[0] = byte(f.Event)
	binary.LittleEndian.PutUint32(b[1:5], f.Param)
	if f.Sync {
		binary.LittleEndian.PutUint32(b[5:9], f.TargetClock)
	}
	return b
}

// Decode parses a frame. Frames of nine bytes or more carry a target clock.
// Other than status frames, a frame is either exactly five bytes or at least nine.
func Decode(b []byte) (Frame, error) {
	if len(b) < FrameLen {
		// a stop-play status frame may arrive as just [status][sub-event]
		if len(b) >= 2 && EventID(b[0]) == EventStatus {
			padded := make([]byte, FrameLen)
			copy(padded, b)
			b = padded
		} else {
			return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
		}
	}

	f := Frame{
		Event: EventID(b[0]),
		Param: binary.LittleEndian.Uint32(b[1:5]),
		Raw:   b,
	}
	if !f.Event.Valid() {
		return f, fmt.Errorf("%w: 0x%02x", ErrUnknownEvent, b[0])
	}
	if f.Event != EventStatus && len(b) > FrameLen && len(b) < SyncFrameLen {
		return Frame{}, fmt.Errorf("%w: %d byte %s frame", ErrMalformedFrame, len(b), f.Event)
	}
	if len(b) >= SyncFrameLen && f.Event != EventStatus {
		f.Sync = true
		f.TargetClock = binary.LittleEndian.Uint32(b[5:9])
	}
	return f, nil
}

// TimeToClock converts d to BT clock ticks. One tick is half a 625 µs slot,
// computed as ms * 10000 / 3125 in integer arithmetic so both peers agree:
// 100 ms is 320 ticks.
func TimeToClock(d time.Duration) uint32 {
	ms := uint32(d / time.Millisecond)
	return ms * 10000 / 3125
}
