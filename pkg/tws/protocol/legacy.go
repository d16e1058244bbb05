package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/srg/twsync/pkg/event"
)

// LegacyCmd is the first byte of a US281B command
type LegacyCmd uint8

// Slave to master (S2M) and master to slave (M2S) commands
const (
	LegacySyncReply      LegacyCmd = 0x01
	LegacyBattery        LegacyCmd = 0x02
	LegacyKey            LegacyCmd = 0x03
	LegacyPlayTTS        LegacyCmd = 0x04
	LegacyBTPlay         LegacyCmd = 0x05
	LegacySetVolume      LegacyCmd = 0x81
	LegacyVolumeLimit    LegacyCmd = 0x82
	LegacySwitchPosition LegacyCmd = 0x83
	LegacyPowerOff       LegacyCmd = 0x84
	LegacySwitchTWSMode  LegacyCmd = 0x90
	LegacyStartPlayer    LegacyCmd = 0xC1
	LegacyStopPlayer     LegacyCmd = 0xC2
)

// LegacyPowerOffKey is the argument of LegacyPowerOff
const LegacyPowerOffKey = 1

// Speaker positions for LegacySwitchPosition
const (
	SpeakerStereo uint8 = 0
	SpeakerLeft   uint8 = 1
	SpeakerRight  uint8 = 2
)

// Command is one encoded command for the controller. Sync commands wait for
// the peer acknowledgement.
type Command struct {
	Data []byte
	Sync bool
}

// PlayState is a playback change carried by a legacy command
type PlayState uint8

const (
	PlayUnchanged PlayState = iota
	PlayStarted
	PlayStopped
)

// Inbound is the local effect of one legacy command
type Inbound struct {
	// Frame is the equivalent native frame, nil when the command has none
	Frame []byte

	ChannelSwitch bool
	Position      uint8

	Play PlayState
}

// FeatureCheck reports whether both peers support a feature
type FeatureCheck func(Feature) bool

// Legacy translates between the native frames and the US281B command set.
//
// It remembers the sink TWS mode and volume announced by the peer, which the
// legacy commands omit, so inbound volume changes can be rebuilt as native
// volume frames.
type Legacy struct {
	supports FeatureCheck

	mu         sync.Mutex
	sinkMode   TWSMode
	sinkDRC    DRCMode
	sinkVolume uint8
}

// NewLegacy creates a translator. A nil check treats every feature as supported.
func NewLegacy(supports FeatureCheck) *Legacy {
	if supports == nil {
		supports = func(Feature) bool { return true }
	}
	return &Legacy{supports: supports}
}

// Reset forgets the sink state; called when the TWS link drops
func (l *Legacy) Reset() {
	l.mu.Lock()
	l.sinkMode, l.sinkDRC, l.sinkVolume = TWSModeSingle, DRCModeNormal, 0
	l.mu.Unlock()
}

// SinkMode returns the sink TWS and DRC mode last announced by the peer
func (l *Legacy) SinkMode() (TWSMode, DRCMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinkMode, l.sinkDRC
}

// SinkVolume returns the volume last set on the sink
func (l *Legacy) SinkVolume() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinkVolume
}

type toLegacyFunc func(l *Legacy, native []byte) ([]Command, error)

var toLegacyTable = map[EventID]toLegacyFunc{
	EventUI: func(*Legacy, []byte) ([]Command, error) {
		return nil, fmt.Errorf("%w: ui events are not relayed to legacy peers", ErrNotTranslatable)
	},
	EventVolume: func(_ *Legacy, b []byte) ([]Command, error) {
		// the legacy command carries no media type
		return []Command{{Data: SetVolumeCommand(b[2])}}, nil
	},
	EventSystem: func(_ *Legacy, b []byte) ([]Command, error) {
		ev := binary.LittleEndian.Uint32(b[1:5])
		if ev != event.SysEventPowerOff {
			return nil, fmt.Errorf("%w: system event %d", ErrNotTranslatable, ev)
		}
		return []Command{{Data: []byte{byte(LegacyPowerOff), LegacyPowerOffKey}}}, nil
	},
	EventStatus: func(l *Legacy, b []byte) ([]Command, error) {
		st, err := DecodeStatus(b)
		if err != nil {
			return nil, err
		}
		startStop := l.supports(FeatureUIStartStopCmd)
		switch st.SubEvent {
		case StatusStartPlay:
			if !startStop {
				return []Command{{Data: SetVolumeCommand(st.Volume), Sync: true}}, nil
			}
			return []Command{{
				Data: []byte{byte(LegacyStartPlayer), StatusStartPlay, byte(st.MediaType), st.Codec, st.SampleRate, st.Volume},
				Sync: true,
			}}, nil
		case StatusStopPlay:
			if !startStop {
				return nil, nil
			}
			return []Command{{Data: []byte{byte(LegacyStopPlayer), StatusStopPlay}, Sync: true}}, nil
		default:
			return nil, fmt.Errorf("%w: status sub-event 0x%02x", ErrNotTranslatable, st.SubEvent)
		}
	},
	EventBattery: func(_ *Legacy, b []byte) ([]Command, error) {
		percent, _ := SplitBattery(binary.LittleEndian.Uint32(b[1:5]))
		return []Command{{Data: []byte{byte(LegacyBattery), percent / 10}}}, nil
	},
	EventInput: func(_ *Legacy, b []byte) ([]Command, error) {
		cmd := make([]byte, 5)
		cmd[0] = byte(LegacyKey)
		copy(cmd[1:], b[1:5])
		return []Command{{Data: cmd}}, nil
	},
}

// ToLegacy translates a native frame into the commands a legacy peer
// understands. A frame with no legacy meaning yields ErrNotTranslatable; a
// frame that legitimately maps to nothing yields no commands and no error.
func (l *Legacy) ToLegacy(native []byte) ([]Command, error) {
	if len(native) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(native))
	}
	fn, ok := toLegacyTable[EventID(native[0])]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownEvent, native[0])
	}
	if EventID(native[0]) != EventStatus && len(native) < FrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(native))
	}
	return fn(l, native)
}

type fromLegacyEntry struct {
	minLen int
	fn     func(l *Legacy, b []byte) Inbound
}

var fromLegacyTable = map[LegacyCmd]fromLegacyEntry{
	LegacyBattery: {2, func(_ *Legacy, b []byte) Inbound {
		return Inbound{Frame: Encode(Frame{Event: EventBattery, Param: BatteryParam(b[1] & 0xF)})}
	}},
	LegacyKey: {5, func(_ *Legacy, b []byte) Inbound {
		return Inbound{Frame: Encode(Frame{Event: EventInput, Param: binary.LittleEndian.Uint32(b[1:5])})}
	}},
	LegacySetVolume: {2, func(l *Legacy, b []byte) Inbound {
		l.mu.Lock()
		l.sinkVolume = b[1]
		media := StreamForMode(l.sinkMode)
		l.mu.Unlock()
		return Inbound{Frame: Encode(Frame{Event: EventVolume, Param: VolumeParam(media, b[1])})}
	}},
	LegacyVolumeLimit: {1, func(*Legacy, []byte) Inbound {
		return Inbound{}
	}},
	LegacySwitchPosition: {2, func(_ *Legacy, b []byte) Inbound {
		return Inbound{ChannelSwitch: true, Position: b[1]}
	}},
	LegacyPowerOff: {1, func(*Legacy, []byte) Inbound {
		return Inbound{Frame: Encode(Frame{Event: EventSystem, Param: event.SysEventPowerOff})}
	}},
	LegacySwitchTWSMode: {3, func(l *Legacy, b []byte) Inbound {
		l.mu.Lock()
		l.sinkMode, l.sinkDRC = TWSMode(b[1]), DRCMode(b[2])
		l.mu.Unlock()
		return Inbound{}
	}},
	LegacyStartPlayer: {StatusFrameLen, func(_ *Legacy, b []byte) Inbound {
		f := make([]byte, StatusFrameLen)
		copy(f, b[:StatusFrameLen])
		f[0] = byte(EventStatus)
		return Inbound{Frame: f, Play: PlayStarted}
	}},
	LegacyStopPlayer: {2, func(_ *Legacy, b []byte) Inbound {
		return Inbound{Frame: []byte{byte(EventStatus), b[1], 0, 0, 0}, Play: PlayStopped}
	}},
}

// FromLegacy translates one command received from a legacy peer
func (l *Legacy) FromLegacy(data []byte) (Inbound, error) {
	if len(data) == 0 {
		return Inbound{}, fmt.Errorf("%w: empty legacy command", ErrMalformedFrame)
	}
	entry, ok := fromLegacyTable[LegacyCmd(data[0])]
	if !ok {
		return Inbound{}, fmt.Errorf("%w: legacy command 0x%02x", ErrUnknownEvent, data[0])
	}
	if len(data) < entry.minLen {
		return Inbound{}, fmt.Errorf("%w: legacy command 0x%02x of %d bytes", ErrMalformedFrame, data[0], len(data))
	}
	return entry.fn(l, data), nil
}

// SinkStartPlay builds the native start-play status frame for a legacy sink
// that reported [codec][sample rate] when playback began.
func (l *Legacy) SinkStartPlay(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: sink start play of %d bytes", ErrMalformedFrame, len(data))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return StatusFrame{
		SubEvent:   StatusStartPlay,
		MediaType:  StreamForMode(l.sinkMode),
		Codec:      data[0],
		SampleRate: data[1],
		Volume:     l.sinkVolume,
	}.Encode(), nil
}

// SetVolumeCommand sets the sink volume
func SetVolumeCommand(volume uint8) []byte {
	return []byte{byte(LegacySetVolume), volume}
}

// VolumeLimitCommand sets the sink volume limit
func VolumeLimitCommand(limit uint16) []byte {
	b := []byte{byte(LegacyVolumeLimit), 0, 0}
	binary.LittleEndian.PutUint16(b[1:], limit)
	return b
}

// SwitchPositionCommand selects the sink speaker position
func SwitchPositionCommand(pos uint8) []byte {
	return []byte{byte(LegacySwitchPosition), pos}
}

// SwitchTWSModeCommand announces the sink TWS and DRC mode
func SwitchTWSModeCommand(mode TWSMode, drc DRCMode) []byte {
	return []byte{byte(LegacySwitchTWSMode), byte(mode), byte(drc)}
}
