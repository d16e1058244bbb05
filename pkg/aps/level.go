package aps

import (
	"fmt"

	"github.com/srg/twsync/pkg/stream"
)

// Level is an output rate adjustment step. Level5 is the nominal rate;
// higher levels play faster and drain the buffer.
type Level uint8

const (
	Level1 Level = iota
	Level2
	Level3
	Level4
	Level5
	Level6
	Level7
	Level8
)

// Default bounds
const (
	DefaultMinLevel = Level4
	DefaultLevel    = Level5
	DefaultMaxLevel = Level6
)

func (l Level) String() string {
	return fmt.Sprintf("L%d", uint8(l)+1)
}

// Direction selects the playback (download) or capture (upload) monitor
type Direction uint8

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Status is the hysteresis state of one monitor
type Status uint8

const (
	StatusDec Status = iota
	StatusInc
	StatusDefault
)

func (s Status) String() string {
	switch s {
	case StatusDec:
		return "dec"
	case StatusInc:
		return "inc"
	default:
		return "default"
	}
}

// Op is a level request
type Op uint8

const (
	OpSet     Op = 1 << 0 // set the destination, step toward it
	OpAdjust  Op = 1 << 1 // step toward the current destination
	OpFastSet Op = 1 << 2 // jump to the level immediately
)

// ResampleMode drives the capture resampler
type ResampleMode uint8

const (
	ResampleUp ResampleMode = iota
	ResampleDown
	ResampleDefault
)

// RestartReason is passed to PeerObserver.TriggerRestart
type RestartReason uint8

const (
	RestartSampleDiff RestartReason = iota
	RestartDecodeError
	RestartLostFrame
	RestartAlreadyRunning
	RestartMonitorTimeout
)

// Role is the TWS role the monitor runs under
type Role uint8

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

// NeedsAPS reports whether a stream type is rate adjusted. Local sources
// have no remote clock to follow.
func NeedsAPS(t stream.Type) bool {
	switch t {
	case stream.TypeMicIn, stream.TypeFM, stream.TypeLineIn, stream.TypeTTS, stream.TypeLocalMusic:
		return false
	default:
		return true
	}
}

// Clock delta arithmetic. The BT clock ticks every 312.5 µs (half a 625 µs
// slot); both peers must compute identical deltas, so the fixed-point form is
// kept as is: ticks*312 + ticks/2.
const (
	TickDeciMicros     = 3125
	PlaybackSlotMicros = 7500
	RecordSlotMicros   = 3750
)

// ClockSample is a BT clock reading with its intra-slot offset in µs (0..1249)
type ClockSample struct {
	Clock     uint32
	Intraslot uint16
}

// ClockDelta returns the time in µs between prev and now, plus count audio
// slots of slotMicros each.
func ClockDelta(now, prev ClockSample, count int, slotMicros int) int {
	d := int(int32(now.Clock - prev.Clock))
	rel := d*312 + d/2 + count*slotMicros
	if now.Intraslot >= prev.Intraslot {
		rel += int(now.Intraslot - prev.Intraslot)
	} else {
		rel -= int(prev.Intraslot - now.Intraslot)
	}
	return rel
}
