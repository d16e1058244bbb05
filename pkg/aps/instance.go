package aps

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/stream"
)

// Slave restart thresholds
const (
	slaveResyncDiff    = 20
	slaveRestartDiff   = 50
	slaveRestartTicks  = 1000
	compensateOverflow = 0x3FFFFFFF
)

// Track is the playback sink the download monitor drives
type Track interface {
	SetAPSLevel(level Level)
	// FillSamples returns the number of samples written to the output so far
	FillSamples() int
	// CompensateSamples adds (or drops, when negative) samples to catch up with the peer
	CompensateSamples(n int)
}

// Resampler is the capture path the upload monitor drives
type Resampler interface {
	SetMode(mode ResampleMode)
}

// PeerObserver is the TWS runtime view the master and slave monitors use
type PeerObserver interface {
	// ExchangeSamples publishes the local sample count and returns the peer's
	ExchangeSamples(local int) (remote int)
	// Negotiate lets the link agree on a level; returns the levels to use
	Negotiate(dest, current Level) (Level, Level)
	NotifyLevelChange(level Level)
	// SamplesDiff reports the slave's offset from the master, the master's
	// level and the BT clock the report was taken at
	SamplesDiff() (diff int, masterLevel Level, clock uint16)
	TriggerRestart(reason RestartReason)
}

// Levels bounds one monitor
type Levels struct {
	Min, Default, Max Level
}

// Watermarks are buffer occupancy thresholds in the unit of the monitored buffer
type Watermarks struct {
	Increase, Reduce int
}

// Mid is the occupancy at which Inc/Dec fall back to Default
func (w Watermarks) Mid() int {
	return w.Increase - (w.Increase-w.Reduce)/2
}

// Options binds a monitor to its collaborators
type Options struct {
	StreamType stream.Type
	Role       Role
	Track      Track
	Resampler  Resampler
	Peer       PeerObserver
	// HFPMode reports whether the link runs HFP over TWS; the slave then
	// follows its own buffer like a standalone device
	HFPMode func() bool
	// HFPTWS is set when both peers support voice over TWS
	HFPTWS bool
	// LowLatency selects the short tick period for music streams. It is the
	// mode in effect after peer negotiation, not the configured one.
	LowLatency bool
}

// Instance is the APS state of one direction
type Instance struct {
	dir    Direction
	levels Levels
	marks  Watermarks
	period time.Duration
	need   bool
	opts   Options
	logger *logrus.Logger

	mu         sync.Mutex
	current    Level
	dest       Level
	status     Status
	monitorCnt int
	preClock   uint16
}

// NewInstance creates a monitor; the current and destination levels start at the default
func NewInstance(dir Direction, levels Levels, marks Watermarks, period time.Duration, opts Options, logger *logrus.Logger) *Instance {
	if logger == nil {
		logger = logrus.New()
	}
	return &Instance{
		dir:     dir,
		levels:  levels,
		marks:   marks,
		period:  period,
		need:    NeedsAPS(opts.StreamType),
		opts:    opts,
		logger:  logger,
		current: levels.Default,
		dest:    levels.Default,
		status:  StatusDefault,
	}
}

func (i *Instance) Direction() Direction { return i.dir }

func (i *Instance) Period() time.Duration { return i.period }

func (i *Instance) NeedsAdjustment() bool { return i.need }

func (i *Instance) StreamType() stream.Type { return i.opts.StreamType }

// Current returns the applied level
func (i *Instance) Current() Level {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Dest returns the level the monitor is heading to
func (i *Instance) Dest() Level {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dest
}

// Status returns the hysteresis state
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// FastSet jumps straight to level and applies it; used when a stream (re)starts
func (i *Instance) FastSet(level Level) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.setLocked(OpFastSet, level)
}

// Tick runs one monitor step with the current buffer occupancy
func (i *Instance) Tick(occupancy int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case i.dir == Upload || i.opts.Role == RoleNone || i.opts.Peer == nil:
		i.tickNormalLocked(occupancy)
	case i.opts.Role == RoleMaster:
		i.tickMasterLocked(occupancy)
	case i.opts.HFPMode != nil && i.opts.HFPMode():
		i.tickNormalLocked(occupancy)
	default:
		i.tickSlaveLocked()
	}
}

// decideLocked runs the hysteresis on occupancy and returns the op to apply
func (i *Instance) decideLocked(occupancy int) (Op, Level) {
	inc, red, mid := i.marks.Increase, i.marks.Reduce, i.marks.Mid()

	switch i.status {
	case StatusInc:
		switch {
		case occupancy < red:
			i.status = StatusDec
			return OpSet, i.levels.Min
		case occupancy <= mid:
			i.status = StatusDefault
			return OpSet, i.levels.Default
		}
	case StatusDec:
		switch {
		case occupancy > inc:
			i.status = StatusInc
			return OpSet, i.levels.Max
		case occupancy >= mid:
			i.status = StatusDefault
			return OpSet, i.levels.Default
		}
	default:
		switch {
		case occupancy > inc:
			i.status = StatusInc
			return OpSet, i.levels.Max
		case occupancy < red:
			i.status = StatusDec
			return OpSet, i.levels.Min
		}
	}
	return OpAdjust, i.dest
}

func (i *Instance) tickNormalLocked(occupancy int) {
	if !i.need {
		return
	}
	op, level := i.decideLocked(occupancy)
	i.setLocked(op, level)
}

func (i *Instance) tickMasterLocked(occupancy int) {
	peer := i.opts.Peer

	if i.opts.Track != nil {
		peer.ExchangeSamples(i.opts.Track.FillSamples())
	}

	if !i.need {
		i.dest = i.current
		peer.Negotiate(i.dest, i.current)
		return
	}

	_, dest := i.decideLocked(occupancy)
	dest, cur := peer.Negotiate(i.clamp(dest), i.current)
	i.dest = i.clamp(dest)
	i.current = i.clamp(cur)

	if i.current == i.dest {
		return
	}
	i.current = i.step(i.current, i.dest)
	peer.NotifyLevelChange(i.current)
	i.applyLocked()
}

func (i *Instance) tickSlaveLocked() {
	peer := i.opts.Peer

	diff, masterLevel, clk := peer.SamplesDiff()
	level := i.clamp(masterLevel)
	if clk != i.preClock || abs(diff) > slaveResyncDiff {
		level = i.clamp(offsetLevel(masterLevel, diff))
		i.preClock = clk
	}
	i.setLocked(OpSet, level)

	if abs(diff) > slaveRestartDiff {
		i.monitorCnt++
		if i.monitorCnt > slaveRestartTicks {
			i.logger.WithFields(logrus.Fields{
				"diff":  diff,
				"ticks": i.monitorCnt,
			}).Warn("Slave drift persisted, restarting playback")
			i.monitorCnt = 0
			peer.TriggerRestart(RestartSampleDiff)
			return
		}
	} else {
		i.monitorCnt = 0
	}

	if i.opts.Track == nil {
		return
	}
	local := i.opts.Track.FillSamples()
	remote := peer.ExchangeSamples(local)
	comp := remote - local
	if comp != 0 {
		i.opts.Track.CompensateSamples(comp)
	}
	if abs(comp) > compensateOverflow {
		i.logger.WithField("diff", comp).Warn("Sample compensation overflow, restarting playback")
		peer.TriggerRestart(RestartSampleDiff)
	}
}

// offsetLevel maps the slave's sample offset onto the master level
func offsetLevel(master Level, diff int) Level {
	shift := 0
	switch {
	case diff < -15:
		shift = -3
	case diff < -10:
		shift = -2
	case diff < -5:
		shift = -1
	case diff > 15:
		shift = 3
	case diff > 10:
		shift = 2
	case diff > 5:
		shift = 1
	}
	l := int(master) + shift
	if l < int(Level1) {
		l = int(Level1)
	}
	if l > int(Level8) {
		l = int(Level8)
	}
	return Level(l)
}

func (i *Instance) setLocked(op Op, level Level) {
	level = i.clamp(level)

	switch op {
	case OpFastSet:
		i.dest = level
		i.current = level
		i.applyLocked()
		return
	case OpSet:
		i.dest = level
	}

	if i.current == i.dest {
		return
	}
	i.current = i.step(i.current, i.dest)
	i.applyLocked()
}

func (i *Instance) applyLocked() {
	i.logger.WithFields(logrus.Fields{
		"dir":    i.dir,
		"level":  i.current,
		"dest":   i.dest,
		"status": i.status,
	}).Debug("APS level changed")

	if i.dir == Upload {
		if i.opts.Resampler == nil {
			return
		}
		switch {
		case i.current > Level5:
			i.opts.Resampler.SetMode(ResampleDown)
		case i.current < Level5:
			i.opts.Resampler.SetMode(ResampleUp)
		default:
			i.opts.Resampler.SetMode(ResampleDefault)
		}
		return
	}
	if i.opts.Track != nil {
		i.opts.Track.SetAPSLevel(i.current)
	}
}

func (i *Instance) step(cur, dest Level) Level {
	if cur < dest {
		return cur + 1
	}
	if cur > dest {
		return cur - 1
	}
	return cur
}

func (i *Instance) clamp(l Level) Level {
	if l < i.levels.Min {
		return i.levels.Min
	}
	if l > i.levels.Max {
		return i.levels.Max
	}
	return l
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
