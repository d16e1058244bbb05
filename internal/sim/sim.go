package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/workq"
	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/device"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// ErrNotPaired is returned by Start when the devices did not form a link
var ErrNotPaired = errors.New("devices did not pair")

// WorkQueueDepth bounds the shared work queue used with Options.WorkQueue
const WorkQueueDepth = 64

// PhoneAddress is the phone connected to the master
var PhoneAddress = device.MustParseAddress("5C:F3:70:11:22:33")

// Options configures a simulation
type Options struct {
	Config config.Config

	// Ticks is the number of APS periods Run steps through
	Ticks int

	// SourcePPM offsets the phone's sample rate against the master's playback clock
	SourcePPM int

	// SlaveDriftPPM offsets the slave's playback clock against the master's
	SlaveDriftPPM int

	// UIEvery sends a synchronized UI event from the master every n ticks; 0 disables
	UIEvery int

	// PrefillMillis is the audio buffered before playback starts
	PrefillMillis int

	// LegacySlave makes the slave announce a US281B-era protocol version
	LegacySlave bool

	// WorkQueue runs controller callbacks on a work queue goroutine instead of
	// inline. The simulator waits for the queue to settle after every step so
	// results stay deterministic.
	WorkQueue bool

	Logger *logrus.Logger
}

// Dispatch is one UI event delivered to a device's application
type Dispatch struct {
	Device string `json:"device"`
	Param  uint32 `json:"param"`
	Clock  uint32 `json:"clock"`
}

// Report summarizes a run
type Report struct {
	Ticks       int        `json:"ticks"`
	ElapsedUs   int        `json:"elapsed_us"`
	MasterLevel aps.Level  `json:"master_level"`
	SlaveLevel  aps.Level  `json:"slave_level"`
	MasterFill  int        `json:"master_fill_ms"`
	SlaveFill   int        `json:"slave_fill_ms"`
	MinFill     int        `json:"min_fill_ms"`
	MaxFill     int        `json:"max_fill_ms"`
	MaxSkew     int        `json:"max_skew_frames"`
	LevelMoves  int        `json:"level_moves"`
	Restarts    int        `json:"restarts"`
	Overflow    uint64     `json:"overflow_bytes"`
	Dispatches  []Dispatch `json:"dispatches"`
}

// Simulator steps a master and a slave through playback
type Simulator struct {
	Master   *Device
	Slave    *Device
	Clock    *Clock
	Observer *LinkObserver

	opts   Options
	period time.Duration
	queue  *workq.Queue
	logger *logrus.Logger

	mu         sync.Mutex
	startClock uint32
	ticks      int
	source     float64
	minFill    int
	maxFill    int
	maxSkew    int
	dispatches []Dispatch
}

// New creates the two devices on a shared clock. The clock starts close to
// its wrap point so long runs cross it.
func New(opts Options) (*Simulator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PrefillMillis <= 0 {
		mid := opts.Config.APS.IncreaseWatermark - (opts.Config.APS.IncreaseWatermark-opts.Config.APS.ReduceWatermark)/2
		opts.PrefillMillis = mid
	}

	clock := NewClock(0xFFFF0000)
	master, err := NewDevice("master", opts.Config, clock, protocol.SpeakerLeft, logger)
	if err != nil {
		return nil, err
	}
	slaveCfg := opts.Config
	if opts.LegacySlave {
		slaveCfg.TWS.Protocol = config.ProtocolLegacy
	}
	slave, err := NewDevice("slave", slaveCfg, clock, protocol.SpeakerRight, logger)
	if err != nil {
		return nil, err
	}
	slave.DriftPPM = opts.SlaveDriftPPM
	if opts.LegacySlave {
		slave.ProtocolVersion(protocol.US281BStartVersion+4, protocol.CurrentFeatures)
	}

	s := &Simulator{
		Master:   master,
		Slave:    slave,
		Clock:    clock,
		Observer: NewLinkObserver(clock, logger),
		opts:     opts,
		period:   opts.Config.APS.TickPeriod,
		logger:   logger,
		minFill:  -1,
	}
	if opts.WorkQueue {
		s.queue = workq.New("sim-workq", WorkQueueDepth, logger)
		master.Ctrl.SetDispatcher(s.queue.Handle)
		slave.Ctrl.SetDispatcher(s.queue.Handle)
	}
	for _, d := range []*Device{master, slave} {
		name := d.Name
		d.Bus.AddTap(func(_ string, msg event.Message) {
			if msg.Kind == event.KindSysEvent && msg.Value == uint32(protocol.EventUI) {
				s.recordDispatch(name, msg.Cmd)
			}
		})
	}
	return s, nil
}

func (s *Simulator) recordDispatch(name string, param uint32) {
	s.mu.Lock()
	s.dispatches = append(s.dispatches, Dispatch{Device: name, Param: param, Clock: s.Clock.Now()})
	s.mu.Unlock()
}

// Start brings both devices up, connects a phone to the master, pairs them
// and starts playback.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startClock = s.Clock.Now()
	s.mu.Unlock()

	if s.queue != nil {
		s.queue.Start(ctx)
	}

	for _, d := range []*Device{s.Master, s.Slave} {
		if err := d.Manager.Init(ctx); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}

	s.Master.Ctrl.ConnectPhone(PhoneAddress, "Phone")
	if err := s.settle(ctx); err != nil {
		return err
	}

	if err := s.Master.TWS.WaitPair(ctx); err != nil {
		return err
	}
	if !s.Master.Ctrl.WaitingPair() {
		return fmt.Errorf("%w: master is not waiting for a peer", ErrNotPaired)
	}
	Link(s.Master.Ctrl, s.Slave.Ctrl, s.Observer)
	if err := s.settle(ctx); err != nil {
		return err
	}

	for _, d := range []*Device{s.Master, s.Slave} {
		if err := d.StartPlayback(s.opts.PrefillMillis); err != nil {
			return fmt.Errorf("%s: failed to start playback: %w", d.Name, err)
		}
	}
	return s.settle(ctx)
}

// Close stops the work queue, if any
func (s *Simulator) Close() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// settle waits for the callbacks raised so far to run
func (s *Simulator) settle(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}
	if err := s.queue.Settle(ctx); err != nil {
		return fmt.Errorf("work queue: %w", err)
	}
	return nil
}

// Step advances the simulation by one APS period
func (s *Simulator) Step(ctx context.Context) error {
	ms := int(s.period / time.Millisecond)
	frames := ms * FramesPerMs

	s.mu.Lock()
	exact := float64(frames)*(1+float64(s.opts.SourcePPM)/1e6) + s.source
	in := int(exact)
	s.source = exact - float64(in)
	s.ticks++
	tick := s.ticks
	s.mu.Unlock()

	for _, d := range []*Device{s.Master, s.Slave} {
		d.Feed(in)
		d.Track.Consume(frames, d.DriftPPM)
	}

	// the master reports its fill before the slave compares against it
	s.Master.APS.Tick(aps.Download, s.Master.OccupancyMillis())
	s.Slave.APS.Tick(aps.Download, s.Slave.OccupancyMillis())

	s.Clock.Advance(protocol.TimeToClock(s.period))
	s.Master.Ctrl.IRQ()
	s.Slave.Ctrl.IRQ()
	if err := s.settle(ctx); err != nil {
		return err
	}

	if s.opts.UIEvery > 0 && tick%s.opts.UIEvery == 0 {
		if _, err := s.Master.TWS.Channel().SendSync(protocol.EventUI, uint32(tick)); err != nil {
			s.logger.WithError(err).Warn("Failed to send sync event")
		}
		if err := s.settle(ctx); err != nil {
			return err
		}
	}

	s.track()
	return nil
}

func (s *Simulator) track() {
	mf, sf := s.Master.OccupancyMillis(), s.Slave.OccupancyMillis()
	skew := s.Master.Track.FillSamples() - s.Slave.Track.FillSamples()
	if skew < 0 {
		skew = -skew
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range []int{mf, sf} {
		if s.minFill < 0 || f < s.minFill {
			s.minFill = f
		}
		if f > s.maxFill {
			s.maxFill = f
		}
	}
	if skew > s.maxSkew {
		s.maxSkew = skew
	}
}

// Run starts the devices and steps through opts.Ticks periods
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return Report{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"ticks":      s.opts.Ticks,
		"period":     s.period,
		"source_ppm": s.opts.SourcePPM,
		"slave_ppm":  s.opts.SlaveDriftPPM,
		"work_queue": s.queue != nil,
	}).Info("Simulation started")

	for i := 0; i < s.opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return s.Report(), err
		}
		if err := s.Step(ctx); err != nil {
			return s.Report(), err
		}
	}

	// let the events still queued reach their target clock
	lead := s.Master.TWS.Channel().LeadTicks()
	s.Clock.Advance(lead)
	s.Master.Ctrl.IRQ()
	s.Slave.Ctrl.IRQ()
	if err := s.settle(ctx); err != nil {
		return s.Report(), err
	}

	r := s.Report()
	s.logger.WithFields(logrus.Fields{
		"master_level": r.MasterLevel,
		"slave_level":  r.SlaveLevel,
		"max_skew":     r.MaxSkew,
		"restarts":     r.Restarts,
	}).Info("Simulation finished")
	return r, nil
}

// Report returns the counters collected so far
func (s *Simulator) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	minFill := s.minFill
	if minFill < 0 {
		minFill = 0
	}
	return Report{
		Ticks:       s.ticks,
		ElapsedUs:   aps.ClockDelta(aps.ClockSample{Clock: s.Clock.Now()}, aps.ClockSample{Clock: s.startClock}, 0, 0),
		MasterLevel: s.Master.Track.Level(),
		SlaveLevel:  s.Slave.Track.Level(),
		MasterFill:  s.Master.OccupancyMillis(),
		SlaveFill:   s.Slave.OccupancyMillis(),
		MinFill:     minFill,
		MaxFill:     s.maxFill,
		MaxSkew:     s.maxSkew,
		LevelMoves:  s.Master.Track.Changes(),
		Restarts:    len(s.Observer.Restarts()),
		Overflow:    s.Master.Ring.Stats().Overflow + s.Slave.Ring.Stats().Overflow,
		Dispatches:  append([]Dispatch(nil), s.dispatches...),
	}
}
