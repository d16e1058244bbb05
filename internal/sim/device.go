package sim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/msgbus"
	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// Audio format of the simulated stream: 48 kHz, 16-bit stereo
const (
	FrameBytes   = 4
	FramesPerMs  = 48
	BytesPerMs   = FrameBytes * FramesPerMs
	BufferMillis = 300
)

// levelSpeedPermille is the playback speed change per APS level step
const levelSpeedPermille = 10

// Media is the local audio policy of a simulated device
type Media struct {
	mu      sync.Mutex
	output  uint8
	volumes map[stream.Type]uint8
}

// NewMedia creates a policy playing the output position
func NewMedia(output uint8) *Media {
	return &Media{
		output: output,
		volumes: map[stream.Type]uint8{
			stream.TypeMusic:      10,
			stream.TypeLocalMusic: 10,
			stream.TypeLineIn:     8,
			stream.TypeVoice:      12,
		},
	}
}

func (m *Media) StreamVolume(t stream.Type) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volumes[t]
}

func (m *Media) SetStreamVolume(t stream.Type, v uint8) {
	m.mu.Lock()
	m.volumes[t] = v
	m.mu.Unlock()
}

func (m *Media) OutputMode() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

func (m *Media) SetOutputMode(pos uint8) {
	m.mu.Lock()
	m.output = pos
	m.mu.Unlock()
}

// Track is the playback side of a ring stream, driven by the APS level
type Track struct {
	ring *stream.RingStream

	mu          sync.Mutex
	level       aps.Level
	changes     int
	compensated int
	carry       float64
}

// NewTrack plays from ring at the default level
func NewTrack(ring *stream.RingStream) *Track {
	return &Track{ring: ring, level: aps.DefaultLevel}
}

func (t *Track) SetAPSLevel(l aps.Level) {
	t.mu.Lock()
	t.level = l
	t.changes++
	t.mu.Unlock()
}

// FillSamples is the number of buffered frames
func (t *Track) FillSamples() int {
	return t.ring.Len() / FrameBytes
}

// CompensateSamples inserts silence (n > 0) or drops frames (n < 0)
func (t *Track) CompensateSamples(n int) {
	t.mu.Lock()
	t.compensated += n
	t.mu.Unlock()

	if n > 0 {
		_, _ = t.ring.Write(make([]byte, n*FrameBytes))
		return
	}
	_, _ = t.ring.Read(make([]byte, -n*FrameBytes))
}

// Level returns the level last applied
func (t *Track) Level() aps.Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Changes is the number of SetAPSLevel calls
func (t *Track) Changes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changes
}

// Compensated is the net number of frames inserted by compensation
func (t *Track) Compensated() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compensated
}

// Consume plays frames nominal frames scaled by the APS level and the crystal
// offset in ppm, and returns the frames read.
func (t *Track) Consume(frames int, driftPPM int) int {
	t.mu.Lock()
	speed := 1 + float64(int(t.level)-int(aps.DefaultLevel))*levelSpeedPermille/1000 + float64(driftPPM)/1e6
	exact := float64(frames)*speed + t.carry
	n := int(exact)
	t.carry = exact - float64(n)
	t.mu.Unlock()

	buf := make([]byte, n*FrameBytes)
	read, _ := t.ring.Read(buf)
	return read / FrameBytes
}

// Relay records the stream mirrored to the peer
type Relay struct {
	mu    sync.Mutex
	input stream.Stream
	sco   stream.Stream
}

func (r *Relay) SetInput(s stream.Stream) error {
	r.mu.Lock()
	r.input = s
	r.mu.Unlock()
	return nil
}

func (r *Relay) SetSCOInput(s stream.Stream, _ stream.Type) error {
	r.mu.Lock()
	r.sco = s
	r.mu.Unlock()
	return nil
}

// Input returns the relayed A2DP or local stream
func (r *Relay) Input() stream.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input
}

// Device is one simulated half of the pair
type Device struct {
	Name string

	Ctrl    *Controller
	Bus     *msgbus.Bus
	Main    *msgbus.Mailbox
	Manager *manager.Manager
	TWS     *tws.Service
	APS     *aps.Compensator
	Pool    *stream.Pool
	Media   *Media
	Relay   *Relay
	Ring    *stream.RingStream
	Track   *Track

	// DriftPPM is the crystal offset of the playback clock
	DriftPPM int

	logger *logrus.Logger
}

// NewDevice wires the production components of one device to a simulated controller
func NewDevice(name string, cfg config.Config, clock *Clock, output uint8, logger *logrus.Logger) (*Device, error) {
	if logger == nil {
		logger = logrus.New()
	}

	bus := msgbus.NewBus(logger)
	main, err := bus.Register(event.TargetMain, 512)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s main mailbox: %w", name, err)
	}

	ctrl := NewController(name, clock, logger)
	mgr := manager.New(cfg, ctrl, bus, logger)
	media := NewMedia(output)
	svc := tws.New(cfg, ctrl, mgr, media, bus, logger)
	mgr.SetRoleSource(svc)
	ctrl.BindTWS(svc.HandleEvent)
	ctrl.BindLink(mgr.HandleLinkEvent)

	relay := &Relay{}
	ring := stream.NewRingStream(BufferMillis * BytesPerMs)

	return &Device{
		Name:    name,
		Ctrl:    ctrl,
		Bus:     bus,
		Main:    main,
		Manager: mgr,
		TWS:     svc,
		APS:     aps.NewCompensator(cfg.APS, logger),
		Pool:    stream.NewPool(relay, logger),
		Media:   media,
		Relay:   relay,
		Ring:    ring,
		Track:   NewTrack(ring),
		logger:  logger,
	}, nil
}

// OccupancyMillis is the buffered audio in milliseconds
func (d *Device) OccupancyMillis() int {
	return d.Ring.Len() / BytesPerMs
}

// StartPlayback binds the ring to the A2DP slot, starts the download
// monitor and, on the master, tells the slave that playback started.
func (d *Device) StartPlayback(prefillMillis int) error {
	if err := d.Pool.Set(stream.SlotA2DP, d.Ring); err != nil {
		return err
	}
	if err := d.Pool.Enable(stream.SlotA2DP, true); err != nil {
		return err
	}
	_, _ = d.Ring.Write(make([]byte, prefillMillis*BytesPerMs))

	d.TWS.SetStreamType(stream.TypeMusic)
	d.APS.Start(aps.Download, d.TWS.APSOptions(stream.TypeMusic, d.Track, nil))
	d.Manager.SetStatus(manager.StatusPlaying)

	return d.TWS.NotifyStartPlay(stream.TypeMusic, 1, 48)
}

// StopPlayback stops the monitor and clears the A2DP slot
func (d *Device) StopPlayback() error {
	d.APS.Stop(aps.Download)
	if err := d.Pool.Enable(stream.SlotA2DP, false); err != nil {
		return err
	}
	if err := d.Pool.Set(stream.SlotA2DP, nil); err != nil {
		return err
	}
	d.Manager.SetStatus(manager.StatusPaused)
	return d.TWS.NotifyStopPlay()
}

// Feed writes frames of source audio received from the phone
func (d *Device) Feed(frames int) {
	_, _ = d.Ring.Write(make([]byte, frames*FrameBytes))
}

// ProtocolVersion overrides the version announced to the peer
func (d *Device) ProtocolVersion(v uint8, f protocol.Feature) {
	d.Ctrl.Version, d.Ctrl.Features = v, f
}
