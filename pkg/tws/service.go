package tws

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/workq"
	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// EventType identifies a TWS callback from the controller
type EventType uint8

const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventPeerData
	EventIRQ
	EventRestartPlay
	EventHFPConnected
	EventUnprocPendingStart
	EventUpdateBTPlayMode
	EventUpdatePeerVersion
	EventSinkStartPlay
	EventPairFailed
)

var eventTypeNames = map[EventType]string{
	EventConnected:          "connected",
	EventDisconnected:       "disconnected",
	EventPeerData:           "peer-data",
	EventIRQ:                "irq",
	EventRestartPlay:        "restart-play",
	EventHFPConnected:       "hfp-connected",
	EventUnprocPendingStart: "unproc-pending-start",
	EventUpdateBTPlayMode:   "update-btplay-mode",
	EventUpdatePeerVersion:  "update-peer-version",
	EventSinkStartPlay:      "sink-start-play",
	EventPairFailed:         "pair-failed",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tws-event(%d)", uint8(t))
}

// ControllerEvent is delivered by the controller for TWS link changes and peer data
type ControllerEvent struct {
	Type     EventType
	Data     []byte           // EventPeerData, EventSinkStartPlay
	Version  uint8            // EventUpdatePeerVersion
	Features protocol.Feature // EventUpdatePeerVersion
}

// Service is the TWS role, pairing and event channel controller
type Service struct {
	cfg      config.Config
	ctrl     Controller
	status   StatusSink
	media    Media
	sink     event.Sink
	logger   *logrus.Logger
	legacy   *protocol.Legacy
	keys     *protocol.KeyConverter
	channel  *Channel
	irqWork  *workq.Work
	prefix   []byte
	deviceID []byte
	expect   Role

	mu               sync.Mutex
	peer             PeerInfo
	observer         aps.PeerObserver
	slaveActive      bool
	lowLatency       bool
	recordLowLatency bool
	codec            uint8
}

// New creates the TWS service. media may be nil when no local audio policy is wired.
func New(cfg config.Config, ctrl Controller, status StatusSink, media Media, sink event.Sink, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	prefix, err := cfg.MACPrefixBytes()
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid MAC prefix")
	}
	deviceID, err := cfg.DeviceIDBytes()
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid device id")
	}
	expect, err := ParseRole(cfg.TWS.ExpectRole)
	if err != nil {
		logger.WithError(err).Warn("Ignoring expected role")
	}

	s := &Service{
		cfg:        cfg,
		ctrl:       ctrl,
		status:     status,
		media:      media,
		sink:       sink,
		logger:     logger,
		keys:       protocol.NewKeyConverter(nil),
		prefix:     prefix,
		deviceID:   deviceID,
		expect:     expect,
		lowLatency: cfg.APS.LowLatency,
	}
	s.legacy = protocol.NewLegacy(s.SupportsFeature)
	s.channel = NewChannel(cfg.TWS, ctrl, s.legacy, s.deliverDeferred, logger)
	s.channel.useLegacy = s.LegacyPeer
	s.irqWork = workq.NewWork("tws-irq", func() { s.channel.ProcessDue() })
	return s
}

// Channel returns the cross-device event channel
func (s *Service) Channel() *Channel {
	return s.channel
}

// IRQWork is the reusable work item that dispatches due deferred events.
// Submitting it while pending is a no-op.
func (s *Service) IRQWork() *workq.Work {
	return s.irqWork
}

// HandleEvent is the TWS callback. It runs in controller context and only
// describes the work to be done.
func (s *Service) HandleEvent(ev ControllerEvent) workq.Outcome {
	s.logger.WithField("event", ev.Type.String()).Debug("TWS event")

	switch ev.Type {
	case EventIRQ:
		return workq.Schedule(s.irqWork)
	case EventPeerData, EventSinkStartPlay:
		// the controller reuses its receive buffer
		ev.Data = bytes.Clone(ev.Data)
	case EventConnected, EventDisconnected, EventRestartPlay, EventHFPConnected,
		EventUnprocPendingStart, EventUpdateBTPlayMode, EventUpdatePeerVersion, EventPairFailed:
	default:
		s.logger.WithField("event", ev.Type.String()).Warn("Unhandled TWS event")
		return workq.Rejected()
	}
	return workq.Defer(func() { s.ApplyEvent(ev) })
}

// ApplyEvent runs the work for ev
func (s *Service) ApplyEvent(ev ControllerEvent) {
	switch ev.Type {
	case EventConnected:
		s.onConnected()
	case EventDisconnected:
		s.onDisconnected()
	case EventPeerData:
		s.ReceivePeerData(ev.Data)
	case EventIRQ:
		s.channel.ProcessDue()
	case EventRestartPlay, EventUnprocPendingStart:
		s.requestRestartPlay(ev.Type.String())
	case EventHFPConnected:
		if s.SupportsFeature(protocol.FeatureHFPTWS) {
			s.requestRestartPlay(ev.Type.String())
		}
	case EventUpdateBTPlayMode:
		s.onSlaveActivated()
	case EventUpdatePeerVersion:
		s.onPeerVersion(ev.Version, ev.Features)
	case EventSinkStartPlay:
		s.onSinkStartPlay(ev.Data)
	case EventPairFailed:
		s.logger.Warn("TWS pairing failed")
		s.send(event.SysMessage(event.SysEventTWSPairFailed))
	}
}

func (s *Service) onConnected() {
	obs := s.ctrl.RuntimeObserver()

	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()

	s.channel.Flush()
	s.logger.WithField("role", s.Role().String()).Info("TWS connected")
	if s.status != nil {
		s.status.SetStatus(manager.StatusTwsPaired)
	}
}

func (s *Service) onDisconnected() {
	s.mu.Lock()
	if s.peer.Version != 0 {
		s.lowLatency = s.recordLowLatency
	}
	s.observer = nil
	s.peer = PeerInfo{}
	s.slaveActive = false
	s.mu.Unlock()

	s.legacy.Reset()
	s.channel.Flush()
	s.logger.Info("TWS disconnected")
	if s.status != nil {
		s.status.SetStatus(manager.StatusTwsUnpaired)
	}
	s.send(event.SysMessage(event.SysEventTWSDisconnected))
}

func (s *Service) onPeerVersion(version uint8, features protocol.Feature) {
	s.mu.Lock()
	s.peer.Version = version
	s.peer.Features = features
	s.recordLowLatency = s.lowLatency
	if !s.supportsLocked(protocol.FeatureLowLatency) {
		s.lowLatency = false
	}
	lowLatency := s.lowLatency
	hfp := s.supportsLocked(protocol.FeatureHFPTWS)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"version":     fmt.Sprintf("0x%02x", version),
		"features":    fmt.Sprintf("0x%x", uint32(features)),
		"woodpecker":  protocol.IsWoodpecker(version),
		"low_latency": lowLatency,
	}).Info("TWS peer version")

	if !hfp {
		s.requestRestartPlay("peer without hfp tws")
	}
}

// onSlaveActivated runs on the master once the slave joined playback
func (s *Service) onSlaveActivated() {
	if !s.IsMaster() {
		return
	}

	s.mu.Lock()
	s.slaveActive = true
	source := s.peer.SourceType
	s.mu.Unlock()

	if !s.IsWoodpecker() && s.media != nil {
		pos := protocol.SpeakerRight
		if s.media.OutputMode() == protocol.SpeakerRight {
			pos = protocol.SpeakerLeft
		}
		_ = s.channel.sendRaw(protocol.SwitchPositionCommand(pos), false)
		_ = s.channel.sendRaw(protocol.VolumeLimitCommand(0), false)
		_ = s.channel.sendRaw(protocol.SetVolumeCommand(s.media.StreamVolume(source)), false)
	}

	obs := s.ctrl.RuntimeObserver()
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
	s.logger.Info("TWS slave activated")
}

func (s *Service) onSinkStartPlay(data []byte) {
	frame, err := s.legacy.SinkStartPlay(data)
	if err != nil {
		s.logger.WithError(err).Warn("Invalid sink start play")
		return
	}
	if s.status != nil {
		s.status.SetStatus(manager.StatusPlaying)
	}
	s.deliver(protocol.Frame{Event: protocol.EventStatus, Param: uint32(frame[1]), Raw: frame})
}

func (s *Service) requestRestartPlay(why string) {
	s.logger.WithField("reason", why).Info("Requesting playback restart")
	s.send(event.BTMessage(event.BTReqRestartPlay, nil))
}

func (s *Service) send(msg event.Message) {
	if s.sink == nil {
		return
	}
	if err := s.sink.SendAsync(event.TargetMain, msg); err != nil {
		s.logger.WithError(err).WithField("message", msg.String()).Warn("Failed to deliver event")
	}
}

// Role returns the controller's current role
func (s *Service) Role() Role {
	return s.ctrl.Role()
}

// IsMaster reports whether the local device is the TWS master
func (s *Service) IsMaster() bool {
	return s.ctrl.Role() == RoleMaster
}

// ExpectedRole is the role the device asks for when a TWS link forms
func (s *Service) ExpectedRole() Role {
	return s.expect
}

// Peer returns a copy of the peer information
func (s *Service) Peer() PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// PeerVersion returns the peer protocol version, zero before negotiation
func (s *Service) PeerVersion() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer.Version
}

// IsWoodpecker reports whether the peer runs the current firmware family.
// Without a TWS link there is no legacy peer to adapt to.
func (s *Service) IsWoodpecker() bool {
	if s.ctrl.Role() == RoleNone {
		return true
	}
	return protocol.IsWoodpecker(s.PeerVersion())
}

// LegacyPeer reports whether outgoing frames use the US281B command set
func (s *Service) LegacyPeer() bool {
	if s.cfg.TWS.Protocol == config.ProtocolLegacy {
		return true
	}
	v := s.PeerVersion()
	return v != 0 && !protocol.IsWoodpecker(v)
}

// SupportsFeature reports whether both sides support f. Without a TWS link
// every feature is available.
func (s *Service) SupportsFeature(f protocol.Feature) bool {
	if s.ctrl.Role() == RoleNone {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supportsLocked(f)
}

func (s *Service) supportsLocked(f protocol.Feature) bool {
	return protocol.CurrentFeatures&f != 0 && s.peer.Features&f != 0
}

// LowLatency reports whether the low-latency playback mode is in effect
func (s *Service) LowLatency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowLatency
}

// SlaveActive reports whether the slave joined playback (master only)
func (s *Service) SlaveActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slaveActive
}

// RuntimeObserver returns the peer sample exchange, nil without a TWS link
func (s *Service) RuntimeObserver() aps.PeerObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observer
}

// APSOptions binds an APS monitor for stream type t to the TWS link
func (s *Service) APSOptions(t stream.Type, track aps.Track, resampler aps.Resampler) aps.Options {
	return aps.Options{
		StreamType: t,
		Role:       s.Role().APSRole(),
		Track:      track,
		Resampler:  resampler,
		Peer:       s.RuntimeObserver(),
		HFPMode:    s.ctrl.IsHFPMode,
		HFPTWS:     s.SupportsFeature(protocol.FeatureHFPTWS),
		LowLatency: s.LowLatency(),
	}
}
