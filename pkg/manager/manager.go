// Package manager tracks connected BR/EDR peers and derives the aggregate
// connection, playback and TWS status from link and profile events.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/device"
	"github.com/srg/twsync/pkg/event"
)

// ErrControllerStart is returned by Init when the controller fails to start
var ErrControllerStart = errors.New("bluetooth controller failed to start")

// DisconnectReasonRoleSwitch is a controller-level reassociation; it does not
// produce a user visible disconnect notification.
const DisconnectReasonRoleSwitch uint8 = 0x16

var (
	deinitPollInterval = 10 * time.Millisecond
	deinitPollLimit    = 500
)

// Controller is the part of the BT controller the manager drives
type Controller interface {
	Start(ctx context.Context) error
	StopAutoReconnect()
	DisconnectAll()
	ConnectedDeviceCount() int
	SetPhoneControllerRole(addr device.Address)
	ClearList(mode int)
}

// RoleSource tells the manager whether the local device is the TWS master
type RoleSource interface {
	IsMaster() bool
}

// State is a point-in-time copy of the manager state
type State struct {
	ConnectedPhones  int
	TWSMode          bool
	Status           Status
	Playing          bool
	DisconnectReason uint8
	Links            []device.Link
}

// Manager is the connection/playback state machine. One mutex serializes all
// mutations of the registry and the status word.
type Manager struct {
	cfg        config.Config
	macPrefix  []byte
	controller Controller
	sink       event.Sink
	logger     *logrus.Logger

	mu               sync.Mutex
	roles            RoleSource
	registry         *device.Registry
	connectedPhones  int
	twsMode          bool
	state            Status
	twsState         Status
	playing          bool
	disconnectReason uint8
	halted           [device.MaxDevices]device.Address
	inited           bool
}

// outbox collects side effects produced under the lock
type outbox struct {
	msgs       []event.Message
	phoneRoles []device.Address
}

// New creates a manager
func New(cfg config.Config, controller Controller, sink event.Sink, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	prefix, err := cfg.MACPrefixBytes()
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid MAC prefix")
	}
	return &Manager{
		cfg:        cfg,
		macPrefix:  prefix,
		controller: controller,
		sink:       sink,
		logger:     logger,
		registry:   device.NewRegistry(logger),
		state:      StatusNone,
	}
}

// SetRoleSource binds the TWS role reader
func (m *Manager) SetRoleSource(r RoleSource) {
	m.mu.Lock()
	m.roles = r
	m.mu.Unlock()
}

// Init starts the controller and enters WaitPair
func (m *Manager) Init(ctx context.Context) error {
	m.SetStatus(StatusNone)

	if err := m.controller.Start(ctx); err != nil {
		m.logger.WithError(err).Error("Controller start failed")
		return fmt.Errorf("%w: %w", ErrControllerStart, err)
	}

	m.SetStatus(StatusWaitPair)

	m.mu.Lock()
	m.inited = true
	m.mu.Unlock()

	m.logger.Info("Bluetooth manager initialized")
	return nil
}

// Deinit disconnects every device and waits for the links to go away
func (m *Manager) Deinit(ctx context.Context) error {
	m.controller.StopAutoReconnect()
	m.controller.DisconnectAll()

	var err error
	for i := 0; m.controller.ConnectedDeviceCount() > 0; i++ {
		if i >= deinitPollLimit {
			m.logger.WithField("connected", m.controller.ConnectedDeviceCount()).
				Warn("Links still up after deinit timeout")
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(deinitPollInterval):
		}
		if err != nil {
			break
		}
	}

	m.mu.Lock()
	m.inited = false
	m.mu.Unlock()

	m.logger.Info("Bluetooth manager deinitialized")
	return err
}

// Inited reports whether Init completed
func (m *Manager) Inited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inited
}

// HandleReady is called once the controller reports it is up
func (m *Manager) HandleReady() {
	m.logger.Info("Bluetooth engine ready")
	m.send(event.SysMessage(event.SysEventBTEngineReady))
}

// SetStatus applies one status transition
func (m *Manager) SetStatus(s Status) {
	var out outbox

	m.mu.Lock()
	m.setStatusLocked(s, &out)
	m.mu.Unlock()

	m.flush(&out)
}

func (m *Manager) setStatusLocked(s Status, out *outbox) {
	switch s {
	case StatusConnected:
		m.connectedPhones++
		if m.connectedPhones == 1 {
			out.sys(event.SysEventBTConnected)
			out.bt(event.BTConnectionEvent)
			m.state = StatusPaused
		} else {
			out.sys(event.SysEvent2ndConnected)
		}
		return

	case StatusDisconnected:
		if m.connectedPhones > 0 {
			m.connectedPhones--
			if m.disconnectReason != DisconnectReasonRoleSwitch {
				out.sys(event.SysEventBTDisconnected)
			}
			if m.connectedPhones == 0 {
				out.sys(event.SysEventBTUnlinked)
				out.bt(event.BTDisconnectionEvent)
			}
		}
		return

	case StatusTwsPaired:
		if !m.twsMode {
			m.twsMode = true
			m.twsState = StatusTwsPaired
			if m.roles != nil && m.roles.IsMaster() {
				out.sys(event.SysEventTWSConnected)
			}
			out.bt(event.BTTWSConnectionEvent)
		}
		return

	case StatusTwsUnpaired:
		if m.twsMode {
			m.twsMode = false
			m.twsState = StatusTwsUnpaired
			out.bt(event.BTTWSDisconnectionEvent)
		}
		return

	case StatusTwsWaitPair:
		m.twsState = StatusTwsWaitPair
		return

	case StatusMasterWaitPair:
		out.sys(event.SysEventTWSStartPair)

	case StatusPaused:
		m.playing = false

	case StatusPlaying:
		m.playing = true
	}

	m.state = s
}

func (o *outbox) sys(ev uint32) {
	o.msgs = append(o.msgs, event.SysMessage(ev))
}

func (o *outbox) bt(ev uint32) {
	o.msgs = append(o.msgs, event.BTMessage(ev, nil))
}

func (m *Manager) flush(out *outbox) {
	for _, msg := range out.msgs {
		m.send(msg)
	}
	for _, addr := range out.phoneRoles {
		m.controller.SetPhoneControllerRole(addr)
	}
}

func (m *Manager) send(msg event.Message) {
	if m.sink == nil {
		return
	}
	if err := m.sink.SendAsync(event.TargetMain, msg); err != nil {
		m.logger.WithError(err).WithField("message", msg.String()).Warn("Failed to deliver event")
	}
}

// StatusWord returns the connection/playback state combined with the TWS sub-state
func (m *Manager) StatusWord() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state | m.twsState
}

// ConnectedPhoneCount returns the number of connected non-TWS peers
func (m *Manager) ConnectedPhoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedPhones
}

// TWSMode reports whether a TWS peer is paired
func (m *Manager) TWSMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.twsMode
}

// Playing reports the playback flag
func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// DisconnectReason returns the reason code of the last phone disconnect
func (m *Manager) DisconnectReason() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectReason
}

// RecordHaltedPhones snapshots the phones with a connected audio profile.
// It is taken before the links are torn down for TWS pairing.
func (m *Manager) RecordHaltedPhones() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.halted = [device.MaxDevices]device.Address{}
	n := 0
	m.registry.Each(func(l *device.Link) bool {
		if !l.IsTWS && l.ProfileConnected() {
			m.halted[n] = l.Address
			n++
		}
		return true
	})
}

// HaltedPhones returns the snapshot taken by RecordHaltedPhones
func (m *Manager) HaltedPhones() []device.Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []device.Address
	for _, a := range m.halted {
		if !a.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

// ClearPairedList clears the controller's paired list
func (m *Manager) ClearPairedList(mode int) {
	m.controller.ClearList(mode)
	m.send(event.SysMessage(event.SysEventClearPairedList))
}

// Snapshot returns a copy of the current state
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		ConnectedPhones:  m.connectedPhones,
		TWSMode:          m.twsMode,
		Status:           m.state | m.twsState,
		Playing:          m.playing,
		DisconnectReason: m.disconnectReason,
	}
	m.registry.Each(func(l *device.Link) bool {
		st.Links = append(st.Links, *l)
		return true
	})
	return st
}

// Dump logs the manager state and every registered link
func (m *Manager) Dump() {
	st := m.Snapshot()

	m.logger.WithFields(logrus.Fields{
		"phones":   st.ConnectedPhones,
		"tws_mode": st.TWSMode,
		"status":   st.Status.String(),
		"playing":  st.Playing,
	}).Info("Bluetooth manager info")

	for _, l := range st.Links {
		m.logger.WithFields(logrus.Fields{
			"address": l.Address,
			"name":    l.Name,
			"tws":     l.IsTWS,
			"notify":  l.NotifyConnected,
			"a2dp":    l.A2DPConnected,
			"avrcp":   l.AVRCPConnected,
			"hf":      l.HFConnected,
			"spp":     l.SPPConnections,
			"hid":     l.HIDConnected,
		}).Info("Device")
	}
}
