package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/workq"
	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/device"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/tws"
	"github.com/srg/twsync/pkg/tws/protocol"
)

var (
	ErrNotConnected = errors.New("tws link is down")
	ErrNotStarted   = errors.New("controller not started")
)

// Dispatcher hands a callback Outcome to work-queue context and returns
// whether the event was accepted
type Dispatcher func(name string, o workq.Outcome) bool

// RunInline runs deferred work immediately on the calling goroutine
func RunInline(_ string, o workq.Outcome) bool {
	return o.Run()
}

// Controller is an in-memory Bluetooth controller. It satisfies both
// tws.Controller and manager.Controller.
type Controller struct {
	name   string
	clock  *Clock
	logger *logrus.Logger

	// Version and Features are announced to the peer when the link forms
	Version  uint8
	Features protocol.Feature

	mu          sync.Mutex
	dispatch    Dispatcher
	twsHandler  func(tws.ControllerEvent) workq.Outcome
	linkHandler func(manager.LinkEvent) workq.Outcome
	role        tws.Role
	peer        *Controller
	observer    aps.PeerObserver
	started     bool
	connecting  bool
	waitPair    bool
	hfp         bool
	localBT     bool
	localMusic  bool
	phones      []device.Address
	mode        protocol.TWSMode
	drc         protocol.DRCMode
	codec       uint8
	sent        uint64
	clears      int
}

// NewController creates a stopped controller announcing the current firmware version
func NewController(name string, clock *Clock, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		name:     name,
		clock:    clock,
		logger:   logger,
		Version:  protocol.CurrentVersion,
		Features: protocol.CurrentFeatures,
		dispatch: RunInline,
	}
}

// Name returns the device name the controller was created with
func (c *Controller) Name() string {
	return c.name
}

// SetDispatcher replaces the inline dispatcher, typically with workq.Queue.Handle
func (c *Controller) SetDispatcher(d Dispatcher) {
	c.mu.Lock()
	c.dispatch = d
	c.mu.Unlock()
}

// BindTWS sets the TWS callback
func (c *Controller) BindTWS(h func(tws.ControllerEvent) workq.Outcome) {
	c.mu.Lock()
	c.twsHandler = h
	c.mu.Unlock()
}

// BindLink sets the link callback
func (c *Controller) BindLink(h func(manager.LinkEvent) workq.Outcome) {
	c.mu.Lock()
	c.linkHandler = h
	c.mu.Unlock()
}

func (c *Controller) emitTWS(ev tws.ControllerEvent) {
	c.mu.Lock()
	h, d := c.twsHandler, c.dispatch
	c.mu.Unlock()
	if h == nil {
		return
	}
	d(ev.Type.String(), h(ev))
}

func (c *Controller) emitLink(ev manager.LinkEvent) {
	c.mu.Lock()
	h, d := c.linkHandler, c.dispatch
	c.mu.Unlock()
	if h == nil {
		return
	}
	d(ev.Type.String(), h(ev))
}

// IRQ raises the link-layer clock interrupt
func (c *Controller) IRQ() {
	c.emitTWS(tws.ControllerEvent{Type: tws.EventIRQ})
}

// ConnectPhone brings up a phone link with A2DP
func (c *Controller) ConnectPhone(addr device.Address, name string) {
	c.mu.Lock()
	c.phones = append(c.phones, addr)
	c.mu.Unlock()

	c.emitLink(manager.LinkEvent{Type: manager.LinkACLConnected, Address: addr})
	c.emitLink(manager.LinkEvent{Type: manager.LinkGetName, Address: addr, Name: name})
	c.emitLink(manager.LinkEvent{Type: manager.LinkA2DPConnected, Address: addr})
}

// DisconnectPhone drops a phone link
func (c *Controller) DisconnectPhone(addr device.Address, reason uint8) {
	c.mu.Lock()
	for i, a := range c.phones {
		if a == addr {
			c.phones = append(c.phones[:i], c.phones[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.emitLink(manager.LinkEvent{Type: manager.LinkACLDisconnected, Address: addr, Reason: reason})
}

// Link forms the TWS link between master and slave and replays the callbacks
// a real controller produces: connected on both sides, the peer versions,
// then the slave joining playback.
func Link(master, slave *Controller, obs *LinkObserver) {
	master.mu.Lock()
	master.role, master.peer, master.observer, master.waitPair = tws.RoleMaster, slave, obs.Master(), false
	mv, mf := master.Version, master.Features
	master.mu.Unlock()

	slave.mu.Lock()
	slave.role, slave.peer, slave.observer, slave.waitPair = tws.RoleSlave, master, obs.Slave(), false
	sv, sf := slave.Version, slave.Features
	slave.mu.Unlock()

	master.logger.WithFields(logrus.Fields{
		"master": master.name,
		"slave":  slave.name,
	}).Info("TWS link up")

	master.emitTWS(tws.ControllerEvent{Type: tws.EventConnected})
	slave.emitTWS(tws.ControllerEvent{Type: tws.EventConnected})
	master.emitTWS(tws.ControllerEvent{Type: tws.EventUpdatePeerVersion, Version: sv, Features: sf})
	slave.emitTWS(tws.ControllerEvent{Type: tws.EventUpdatePeerVersion, Version: mv, Features: mf})
	master.emitTWS(tws.ControllerEvent{Type: tws.EventUpdateBTPlayMode})
}

// Unlink drops the TWS link on both sides
func (c *Controller) Unlink() {
	c.mu.Lock()
	peer := c.peer
	c.peer, c.role, c.observer = nil, tws.RoleNone, nil
	c.mu.Unlock()

	if peer == nil {
		return
	}
	peer.mu.Lock()
	peer.peer, peer.role, peer.observer = nil, tws.RoleNone, nil
	peer.mu.Unlock()

	c.logger.WithField("device", c.name).Info("TWS link down")
	c.emitTWS(tws.ControllerEvent{Type: tws.EventDisconnected})
	peer.emitTWS(tws.ControllerEvent{Type: tws.EventDisconnected})
}

// SetConnecting simulates an auto-reconnect in progress
func (c *Controller) SetConnecting(v bool) {
	c.mu.Lock()
	c.connecting = v
	c.mu.Unlock()
}

// SetHFPMode simulates an active SCO call
func (c *Controller) SetHFPMode(v bool) {
	c.mu.Lock()
	c.hfp = v
	c.mu.Unlock()
}

// WaitingPair reports whether WaitPair was called and no link formed since
func (c *Controller) WaitingPair() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitPair
}

// Mode returns the TWS and DRC mode last set
func (c *Controller) Mode() (protocol.TWSMode, protocol.DRCMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.drc
}

// Sent is the number of commands sent to the peer
func (c *Controller) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// LocalPlay returns the flags of the last SetLocalPlay call
func (c *Controller) LocalPlay() (bt, local bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localBT, c.localMusic
}

// Clears is the number of ClearList calls
func (c *Controller) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// BTClock implements tws.Controller
func (c *Controller) BTClock() uint32 {
	return c.clock.Now()
}

// SendCommand delivers data to the peer as peer data
func (c *Controller) SendCommand(data []byte) error {
	c.mu.Lock()
	peer := c.peer
	if peer != nil {
		c.sent++
	}
	c.mu.Unlock()

	if peer == nil {
		return ErrNotConnected
	}
	peer.emitTWS(tws.ControllerEvent{Type: tws.EventPeerData, Data: data})
	return nil
}

// SendCommandSync is SendCommand; delivery is immediate so the ack is too
func (c *Controller) SendCommandSync(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.SendCommand(data)
}

func (c *Controller) Role() tws.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Controller) WaitPair(tries int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	if c.peer != nil {
		return fmt.Errorf("%s already paired", c.name)
	}
	c.waitPair = true
	c.logger.WithFields(logrus.Fields{
		"device": c.name,
		"tries":  tries,
	}).Debug("Controller waiting for tws peer")
	return nil
}

func (c *Controller) CancelWaitPair() error {
	c.mu.Lock()
	c.waitPair = false
	c.mu.Unlock()
	return nil
}

func (c *Controller) CanPair() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && c.peer == nil
}

func (c *Controller) IsConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

func (c *Controller) StopAutoReconnect() {
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
}

// DisconnectAll drops the phones and the TWS link
func (c *Controller) DisconnectAll() {
	c.mu.Lock()
	phones := append([]device.Address(nil), c.phones...)
	c.mu.Unlock()

	for _, addr := range phones {
		c.DisconnectPhone(addr, 0x13)
	}
	c.Unlink()
}

func (c *Controller) DisconnectTWS() error {
	c.mu.Lock()
	linked := c.peer != nil
	c.mu.Unlock()
	if !linked {
		return ErrNotConnected
	}
	c.Unlink()
	return nil
}

func (c *Controller) ConnectedDeviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.phones)
	if c.peer != nil {
		n++
	}
	return n
}

func (c *Controller) UpdateTWSMode(mode protocol.TWSMode, drc protocol.DRCMode) {
	c.mu.Lock()
	c.mode, c.drc = mode, drc
	c.mu.Unlock()
}

func (c *Controller) SetLocalPlay(bt, local bool) {
	c.mu.Lock()
	c.localBT, c.localMusic = bt, local
	c.mu.Unlock()
}

func (c *Controller) SetCodec(codec uint8) {
	c.mu.Lock()
	c.codec = codec
	c.mu.Unlock()
}

func (c *Controller) IsHFPMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hfp
}

func (c *Controller) RuntimeObserver() aps.PeerObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

// Start implements manager.Controller
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.logger.WithField("device", c.name).Debug("Controller started")
	return nil
}

func (c *Controller) SetPhoneControllerRole(addr device.Address) {
	c.logger.WithFields(logrus.Fields{
		"device": c.name,
		"phone":  addr,
	}).Debug("Phone controller role set")
}

func (c *Controller) ClearList(mode int) {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"device": c.name,
		"mode":   mode,
	}).Info("Paired list cleared")
}
