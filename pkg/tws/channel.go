package tws

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// syncCommandTimeout bounds a legacy command that waits for the peer ack
var syncCommandTimeout = 500 * time.Millisecond

// Channel sends events to the peer and holds the events both sides act on at
// a common BT clock value.
type Channel struct {
	ctrl     Controller
	legacy   *protocol.Legacy
	queue    *DeferredQueue
	lead     uint32
	syncOn   bool
	logger   *logrus.Logger
	dispatch func(DeferredEvent)

	// useLegacy selects the US281B command set for outgoing frames
	useLegacy func() bool
}

// NewChannel creates a channel. dispatch delivers a due event locally.
func NewChannel(cfg config.TWSConfig, ctrl Controller, legacy *protocol.Legacy, dispatch func(DeferredEvent), logger *logrus.Logger) *Channel {
	if logger == nil {
		logger = logrus.New()
	}
	return &Channel{
		ctrl:      ctrl,
		legacy:    legacy,
		queue:     NewDeferredQueue(MaxDeferredEvents),
		lead:      protocol.TimeToClock(cfg.SyncLeadTime),
		syncOn:    cfg.SyncEvents,
		logger:    logger,
		dispatch:  dispatch,
		useLegacy: func() bool { return false },
	}
}

// Queue returns the deferred event queue
func (c *Channel) Queue() *DeferredQueue {
	return c.queue
}

// LeadTicks is the distance in BT clock ticks between a sync send and its dispatch
func (c *Channel) LeadTicks() uint32 {
	return c.lead
}

// Send encodes one event and hands it to the controller. Failures are logged
// and returned; nothing is retried.
func (c *Channel) Send(ev protocol.EventID, param uint32) error {
	return c.SendFrame(protocol.Encode(protocol.Frame{Event: ev, Param: param}))
}

// SendSync sends ev with a target clock of now plus the lead time and queues
// the same event locally, so both sides dispatch it at the same BT clock.
func (c *Channel) SendSync(ev protocol.EventID, param uint32) (DeferredEvent, error) {
	d := DeferredEvent{
		Event:       ev,
		Param:       param,
		TargetClock: c.ctrl.BTClock() + c.lead,
	}
	err := c.SendFrame(protocol.Encode(protocol.Frame{
		Event:       ev,
		Param:       param,
		Sync:        true,
		TargetClock: d.TargetClock,
	}))
	c.Schedule(d)
	return d, err
}

// SendFrame sends an encoded native frame, translated for legacy peers
func (c *Channel) SendFrame(frame []byte) error {
	if !c.useLegacy() {
		return c.sendRaw(frame, false)
	}

	cmds, err := c.legacy.ToLegacy(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrNotTranslatable) {
			c.logger.WithError(err).Debug("Frame not relayed to legacy peer")
			return nil
		}
		c.logger.WithError(err).Warn("Failed to translate frame for legacy peer")
		return err
	}
	for _, cmd := range cmds {
		if err := c.sendRaw(cmd.Data, cmd.Sync); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendRaw(data []byte, sync bool) error {
	var err error
	if sync {
		ctx, cancel := context.WithTimeout(context.Background(), syncCommandTimeout)
		err = c.ctrl.SendCommandSync(ctx, data)
		cancel()
	} else {
		err = c.ctrl.SendCommand(data)
	}
	if err != nil {
		c.logger.WithError(err).WithField("len", len(data)).Warn("Failed to send tws command")
	}
	return err
}

// Schedule queues d for dispatch at its target clock. With sync events
// disabled it is dispatched immediately.
func (c *Channel) Schedule(d DeferredEvent) {
	if !c.syncOn {
		c.dispatch(d)
		return
	}
	if err := c.queue.Push(d); err != nil {
		c.logger.WithError(err).Warn("Deferred event dropped")
		return
	}
	c.logger.WithField("event", d.String()).Debug("Deferred event queued")
}

// ProcessDue dispatches every queued event whose target clock has been
// reached. It runs in work-queue context on each controller tick.
func (c *Channel) ProcessDue() int {
	now := c.ctrl.BTClock()
	due := c.queue.PopDue(now)
	for _, d := range due {
		c.logger.WithFields(logrus.Fields{
			"event": d.String(),
			"now":   now,
		}).Info("Dispatching deferred event")
		c.dispatch(d)
	}
	return len(due)
}

// Flush drops every queued event; called on TWS role transitions
func (c *Channel) Flush() {
	if n := c.queue.Flush(); n > 0 {
		c.logger.WithField("dropped", n).Info("Flushed deferred events")
	}
}
