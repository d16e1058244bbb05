package tws

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/manager"
)

var (
	connectingPollInterval = 20 * time.Millisecond
	connectingPollLimit    = 10
	disconnectPollInterval = 2 * time.Millisecond
	disconnectPollLimit    = 1000
)

// poll checks cond up to limit times, interval apart. It reports whether
// cond became true.
func poll(ctx context.Context, limit int, interval time.Duration, cond func() bool) (bool, error) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if cond() {
			return true, nil
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return cond(), nil
}

// WaitPair starts TWS pairing as master when a phone slot is free
func (s *Service) WaitPair(ctx context.Context) error {
	if s.ctrl.IsConnecting() {
		s.ctrl.StopAutoReconnect()
		ok, err := poll(ctx, connectingPollLimit, connectingPollInterval, func() bool { return !s.ctrl.IsConnecting() })
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("Controller still connecting, starting tws pairing anyway")
		}
	}
	return s.startWaitPair()
}

// DisconnectAndWaitPair drops every link and then starts TWS pairing
func (s *Service) DisconnectAndWaitPair(ctx context.Context) error {
	s.ctrl.StopAutoReconnect()
	s.ctrl.DisconnectAll()

	if _, err := poll(ctx, connectingPollLimit, connectingPollInterval, func() bool { return !s.ctrl.IsConnecting() }); err != nil {
		return err
	}

	ok, err := poll(ctx, disconnectPollLimit, disconnectPollInterval, func() bool { return s.ctrl.ConnectedDeviceCount() == 0 })
	if err != nil {
		return err
	}
	if !ok {
		n := s.ctrl.ConnectedDeviceCount()
		s.logger.WithField("connected", n).Warn("Links still up, not starting tws pairing")
		return fmt.Errorf("%w: %d links still connected", ErrPairTimeout, n)
	}
	return s.startWaitPair()
}

func (s *Service) startWaitPair() error {
	phones := 0
	if s.status != nil {
		phones = s.status.ConnectedPhoneCount()
	}

	if phones >= s.cfg.Device.MaxPhones || !s.ctrl.CanPair() {
		s.logger.WithFields(logrus.Fields{
			"phones":     phones,
			"max_phones": s.cfg.Device.MaxPhones,
		}).Debug("TWS pairing not possible")
		_ = s.ctrl.CancelWaitPair()
		return nil
	}

	if s.status != nil {
		s.status.SetStatus(manager.StatusMasterWaitPair)
	}
	s.logger.WithField("tries", s.cfg.TWS.PairTries).Info("TWS wait pair")
	if err := s.ctrl.WaitPair(s.cfg.TWS.PairTries); err != nil {
		return fmt.Errorf("failed to start tws pairing: %w", err)
	}
	return nil
}

// CancelWaitPair stops a running TWS pairing
func (s *Service) CancelWaitPair() error {
	return s.ctrl.CancelWaitPair()
}

// Disconnect drops the TWS link only
func (s *Service) Disconnect() error {
	if s.ctrl.Role() == RoleNone {
		return ErrNoPeer
	}
	return s.ctrl.DisconnectTWS()
}
