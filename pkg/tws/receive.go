package tws

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// ReceivePeerData handles one command received from the peer
func (s *Service) ReceivePeerData(data []byte) {
	if s.LegacyPeer() {
		s.receiveLegacy(data)
		return
	}
	s.receiveNative(data)
}

func (s *Service) receiveLegacy(data []byte) {
	in, err := s.legacy.FromLegacy(data)
	if err != nil {
		s.logger.WithError(err).WithField("len", len(data)).Warn("Dropping legacy peer command")
		return
	}

	if in.ChannelSwitch && s.media != nil {
		s.logger.WithField("position", in.Position).Info("Peer switched speaker position")
		s.media.SetOutputMode(in.Position)
		s.send(event.BTMessage(event.BTTWSChannelModeSwitch, []byte{in.Position}))
	}

	if s.status != nil {
		switch in.Play {
		case protocol.PlayStarted:
			s.status.SetStatus(manager.StatusPlaying)
		case protocol.PlayStopped:
			s.status.SetStatus(manager.StatusPaused)
		}
	}

	if in.Frame != nil {
		s.receiveNative(in.Frame)
	}
}

func (s *Service) receiveNative(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		s.logger.WithError(err).WithField("len", len(data)).Warn("Dropping peer frame")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"event": f.Event.String(),
		"param": f.Param,
		"sync":  f.Sync,
	}).Debug("Peer frame")

	if f.Sync {
		s.channel.Schedule(DeferredEvent{Event: f.Event, Param: f.Param, TargetClock: f.TargetClock})
		return
	}
	s.deliver(f)
}

func (s *Service) deliverDeferred(d DeferredEvent) {
	s.deliver(protocol.Frame{Event: d.Event, Param: d.Param})
}

// deliver hands a received or due event to the application
func (s *Service) deliver(f protocol.Frame) {
	switch f.Event {
	case protocol.EventUI:
		s.send(event.Message{Kind: event.KindSysEvent, Cmd: f.Param, Value: uint32(f.Event)})

	case protocol.EventInput:
		key := f.Param
		if !s.IsWoodpecker() {
			var ok bool
			if key, ok = s.keys.Convert(key); !ok {
				return
			}
		}
		s.send(event.Message{Kind: event.KindInput, Cmd: key})

	case protocol.EventSystem:
		s.send(event.SysMessage(f.Param))

	case protocol.EventVolume:
		media, vol := protocol.SplitVolume(f.Param)
		s.send(event.Message{Kind: event.KindVolumeSync, Cmd: uint32(media), Value: uint32(vol)})

	case protocol.EventBattery:
		percent, uv := protocol.SplitBattery(f.Param)
		s.send(event.Message{Kind: event.KindBatterySync, Cmd: uint32(percent), Value: uv})

	case protocol.EventStatus:
		payload := make([]byte, protocol.StatusFrameLen)
		if f.Raw != nil {
			copy(payload, f.Raw)
		} else {
			copy(payload, protocol.Encode(f))
		}
		s.send(event.BTMessage(uint32(payload[1]), payload))
	}
}
