package tws

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// NotifyStartPlay tells the slave that playback of media started. Only the
// master sends it.
func (s *Service) NotifyStartPlay(media stream.Type, codec, sampleRate uint8) error {
	if !s.IsMaster() {
		return nil
	}

	var volume uint8
	if s.media != nil {
		volume = s.media.StreamVolume(media)
	}
	s.ctrl.SetLocalPlay(media == stream.TypeMusic, media == stream.TypeLocalMusic)

	s.logger.WithFields(logrus.Fields{
		"media":       media.String(),
		"codec":       codec,
		"sample_rate": sampleRate,
		"volume":      volume,
	}).Info("Notify slave start play")

	return s.channel.SendFrame(protocol.StatusFrame{
		SubEvent:   protocol.StatusStartPlay,
		MediaType:  media,
		Codec:      codec,
		SampleRate: sampleRate,
		Volume:     volume,
	}.Encode())
}

// NotifyStopPlay tells the slave that playback stopped. Only the master sends it.
func (s *Service) NotifyStopPlay() error {
	if !s.IsMaster() {
		return nil
	}
	s.logger.Info("Notify slave stop play")
	return s.channel.SendFrame(protocol.StatusFrame{SubEvent: protocol.StatusStopPlay}.Encode())
}

// SyncVolumeToSlave pushes the volume of media to the slave
func (s *Service) SyncVolumeToSlave(media stream.Type, volume uint8) error {
	if !s.IsMaster() {
		return nil
	}
	return s.channel.Send(protocol.EventVolume, protocol.VolumeParam(media, volume))
}

// SetStreamType records the source stream type and switches the controller
// to the matching TWS mode. A master with a legacy slave also pushes the mode
// and volume, which legacy peers cannot derive from native status frames.
func (s *Service) SetStreamType(t stream.Type) {
	mode, drc := protocol.ModeForStream(t)

	s.mu.Lock()
	s.peer.SourceType = t
	s.mu.Unlock()

	s.ctrl.UpdateTWSMode(mode, drc)
	s.logger.WithFields(logrus.Fields{
		"stream": t.String(),
		"mode":   mode,
		"drc":    drc,
	}).Debug("TWS stream type")

	if !s.IsMaster() || !s.LegacyPeer() {
		return
	}
	_ = s.channel.sendRaw(protocol.SwitchTWSModeCommand(mode, drc), false)
	if s.media != nil {
		_ = s.channel.sendRaw(protocol.SetVolumeCommand(s.media.StreamVolume(t)), false)
	}
}

// SetCodec forwards the codec in use to the controller
func (s *Service) SetCodec(codec uint8) {
	s.mu.Lock()
	s.codec = codec
	s.mu.Unlock()
	s.ctrl.SetCodec(codec)
}

// Codec returns the last codec set
func (s *Service) Codec() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// ChannelModeSwitch swaps the left and right outputs of the pair. The master
// takes the opposite side and tells the slave which side it now plays.
func (s *Service) ChannelModeSwitch() error {
	if !s.IsMaster() || s.media == nil {
		return nil
	}

	local, peer := protocol.SpeakerLeft, protocol.SpeakerRight
	if s.media.OutputMode() == protocol.SpeakerLeft {
		local, peer = protocol.SpeakerRight, protocol.SpeakerLeft
	}

	s.logger.WithFields(logrus.Fields{
		"local": local,
		"peer":  peer,
	}).Info("TWS channel mode switch")

	err := s.channel.sendRaw(protocol.SwitchPositionCommand(peer), false)
	s.media.SetOutputMode(local)
	s.send(event.BTMessage(event.BTTWSChannelModeSwitch, []byte{local}))
	return err
}
