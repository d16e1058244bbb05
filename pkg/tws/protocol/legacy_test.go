package protocol_test

import (
	"testing"

	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws/protocol"
	"github.com/stretchr/testify/suite"
)

type LegacyTestSuite struct {
	suite.Suite

	legacy *protocol.Legacy
}

func (s *LegacyTestSuite) SetupTest() {
	s.legacy = protocol.NewLegacy(nil)
}

// roundTrip encodes native → legacy → native and returns the decoded frame
func (s *LegacyTestSuite) roundTrip(native []byte) protocol.Frame {
	cmds, err := s.legacy.ToLegacy(native)
	s.Require().NoError(err)
	s.Require().Len(cmds, 1, "shared event MUST map to exactly one legacy command")

	in, err := s.legacy.FromLegacy(cmds[0].Data)
	s.Require().NoError(err)
	s.Require().NotNil(in.Frame, "shared event MUST map back to a native frame")

	f, err := protocol.Decode(in.Frame)
	s.Require().NoError(err)
	return f
}

func (s *LegacyTestSuite) TestBijective_SharedEvents() {
	// GOAL: encode → translate → decode recovers the event id and parameter
	//
	// TEST SCENARIO: every event kind both protocols know, with canonical parameters

	tests := []struct {
		name   string
		native []byte
	}{
		{"input", protocol.Encode(protocol.Frame{Event: protocol.EventInput, Param: protocol.KeyEvent(protocol.KeyTypeShortUp, 0x11)})},
		{"battery", protocol.Encode(protocol.Frame{Event: protocol.EventBattery, Param: protocol.BatteryParam(6)})},
		{"volume", protocol.Encode(protocol.Frame{Event: protocol.EventVolume, Param: protocol.VolumeParam(stream.TypeMusic, 0x20)})},
		{"power off", protocol.Encode(protocol.Frame{Event: protocol.EventSystem, Param: event.SysEventPowerOff})},
		{"start play", protocol.StatusFrame{SubEvent: protocol.StatusStartPlay, MediaType: stream.TypeMusic, Codec: 1, SampleRate: 48, Volume: 10}.Encode()},
		{"stop play", protocol.StatusFrame{SubEvent: protocol.StatusStopPlay}.Encode()},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			want, err := protocol.Decode(tt.native)
			s.Require().NoError(err)

			got := s.roundTrip(tt.native)
			s.Equal(want.Event, got.Event, "event id MUST survive translation")
			s.Equal(want.Param, got.Param, "param MUST survive translation")
		})
	}
}

func (s *LegacyTestSuite) TestBattery_AllCanonicalLevels() {
	for level := uint8(0); level <= 10; level++ {
		native := protocol.Encode(protocol.Frame{Event: protocol.EventBattery, Param: protocol.BatteryParam(level)})
		got := s.roundTrip(native)
		s.Equal(protocol.BatteryParam(level), got.Param, "level %d", level)
	}
}

func (s *LegacyTestSuite) TestVolume_MediaFollowsSinkMode() {
	_, err := s.legacy.FromLegacy(protocol.SwitchTWSModeCommand(protocol.TWSModeAUX, protocol.DRCModeAUX))
	s.Require().NoError(err)

	mode, drc := s.legacy.SinkMode()
	s.Equal(protocol.TWSModeAUX, mode)
	s.Equal(protocol.DRCModeAUX, drc)

	native := protocol.Encode(protocol.Frame{Event: protocol.EventVolume, Param: protocol.VolumeParam(stream.TypeLineIn, 7)})
	got := s.roundTrip(native)
	s.Equal(native[1:5], protocol.Encode(got)[1:5])
	s.Equal(uint8(7), s.legacy.SinkVolume())
}

func (s *LegacyTestSuite) TestStatus_WithoutStartStopFeature() {
	legacy := protocol.NewLegacy(func(f protocol.Feature) bool { return f != protocol.FeatureUIStartStopCmd })

	start := protocol.StatusFrame{SubEvent: protocol.StatusStartPlay, MediaType: stream.TypeMusic, Volume: 9}.Encode()
	cmds, err := legacy.ToLegacy(start)
	s.Require().NoError(err)
	s.Require().Len(cmds, 1)
	s.Equal(protocol.SetVolumeCommand(9), cmds[0].Data, "start MUST degrade to a volume sync")
	s.True(cmds[0].Sync)

	cmds, err = legacy.ToLegacy(protocol.StatusFrame{SubEvent: protocol.StatusStopPlay}.Encode())
	s.NoError(err)
	s.Empty(cmds, "stop MUST be dropped without the start/stop feature")
}

func (s *LegacyTestSuite) TestPlayStateFromLegacy() {
	in, err := s.legacy.FromLegacy([]byte{byte(protocol.LegacyStartPlayer), protocol.StatusStartPlay, 2, 1, 44, 5})
	s.Require().NoError(err)
	s.Equal(protocol.PlayStarted, in.Play)

	in, err = s.legacy.FromLegacy([]byte{byte(protocol.LegacyStopPlayer), protocol.StatusStopPlay})
	s.Require().NoError(err)
	s.Equal(protocol.PlayStopped, in.Play)
}

func (s *LegacyTestSuite) TestLegacyOnlyCommands() {
	in, err := s.legacy.FromLegacy(protocol.SwitchPositionCommand(protocol.SpeakerRight))
	s.Require().NoError(err)
	s.True(in.ChannelSwitch)
	s.Equal(protocol.SpeakerRight, in.Position)
	s.Nil(in.Frame)

	in, err = s.legacy.FromLegacy(protocol.VolumeLimitCommand(0))
	s.Require().NoError(err)
	s.Equal(protocol.Inbound{}, in)
}

func (s *LegacyTestSuite) TestSinkStartPlay() {
	_, err := s.legacy.FromLegacy(protocol.SwitchTWSModeCommand(protocol.TWSModeMusic, protocol.DRCModeOff))
	s.Require().NoError(err)
	_, err = s.legacy.FromLegacy(protocol.SetVolumeCommand(14))
	s.Require().NoError(err)

	b, err := s.legacy.SinkStartPlay([]byte{3, 48})
	s.Require().NoError(err)

	st, err := protocol.DecodeStatus(b)
	s.Require().NoError(err)
	s.Equal(protocol.StatusFrame{
		SubEvent:   protocol.StatusStartPlay,
		MediaType:  stream.TypeLocalMusic,
		Codec:      3,
		SampleRate: 48,
		Volume:     14,
	}, st)

	s.legacy.Reset()
	mode, _ := s.legacy.SinkMode()
	s.Equal(protocol.TWSModeSingle, mode)
}

func (s *LegacyTestSuite) TestErrors() {
	_, err := s.legacy.ToLegacy(protocol.Encode(protocol.Frame{Event: protocol.EventUI, Param: 1}))
	s.ErrorIs(err, protocol.ErrNotTranslatable)

	_, err = s.legacy.ToLegacy(protocol.Encode(protocol.Frame{Event: protocol.EventSystem, Param: event.SysEventBTConnected}))
	s.ErrorIs(err, protocol.ErrNotTranslatable)

	_, err = s.legacy.ToLegacy([]byte{0x7E, 0, 0, 0, 0})
	s.ErrorIs(err, protocol.ErrUnknownEvent)

	_, err = s.legacy.ToLegacy([]byte{byte(protocol.EventInput), 1})
	s.ErrorIs(err, protocol.ErrMalformedFrame)

	_, err = s.legacy.FromLegacy([]byte{byte(protocol.LegacyKey), 1, 2})
	s.ErrorIs(err, protocol.ErrMalformedFrame)

	_, err = s.legacy.FromLegacy([]byte{byte(protocol.LegacyBTPlay), 1})
	s.ErrorIs(err, protocol.ErrUnknownEvent)

	_, err = s.legacy.FromLegacy(nil)
	s.ErrorIs(err, protocol.ErrMalformedFrame)
}

func TestLegacyTestSuite(t *testing.T) {
	suite.Run(t, new(LegacyTestSuite))
}
