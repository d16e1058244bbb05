package telemetry_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/msgbus"
	"github.com/srg/twsync/internal/telemetry"
	"github.com/srg/twsync/internal/testutils"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/event"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

func (m *mockPublisher) Close() {
	m.Called()
}

type SinkTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	pub    *mockPublisher
	cfg    config.MQTTConfig
	sink   *telemetry.Sink
}

func (s *SinkTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.pub = &mockPublisher{}
	s.cfg = config.DefaultConfig().MQTT
	s.cfg.QoS = 1
	s.sink = telemetry.NewSink(s.pub, s.cfg, s.helper.Logger)
}

func (s *SinkTestSuite) TearDownTest() {
	s.pub.AssertExpectations(s.T())
}

func (s *SinkTestSuite) TestTopic() {
	tests := []struct {
		kind  event.Kind
		topic string
	}{
		{event.KindSysEvent, "twsync/Living_Room_L/sys"},
		{event.KindBTEvent, "twsync/Living_Room_L/bt"},
		{event.KindVolumeSync, "twsync/Living_Room_L/volume"},
		{event.KindBatterySync, "twsync/Living_Room_L/battery"},
	}
	for _, tt := range tests {
		s.Equal(tt.topic, s.sink.Topic("Living Room/L", tt.kind))
	}

	bare := telemetry.NewSink(s.pub, config.MQTTConfig{}, nil)
	s.Equal("spk_1/input", bare.Topic("spk#1", event.KindInput), "empty prefix MUST NOT produce a leading separator")
}

func (s *SinkTestSuite) TestEncode() {
	data, err := telemetry.Encode("master", event.TargetMain, event.BTMessage(event.BTTWSStartPlay, []byte{0x01, 0x30}))
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(string(data), `{
		"device": "master",
		"target": "main",
		"kind": "bt",
		"cmd": 224,
		"value": 0,
		"payload": "0130"
	}`)

	data, err = telemetry.Encode("master", event.TargetMain, event.SysMessage(event.SysEventTWSConnected))
	s.Require().NoError(err)
	s.NotContains(string(data), "payload", "empty payload MUST be omitted")
}

func (s *SinkTestSuite) TestAttach_PublishesAcceptedMessages() {
	// GOAL: every message accepted by the bus is mirrored, rejected sends are not
	//
	// TEST SCENARIO: one message to a registered mailbox, one to a missing target → one publish

	bus := msgbus.NewBus(s.helper.Logger)
	_, err := bus.Register(event.TargetMain, 8)
	s.Require().NoError(err)
	s.sink.Attach(bus, "Living Room/L")

	s.pub.On("Publish", "twsync/Living_Room_L/sys", byte(1), false, mock.AnythingOfType("[]uint8")).Return(nil).Once()

	s.Require().NoError(bus.SendAsync(event.TargetMain, event.SysMessage(event.SysEventTWSConnected)))
	s.Error(bus.SendAsync("missing", event.SysMessage(event.SysEventPowerOff)))

	published, failed := s.sink.Stats()
	s.Equal(uint64(1), published)
	s.Zero(failed)
}

func (s *SinkTestSuite) TestPublish_FailureIsCounted() {
	s.pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker gone")).Once()

	s.sink.Publish("slave", event.TargetMain, event.SysMessage(event.SysEventPowerOff))

	published, failed := s.sink.Stats()
	s.Zero(published)
	s.Equal(uint64(1), failed)
	s.Equal(1, s.helper.CountLevel(logrus.DebugLevel), "publish failures MUST be logged at debug")
}

func (s *SinkTestSuite) TestClose() {
	s.pub.On("Close").Once()
	s.sink.Close()
	s.True(s.helper.HasMessage("Telemetry closed"))
}

func TestSinkTestSuite(t *testing.T) {
	suite.Run(t, new(SinkTestSuite))
}

func TestConnect_DisabledWithoutBroker(t *testing.T) {
	_, err := telemetry.Connect(config.MQTTConfig{}, nil)
	if !errors.Is(err, telemetry.ErrDisabled) {
		t.Fatalf("Connect without broker MUST return ErrDisabled, got %v", err)
	}
}
