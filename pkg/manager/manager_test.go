package manager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/twsync/internal/msgbus"
	"github.com/srg/twsync/internal/testutils"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/device"
	"github.com/srg/twsync/pkg/event"
	"github.com/srg/twsync/pkg/manager"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockController) StopAutoReconnect() { m.Called() }

func (m *mockController) DisconnectAll() { m.Called() }

func (m *mockController) ConnectedDeviceCount() int {
	return m.Called().Int(0)
}

func (m *mockController) SetPhoneControllerRole(addr device.Address) { m.Called(addr) }

func (m *mockController) ClearList(mode int) { m.Called(mode) }

type fixedRole bool

func (r fixedRole) IsMaster() bool { return bool(r) }

type ManagerTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	ctrl   *mockController
	bus    *msgbus.Bus
	main   *msgbus.Mailbox
	mgr    *manager.Manager

	phoneA device.Address
	phoneB device.Address
	peer   device.Address
}

func (s *ManagerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.ctrl = &mockController{}
	s.ctrl.On("SetPhoneControllerRole", mock.Anything).Maybe()

	s.bus = msgbus.NewBus(s.helper.Logger)
	mb, err := s.bus.Register(event.TargetMain, 64)
	s.Require().NoError(err)
	s.main = mb

	s.mgr = manager.New(*config.DefaultConfig(), s.ctrl, s.bus, s.helper.Logger)
	s.mgr.SetRoleSource(fixedRole(true))

	s.phoneA = device.MustParseAddress("AA:BB:CC:00:00:01")
	s.phoneB = device.MustParseAddress("AA:BB:CC:00:00:02")
	s.peer = device.MustParseAddress("AA:BB:CC:00:00:03")
}

// apply runs a link event the way the work queue would
func (s *ManagerTestSuite) apply(ev manager.LinkEvent) {
	s.Require().True(s.mgr.HandleLinkEvent(ev).Run())
}

func (s *ManagerTestSuite) connectPhone(addr device.Address) {
	s.apply(manager.LinkEvent{Type: manager.LinkACLConnected, Address: addr})
	s.apply(manager.LinkEvent{Type: manager.LinkGetName, Address: addr, Name: "phone"})
	s.apply(manager.LinkEvent{Type: manager.LinkA2DPConnected, Address: addr})
}

func (s *ManagerTestSuite) sysEvents() []uint32 {
	var out []uint32
	for _, m := range s.main.Drain() {
		if m.Kind == event.KindSysEvent {
			out = append(out, m.Cmd)
		}
	}
	return out
}

func (s *ManagerTestSuite) TestConnectedCountBoundary() {
	// GOAL: First and second phone connects produce different notifications
	//
	// TEST SCENARIO: connect phone A → BTConnected; connect phone B → 2ndConnected

	s.connectPhone(s.phoneA)
	s.connectPhone(s.phoneB)

	s.Equal([]uint32{event.SysEventBTConnected, event.SysEvent2ndConnected}, s.sysEvents(),
		"connect sequence MUST emit [first, second] in order")
	s.Equal(2, s.mgr.ConnectedPhoneCount())
	s.Equal(manager.StatusPaused, s.mgr.StatusWord()&manager.PlaybackGroup, "first connect MUST enter Paused")
	s.ctrl.AssertCalled(s.T(), "SetPhoneControllerRole", s.phoneA)
}

func (s *ManagerTestSuite) TestSecondProfileDoesNotRecount() {
	s.connectPhone(s.phoneA)
	s.apply(manager.LinkEvent{Type: manager.LinkHFConnected, Address: s.phoneA})

	s.Equal(1, s.mgr.ConnectedPhoneCount(), "HF after A2DP MUST NOT count the phone again")
	s.Equal([]uint32{event.SysEventBTConnected}, s.sysEvents())
}

func (s *ManagerTestSuite) TestFirstConnectEmitsBTEvent() {
	s.connectPhone(s.phoneA)

	var bt []uint32
	for _, m := range s.main.Drain() {
		if m.Kind == event.KindBTEvent {
			bt = append(bt, m.Cmd)
		}
	}
	s.Equal([]uint32{event.BTConnectionEvent}, bt)
}

func (s *ManagerTestSuite) TestTWSPeerIsNotCounted() {
	s.apply(manager.LinkEvent{Type: manager.LinkACLConnected, Address: s.peer})
	s.apply(manager.LinkEvent{Type: manager.LinkGetName, Address: s.peer, Name: "TWS Speaker", IsTWS: true})
	s.apply(manager.LinkEvent{Type: manager.LinkA2DPConnected, Address: s.peer})

	s.Zero(s.mgr.ConnectedPhoneCount(), "TWS peer MUST be excluded from the phone count")
	s.Empty(s.sysEvents())

	st := s.mgr.Snapshot()
	s.Require().Len(st.Links, 1)
	s.False(st.Links[0].NotifyConnected, "notify_connected MUST never be set for a TWS peer")
}

func (s *ManagerTestSuite) TestDisconnect_RoleSwitchSuppressed() {
	// GOAL: Reason 0x16 is a reassociation, not a user visible disconnect
	s.connectPhone(s.phoneA)
	s.connectPhone(s.phoneB)
	s.main.Drain()

	s.apply(manager.LinkEvent{Type: manager.LinkACLDisconnected, Address: s.phoneA, Reason: manager.DisconnectReasonRoleSwitch})
	s.Empty(s.sysEvents(), "role switch disconnect MUST NOT notify")
	s.Equal(1, s.mgr.ConnectedPhoneCount())

	s.apply(manager.LinkEvent{Type: manager.LinkACLDisconnected, Address: s.phoneB, Reason: 0x13})
	s.Equal([]uint32{event.SysEventBTDisconnected, event.SysEventBTUnlinked}, s.sysEvents())
	s.Zero(s.mgr.ConnectedPhoneCount())
	s.Equal(uint8(0x13), s.mgr.DisconnectReason())
}

func (s *ManagerTestSuite) TestDisconnect_AtZeroIsNoop() {
	s.mgr.SetStatus(manager.StatusDisconnected)
	s.Zero(s.mgr.ConnectedPhoneCount(), "count MUST NOT go negative")
	s.Empty(s.sysEvents())
}

func (s *ManagerTestSuite) TestTWSPaired_Debounced() {
	// GOAL: Repeated TWS paired notifications produce exactly one visible event
	s.mgr.SetStatus(manager.StatusTwsPaired)
	s.mgr.SetStatus(manager.StatusTwsPaired)

	s.Equal([]uint32{event.SysEventTWSConnected}, s.sysEvents(), "duplicate paired MUST be a no-op")
	s.True(s.mgr.TWSMode())

	s.mgr.SetStatus(manager.StatusTwsUnpaired)
	s.mgr.SetStatus(manager.StatusTwsUnpaired)
	s.False(s.mgr.TWSMode())
	s.Equal(manager.StatusTwsUnpaired, s.mgr.StatusWord()&manager.TWSGroup)
}

func (s *ManagerTestSuite) TestTWSPaired_SlaveDoesNotNotify() {
	s.mgr.SetRoleSource(fixedRole(false))
	s.mgr.SetStatus(manager.StatusTwsPaired)

	var kinds []event.Kind
	for _, m := range s.main.Drain() {
		kinds = append(kinds, m.Kind)
	}
	s.Equal([]event.Kind{event.KindBTEvent}, kinds, "slave MUST only relay the BT TWS connection event")
}

func (s *ManagerTestSuite) TestPlayback() {
	s.mgr.SetStatus(manager.StatusPlaying)
	s.True(s.mgr.Playing())
	s.mgr.SetStatus(manager.StatusPaused)
	s.False(s.mgr.Playing())
}

func (s *ManagerTestSuite) TestStatusWordCombinesTWS() {
	s.mgr.SetStatus(manager.StatusWaitPair)
	s.mgr.SetStatus(manager.StatusTwsPaired)
	s.Equal(manager.StatusWaitPair|manager.StatusTwsPaired, s.mgr.StatusWord())
}

func (s *ManagerTestSuite) TestUnknownDeviceEventIgnored() {
	s.apply(manager.LinkEvent{Type: manager.LinkA2DPConnected, Address: s.phoneA})
	s.Zero(s.mgr.ConnectedPhoneCount())
	s.True(s.helper.HasMessage("Link event for unknown device"))
}

func (s *ManagerTestSuite) TestHaltedPhones() {
	s.connectPhone(s.phoneA)
	s.apply(manager.LinkEvent{Type: manager.LinkACLConnected, Address: s.phoneB})

	s.mgr.RecordHaltedPhones()
	s.Equal([]device.Address{s.phoneA}, s.mgr.HaltedPhones(), "only phones with an audio profile MUST be recorded")
}

func (s *ManagerTestSuite) TestInit() {
	s.ctrl.On("Start", mock.Anything).Return(nil).Once()

	s.Require().NoError(s.mgr.Init(context.Background()))
	s.True(s.mgr.Inited())
	s.Equal(manager.StatusWaitPair, s.mgr.StatusWord())
}

func (s *ManagerTestSuite) TestInit_ControllerFailureIsFatal() {
	s.ctrl.On("Start", mock.Anything).Return(errors.New("hci down")).Once()

	err := s.mgr.Init(context.Background())
	s.ErrorIs(err, manager.ErrControllerStart)
	s.False(s.mgr.Inited())
}

func (s *ManagerTestSuite) TestDeinit_WaitsForLinks() {
	s.ctrl.On("StopAutoReconnect").Once()
	s.ctrl.On("DisconnectAll").Once()
	s.ctrl.On("ConnectedDeviceCount").Return(1).Twice()
	s.ctrl.On("ConnectedDeviceCount").Return(0)

	s.Require().NoError(s.mgr.Deinit(context.Background()))
	s.ctrl.AssertExpectations(s.T())
}

func (s *ManagerTestSuite) TestClearPairedList() {
	s.ctrl.On("ClearList", 1).Once()
	s.mgr.ClearPairedList(1)

	s.Equal([]uint32{event.SysEventClearPairedList}, s.sysEvents())
	s.ctrl.AssertExpectations(s.T())
}

func (s *ManagerTestSuite) TestMasterWaitPair() {
	s.mgr.SetStatus(manager.StatusMasterWaitPair)
	s.Equal([]uint32{event.SysEventTWSStartPair}, s.sysEvents())
}

func (s *ManagerTestSuite) TestDump() {
	s.connectPhone(s.phoneA)
	s.mgr.Dump()
	s.True(s.helper.HasMessage("Bluetooth manager info"))
	s.True(s.helper.HasMessage("Device"))
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestCheckNewDeviceRole(t *testing.T) {
	cfg := *config.DefaultConfig()
	cfg.Device.Name = "Buds"
	cfg.TWS.CompareMAC = true
	cfg.TWS.MACPrefix = "AA:BB:CC"

	mgr := manager.New(cfg, &mockController{}, nil, nil)

	tests := []struct {
		name string
		addr string
		dev  string
		want bool
	}{
		{name: "prefix and name match", addr: "AA:BB:CC:01:02:03", dev: "Buds", want: true},
		{name: "prefix mismatch", addr: "AA:BB:CD:01:02:03", dev: "Buds", want: false},
		{name: "name mismatch", addr: "AA:BB:CC:01:02:03", dev: "Buds Pro", want: false},
		{name: "empty name", addr: "AA:BB:CC:01:02:03", dev: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mgr.CheckNewDeviceRole(device.MustParseAddress(tt.addr), tt.dev)
			if got != tt.want {
				t.Fatalf("CheckNewDeviceRole(%s, %q) = %v, want %v", tt.addr, tt.dev, got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	s := manager.StatusWaitPair | manager.StatusTwsPaired
	if got := s.String(); got != "wait-pair|tws-paired" {
		t.Fatalf("unexpected status string %q", got)
	}
}
