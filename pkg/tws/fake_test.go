package tws_test

import (
	"context"
	"sync"

	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/manager"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws"
	"github.com/srg/twsync/pkg/tws/protocol"
	"github.com/stretchr/testify/mock"
)

// fakeController records what the service asks of the controller. Pairing
// calls go through testify mock so tests can set expectations on them.
type fakeController struct {
	mock.Mock

	mu       sync.Mutex
	clock    uint32
	role     tws.Role
	sent     [][]byte
	syncSent [][]byte
	modes    []protocol.TWSMode
	play     [][2]bool
	codec    uint8
	hfp      bool
	observer aps.PeerObserver
}

func (c *fakeController) setClock(v uint32) {
	c.mu.Lock()
	c.clock = v
	c.mu.Unlock()
}

func (c *fakeController) setRole(r tws.Role) {
	c.mu.Lock()
	c.role = r
	c.mu.Unlock()
}

func (c *fakeController) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeController) BTClock() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

func (c *fakeController) SendCommand(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeController) SendCommandSync(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncSent = append(c.syncSent, append([]byte(nil), data...))
	return nil
}

func (c *fakeController) Role() tws.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeController) WaitPair(tries int) error { return c.Called(tries).Error(0) }

func (c *fakeController) CancelWaitPair() error { return c.Called().Error(0) }

func (c *fakeController) CanPair() bool { return c.Called().Bool(0) }

func (c *fakeController) IsConnecting() bool { return c.Called().Bool(0) }

func (c *fakeController) StopAutoReconnect() { c.Called() }

func (c *fakeController) DisconnectAll() { c.Called() }

func (c *fakeController) DisconnectTWS() error { return c.Called().Error(0) }

func (c *fakeController) ConnectedDeviceCount() int { return c.Called().Int(0) }

func (c *fakeController) UpdateTWSMode(mode protocol.TWSMode, _ protocol.DRCMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = append(c.modes, mode)
}

func (c *fakeController) SetLocalPlay(bt, local bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.play = append(c.play, [2]bool{bt, local})
}

func (c *fakeController) SetCodec(codec uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}

func (c *fakeController) IsHFPMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hfp
}

func (c *fakeController) RuntimeObserver() aps.PeerObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

type fakeStatus struct {
	mu       sync.Mutex
	statuses []manager.Status
	phones   int
}

func (f *fakeStatus) SetStatus(s manager.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeStatus) ConnectedPhoneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phones
}

func (f *fakeStatus) all() []manager.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]manager.Status(nil), f.statuses...)
}

type fakeMedia struct {
	output  uint8
	volumes map[stream.Type]uint8
}

func (m *fakeMedia) StreamVolume(t stream.Type) uint8 { return m.volumes[t] }

func (m *fakeMedia) OutputMode() uint8 { return m.output }

func (m *fakeMedia) SetOutputMode(pos uint8) { m.output = pos }

type nopObserver struct{}

func (nopObserver) ExchangeSamples(int) int { return 0 }

func (nopObserver) Negotiate(d, c aps.Level) (aps.Level, aps.Level) { return d, c }

func (nopObserver) NotifyLevelChange(aps.Level) {}

func (nopObserver) SamplesDiff() (int, aps.Level, uint16) { return 0, aps.DefaultLevel, 0 }

func (nopObserver) TriggerRestart(aps.RestartReason) {}
