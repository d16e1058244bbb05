package aps_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/srg/twsync/internal/testutils"
	"github.com/srg/twsync/pkg/aps"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakeTrack struct {
	mu          sync.Mutex
	levels      []aps.Level
	fill        int
	compensated []int
}

func (t *fakeTrack) SetAPSLevel(level aps.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels = append(t.levels, level)
}

func (t *fakeTrack) FillSamples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fill
}

func (t *fakeTrack) CompensateSamples(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compensated = append(t.compensated, n)
}

func (t *fakeTrack) applied() []aps.Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]aps.Level(nil), t.levels...)
}

type fakeResampler struct {
	modes []aps.ResampleMode
}

func (r *fakeResampler) SetMode(mode aps.ResampleMode) { r.modes = append(r.modes, mode) }

type fakePeer struct {
	remote      int
	diff        int
	masterLevel aps.Level
	clock       uint16
	// advance moves the report clock on every SamplesDiff call
	advance bool

	exchanged []int
	notified  []aps.Level
	restarts  []aps.RestartReason
}

func (p *fakePeer) ExchangeSamples(local int) int {
	p.exchanged = append(p.exchanged, local)
	return p.remote
}

func (p *fakePeer) Negotiate(dest, current aps.Level) (aps.Level, aps.Level) { return dest, current }

func (p *fakePeer) NotifyLevelChange(level aps.Level) { p.notified = append(p.notified, level) }

func (p *fakePeer) SamplesDiff() (int, aps.Level, uint16) {
	if p.advance {
		p.clock++
	}
	return p.diff, p.masterLevel, p.clock
}

func (p *fakePeer) TriggerRestart(reason aps.RestartReason) { p.restarts = append(p.restarts, reason) }

var (
	defaultLevels = aps.Levels{Min: aps.DefaultMinLevel, Default: aps.DefaultLevel, Max: aps.DefaultMaxLevel}
	wideLevels    = aps.Levels{Min: aps.Level1, Default: aps.Level5, Max: aps.Level8}
	marks         = aps.Watermarks{Increase: 120, Reduce: 60}
)

type InstanceTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	track  *fakeTrack
	peer   *fakePeer
}

func (s *InstanceTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.track = &fakeTrack{}
	s.peer = &fakePeer{masterLevel: aps.Level5}
}

func (s *InstanceTestSuite) newInstance(levels aps.Levels, opts aps.Options) *aps.Instance {
	if opts.StreamType == 0 {
		opts.StreamType = stream.TypeMusic
	}
	if opts.Track == nil {
		opts.Track = s.track
	}
	return aps.NewInstance(aps.Download, levels, marks, 15*time.Millisecond, opts, s.helper.Logger)
}

func (s *InstanceTestSuite) TestBoundsAndSlew_RandomOccupancy() {
	// GOAL: current level stays within [min, max] and moves at most one step per tick
	//
	// TEST SCENARIO: 5000 ticks with random occupancy around the watermarks → check every tick

	for _, levels := range []aps.Levels{defaultLevels, wideLevels} {
		inst := s.newInstance(levels, aps.Options{})
		rng := rand.New(rand.NewSource(42))

		prev := inst.Current()
		for i := 0; i < 5000; i++ {
			inst.Tick(rng.Intn(200))
			cur := inst.Current()

			s.Require().GreaterOrEqual(cur, levels.Min, "level MUST NOT drop below min")
			s.Require().LessOrEqual(cur, levels.Max, "level MUST NOT exceed max")
			step := int(cur) - int(prev)
			s.Require().True(step >= -1 && step <= 1, "tick %d MUST move at most one step (%s → %s)", i, prev, cur)
			prev = cur
		}
	}
}

func (s *InstanceTestSuite) TestHysteresis() {
	// GOAL: Default/Inc/Dec transitions follow the watermarks with mid = inc - (inc-red)/2
	//
	// TEST SCENARIO: walk the occupancy through every threshold and check status and level

	inst := s.newInstance(defaultLevels, aps.Options{})
	s.Equal(90, marks.Mid())

	steps := []struct {
		occupancy int
		status    aps.Status
		level     aps.Level
	}{
		{100, aps.StatusDefault, aps.Level5},
		{121, aps.StatusInc, aps.Level6},
		{91, aps.StatusInc, aps.Level6},
		{90, aps.StatusDefault, aps.Level5},
		{59, aps.StatusDec, aps.Level4},
		{89, aps.StatusDec, aps.Level4},
		{90, aps.StatusDefault, aps.Level5},
		{59, aps.StatusDec, aps.Level4},
		{121, aps.StatusInc, aps.Level5},
		{121, aps.StatusInc, aps.Level6},
		{30, aps.StatusDec, aps.Level5},
	}
	for i, st := range steps {
		inst.Tick(st.occupancy)
		s.Equal(st.status, inst.Status(), "step %d status", i)
		s.Equal(st.level, inst.Current(), "step %d level", i)
	}
}

func (s *InstanceTestSuite) TestHardwareTouchedOnlyOnChange() {
	inst := s.newInstance(defaultLevels, aps.Options{})

	for i := 0; i < 10; i++ {
		inst.Tick(100)
	}
	s.Empty(s.track.applied(), "steady occupancy MUST NOT touch the track")

	inst.Tick(130)
	inst.Tick(130)
	s.Equal([]aps.Level{aps.Level6}, s.track.applied())
}

func (s *InstanceTestSuite) TestFastSet() {
	inst := s.newInstance(wideLevels, aps.Options{})
	inst.FastSet(aps.Level2)
	s.Equal(aps.Level2, inst.Current())
	s.Equal(aps.Level2, inst.Dest())

	inst.FastSet(aps.Level8 + 3)
	s.Equal(aps.Level8, inst.Current(), "fast set MUST clamp to max")
}

func (s *InstanceTestSuite) TestLocalStreamNotAdjusted() {
	inst := s.newInstance(defaultLevels, aps.Options{StreamType: stream.TypeLocalMusic})
	s.False(inst.NeedsAdjustment())

	inst.Tick(500)
	inst.Tick(0)
	s.Equal(aps.Level5, inst.Current())
	s.Empty(s.track.applied())
}

func (s *InstanceTestSuite) TestUploadDrivesResampler() {
	r := &fakeResampler{}
	inst := aps.NewInstance(aps.Upload, defaultLevels, marks, 15*time.Millisecond,
		aps.Options{StreamType: stream.TypeVoice, Resampler: r, Role: aps.RoleMaster, Peer: s.peer}, s.helper.Logger)

	inst.Tick(130)
	inst.Tick(90)
	inst.Tick(10)

	s.Equal([]aps.ResampleMode{aps.ResampleDown, aps.ResampleDefault, aps.ResampleUp}, r.modes)
	s.Empty(s.peer.exchanged, "upload MUST run the standalone algorithm")
}

func (s *InstanceTestSuite) TestMaster_NotifiesPeer() {
	s.track.fill = 480
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleMaster, Peer: s.peer})

	inst.Tick(100)
	s.Equal([]int{480}, s.peer.exchanged, "master MUST publish its sample count every tick")
	s.Empty(s.peer.notified)

	inst.Tick(130)
	s.Equal([]aps.Level{aps.Level6}, s.peer.notified)
	s.Equal([]aps.Level{aps.Level6}, s.track.applied())
}

func (s *InstanceTestSuite) TestMaster_NoAdjustStillNegotiates() {
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleMaster, Peer: s.peer, StreamType: stream.TypeLineIn})

	inst.Tick(500)
	s.Len(s.peer.exchanged, 1)
	s.Empty(s.peer.notified)
	s.Equal(aps.Level5, inst.Current())
}

func (s *InstanceTestSuite) TestSlave_OffsetMapping() {
	tests := []struct {
		diff int
		want aps.Level
	}{
		{0, aps.Level5},
		{6, aps.Level6},
		{11, aps.Level7},
		{16, aps.Level8},
		{-6, aps.Level4},
		{-11, aps.Level3},
		{-16, aps.Level2},
	}
	for _, tt := range tests {
		s.peer = &fakePeer{masterLevel: aps.Level5, diff: tt.diff, advance: true}
		inst := s.newInstance(wideLevels, aps.Options{Role: aps.RoleSlave, Peer: s.peer})

		for i := 0; i < 4; i++ {
			inst.Tick(0)
		}
		s.Equal(tt.want, inst.Current(), "diff %d", tt.diff)
		s.Equal(tt.want, inst.Dest(), "diff %d", tt.diff)
	}
}

func (s *InstanceTestSuite) TestSlave_ClampsAndSlews() {
	s.peer.diff = 30
	s.peer.clock = 1
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleSlave, Peer: s.peer})

	inst.Tick(0)
	s.Equal(aps.Level6, inst.Current(), "offset MUST be clamped to max")
	s.Equal(aps.Level6, inst.Dest())
}

func (s *InstanceTestSuite) TestSlave_FollowsMasterWhenClockUnchanged() {
	s.peer.masterLevel = aps.Level4
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleSlave, Peer: s.peer})

	inst.Tick(0)
	s.Equal(aps.Level4, inst.Current())
}

func (s *InstanceTestSuite) TestSlave_RestartAfterPersistentDrift() {
	// GOAL: |diff| > 50 for more than 1000 consecutive ticks restarts playback
	//
	// TEST SCENARIO: 1000 ticks of drift → no restart; one more → restart; a good tick resets the counter

	s.peer.diff = 60
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleSlave, Peer: s.peer})

	for i := 0; i < 1000; i++ {
		inst.Tick(0)
	}
	s.Empty(s.peer.restarts, "restart MUST NOT happen at 1000 ticks")

	inst.Tick(0)
	s.Equal([]aps.RestartReason{aps.RestartSampleDiff}, s.peer.restarts)

	for i := 0; i < 999; i++ {
		inst.Tick(0)
	}
	s.peer.diff = 0
	inst.Tick(0)
	s.peer.diff = 60
	for i := 0; i < 1000; i++ {
		inst.Tick(0)
	}
	s.Len(s.peer.restarts, 1, "a tick within range MUST reset the drift counter")
}

func (s *InstanceTestSuite) TestSlave_CompensatesSamples() {
	s.track.fill = 1000
	s.peer.remote = 1003
	inst := s.newInstance(defaultLevels, aps.Options{Role: aps.RoleSlave, Peer: s.peer})

	inst.Tick(0)
	s.Equal([]int{1000}, s.peer.exchanged)
	s.Equal([]int{3}, s.track.compensated)
	s.Empty(s.peer.restarts)

	s.peer.remote = 1000 + 0x40000000
	inst.Tick(0)
	s.Equal([]aps.RestartReason{aps.RestartSampleDiff}, s.peer.restarts, "compensation overflow MUST restart")
}

func (s *InstanceTestSuite) TestSlave_HFPModeRunsNormal() {
	inst := s.newInstance(defaultLevels, aps.Options{
		Role:    aps.RoleSlave,
		Peer:    s.peer,
		HFPMode: func() bool { return true },
	})

	inst.Tick(130)
	s.Equal(aps.StatusInc, inst.Status())
	s.Empty(s.peer.exchanged, "HFP slave MUST follow its own buffer")
}

func TestInstanceTestSuite(t *testing.T) {
	suite.Run(t, new(InstanceTestSuite))
}

func TestClockDelta(t *testing.T) {
	tests := []struct {
		name  string
		now   aps.ClockSample
		prev  aps.ClockSample
		count int
		slot  int
		want  int
	}{
		{"same instant", aps.ClockSample{Clock: 10}, aps.ClockSample{Clock: 10}, 0, aps.PlaybackSlotMicros, 0},
		{"one tick", aps.ClockSample{Clock: 11}, aps.ClockSample{Clock: 10}, 0, aps.PlaybackSlotMicros, 312},
		{"two ticks", aps.ClockSample{Clock: 12}, aps.ClockSample{Clock: 10}, 0, aps.PlaybackSlotMicros, 625},
		{"playback slot", aps.ClockSample{Clock: 102, Intraslot: 10}, aps.ClockSample{Clock: 100}, 1, aps.PlaybackSlotMicros, 8135},
		{"record slot", aps.ClockSample{Clock: 100}, aps.ClockSample{Clock: 100}, 2, aps.RecordSlotMicros, 7500},
		{"intraslot behind", aps.ClockSample{Clock: 12, Intraslot: 100}, aps.ClockSample{Clock: 10, Intraslot: 300}, 0, aps.PlaybackSlotMicros, 425},
		{"clock wrap", aps.ClockSample{Clock: 1}, aps.ClockSample{Clock: 0xFFFFFFFF}, 0, aps.PlaybackSlotMicros, 625},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aps.ClockDelta(tt.now, tt.prev, tt.count, tt.slot))
		})
	}
}

func TestNeedsAPS(t *testing.T) {
	for _, st := range []stream.Type{stream.TypeLocalMusic, stream.TypeLineIn, stream.TypeMicIn, stream.TypeFM, stream.TypeTTS} {
		assert.False(t, aps.NeedsAPS(st), st.String())
	}
	for _, st := range []stream.Type{stream.TypeMusic, stream.TypeVoice, stream.TypeUSound} {
		assert.True(t, aps.NeedsAPS(st), st.String())
	}
}

func TestCompensator_Period(t *testing.T) {
	cfg := config.DefaultConfig().APS

	tests := []struct {
		name string
		opts aps.Options
		want time.Duration
	}{
		{"music", aps.Options{StreamType: stream.TypeMusic}, 15 * time.Millisecond},
		{"music low latency", aps.Options{StreamType: stream.TypeMusic, LowLatency: true}, 6 * time.Millisecond},
		{"voice standalone", aps.Options{StreamType: stream.TypeVoice}, 8 * time.Millisecond},
		{"voice tws without hfp-tws", aps.Options{StreamType: stream.TypeVoice, Role: aps.RoleMaster}, 8 * time.Millisecond},
		{"voice over tws", aps.Options{StreamType: stream.TypeVoice, Role: aps.RoleSlave, HFPTWS: true}, 15 * time.Millisecond},
		{"linein low latency", aps.Options{StreamType: stream.TypeLineIn, LowLatency: true}, 15 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := aps.NewCompensator(cfg, testutils.NewTestHelper(t).Logger)
			inst := c.Start(aps.Download, tt.opts)
			assert.Equal(t, tt.want, inst.Period())
		})
	}
}

func TestCompensator_StartStopRun(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	cfg := config.DefaultConfig().APS
	cfg.TickPeriod = time.Millisecond

	c := aps.NewCompensator(cfg, helper.Logger)
	assert.False(t, c.Tick(aps.Download, 0), "tick without monitor MUST report false")

	_, err := c.Run(context.Background(), aps.Download, func() int { return 0 })
	assert.Error(t, err)

	track := &fakeTrack{}
	c.Start(aps.Download, aps.Options{StreamType: stream.TypeMusic, Track: track})
	assert.Equal(t, []aps.Level{aps.DefaultLevel}, track.applied(), "start MUST fast-set the default level")

	done, err := c.Run(context.Background(), aps.Download, func() int { return 500 })
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.Instance(aps.Download).Current() == aps.DefaultMaxLevel
	}, time.Second, time.Millisecond)

	c.Stop(aps.Download)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop MUST exit after stop")
	}
	assert.Nil(t, c.Instance(aps.Download))
}
