package sim

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/aps"
)

// LinkObserver is the sample exchange carried over the TWS link. The master
// and slave see it through their own aps.PeerObserver view.
type LinkObserver struct {
	clock  *Clock
	logger *logrus.Logger

	mu            sync.Mutex
	masterSamples int
	slaveSamples  int
	exchangeClock uint16
	level         aps.Level
	restarts      []aps.RestartReason
}

// NewLinkObserver creates an exchange with the master at the default level
func NewLinkObserver(clock *Clock, logger *logrus.Logger) *LinkObserver {
	if logger == nil {
		logger = logrus.New()
	}
	return &LinkObserver{clock: clock, logger: logger, level: aps.DefaultLevel}
}

// Master returns the master side view
func (o *LinkObserver) Master() aps.PeerObserver { return masterView{o} }

// Slave returns the slave side view
func (o *LinkObserver) Slave() aps.PeerObserver { return slaveView{o} }

// MasterLevel is the level last announced by the master
func (o *LinkObserver) MasterLevel() aps.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Restarts returns the restart requests seen so far
func (o *LinkObserver) Restarts() []aps.RestartReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]aps.RestartReason(nil), o.restarts...)
}

func (o *LinkObserver) restart(side string, r aps.RestartReason) {
	o.mu.Lock()
	o.restarts = append(o.restarts, r)
	o.mu.Unlock()
	o.logger.WithFields(logrus.Fields{
		"side":   side,
		"reason": r,
	}).Warn("Playback restart requested")
}

type masterView struct{ o *LinkObserver }

func (v masterView) ExchangeSamples(local int) int {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	v.o.masterSamples = local
	v.o.exchangeClock = uint16(v.o.clock.Now())
	return v.o.slaveSamples
}

func (v masterView) Negotiate(dest, current aps.Level) (aps.Level, aps.Level) {
	return dest, current
}

func (v masterView) NotifyLevelChange(l aps.Level) {
	v.o.mu.Lock()
	v.o.level = l
	v.o.mu.Unlock()
}

func (v masterView) SamplesDiff() (int, aps.Level, uint16) {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	return 0, v.o.level, v.o.exchangeClock
}

func (v masterView) TriggerRestart(r aps.RestartReason) { v.o.restart("master", r) }

type slaveView struct{ o *LinkObserver }

func (v slaveView) ExchangeSamples(local int) int {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	v.o.slaveSamples = local
	return v.o.masterSamples
}

func (v slaveView) Negotiate(dest, current aps.Level) (aps.Level, aps.Level) {
	return dest, current
}

func (v slaveView) NotifyLevelChange(aps.Level) {}

// SamplesDiff is positive when the slave holds more samples than the master
func (v slaveView) SamplesDiff() (int, aps.Level, uint16) {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	return v.o.slaveSamples - v.o.masterSamples, v.o.level, v.o.exchangeClock
}

func (v slaveView) TriggerRestart(r aps.RestartReason) { v.o.restart("slave", r) }
