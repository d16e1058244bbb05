package aps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/groutine"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/stream"
)

// Compensator owns the download and upload monitors
type Compensator struct {
	cfg    config.APSConfig
	logger *logrus.Logger

	mu        sync.Mutex
	instances [2]*Instance
}

// NewCompensator creates a compensator with no running monitor
func NewCompensator(cfg config.APSConfig, logger *logrus.Logger) *Compensator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Compensator{cfg: cfg, logger: logger}
}

// Start (re)creates the monitor for dir and fast-sets it to the default level
func (c *Compensator) Start(dir Direction, opts Options) *Instance {
	levels := Levels{
		Min:     Level(c.cfg.MinLevel),
		Default: Level(c.cfg.DefaultLevel),
		Max:     Level(c.cfg.MaxLevel),
	}
	marks := Watermarks{Increase: c.cfg.IncreaseWatermark, Reduce: c.cfg.ReduceWatermark}

	inst := NewInstance(dir, levels, marks, c.period(opts), opts, c.logger)
	inst.FastSet(levels.Default)

	c.mu.Lock()
	c.instances[dir] = inst
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"dir":    dir,
		"stream": opts.StreamType,
		"period": inst.Period(),
		"need":   inst.NeedsAdjustment(),
	}).Info("APS monitor started")
	return inst
}

// Stop detaches the monitor for dir
func (c *Compensator) Stop(dir Direction) {
	c.mu.Lock()
	inst := c.instances[dir]
	c.instances[dir] = nil
	c.mu.Unlock()

	if inst != nil {
		c.logger.WithField("dir", dir).Info("APS monitor stopped")
	}
}

// Instance returns the monitor for dir, nil when stopped
func (c *Compensator) Instance(dir Direction) *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances[dir]
}

// Tick runs one step of the monitor for dir; it reports false when no monitor runs
func (c *Compensator) Tick(dir Direction, occupancy int) bool {
	inst := c.Instance(dir)
	if inst == nil {
		return false
	}
	inst.Tick(occupancy)
	return true
}

// Run ticks the monitor for dir at its period, reading the buffer occupancy
// from occupancy, until ctx is done or the monitor is stopped.
func (c *Compensator) Run(ctx context.Context, dir Direction, occupancy func() int) (<-chan struct{}, error) {
	inst := c.Instance(dir)
	if inst == nil {
		return nil, fmt.Errorf("aps %s monitor not started", dir)
	}
	return groutine.Every(ctx, "aps-"+dir.String(), inst.Period(), func(context.Context) bool {
		if c.Instance(dir) != inst {
			return false
		}
		inst.Tick(occupancy())
		return true
	}), nil
}

func (c *Compensator) period(opts Options) time.Duration {
	switch opts.StreamType {
	case stream.TypeVoice:
		if opts.Role != RoleNone && opts.HFPTWS {
			return c.cfg.TickPeriod
		}
		return c.cfg.VoicePeriod
	case stream.TypeMusic, stream.TypeUSound, stream.TypeI2SRxIn, stream.TypeSPDIFIn:
		if opts.LowLatency {
			return c.cfg.LowLatencyPeriod
		}
	}
	return c.cfg.TickPeriod
}
