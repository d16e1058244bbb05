package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/twsync/internal/sim"
	"github.com/srg/twsync/internal/telemetry"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/tws/protocol"
)

// Command-level errors
var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidHex      = errors.New("invalid hex data")
	ErrInvalidNumber   = errors.New("invalid number")
)

// userHints maps error classes to the hint printed after the error
var userHints = []struct {
	err  error
	hint string
}{
	{config.ErrInvalidConfig, "check the configuration file passed with --config"},
	{ErrInvalidLogLevel, "use one of debug, info, warn, error"},
	{ErrInvalidHex, "frames are hex bytes, optionally separated by spaces, colons or dashes"},
	{protocol.ErrMalformedFrame, "a frame is at least 5 bytes: event id and a little-endian u32 parameter"},
	{protocol.ErrUnknownEvent, "known events: ui, input, system, volume, status, battery"},
	{protocol.ErrNotTranslatable, "this event is not relayed to US281B peers"},
	{sim.ErrNotPaired, "the simulated devices failed to form a TWS link; rerun with --log-level debug"},
	{telemetry.ErrConnectionFailed, "check --mqtt-broker, e.g. tcp://localhost:1883"},
	{context.DeadlineExceeded, "the operation timed out"},
}

// FormatUserError renders err for the terminal, with a hint when the error
// belongs to a known class
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	for _, h := range userHints {
		if errors.Is(err, h.err) {
			return fmt.Sprintf("%v\n  hint: %s", err, h.hint)
		}
	}
	return err.Error()
}
