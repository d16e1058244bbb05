package tws

import (
	"testing"
	"time"
)

// SetPollTiming shortens the pairing poll loops for the duration of a test
func SetPollTiming(t testing.TB, interval time.Duration) {
	ci, di := connectingPollInterval, disconnectPollInterval
	connectingPollInterval, disconnectPollInterval = interval, interval
	t.Cleanup(func() {
		connectingPollInterval, disconnectPollInterval = ci, di
	})
}
