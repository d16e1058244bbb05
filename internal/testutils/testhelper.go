package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logtest.Hook
}

// NewTestHelper creates a test helper whose logger records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := logtest.NewLocal(logger)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// CountLevel returns how many captured entries were logged at level
func (h *TestHelper) CountLevel(level logrus.Level) int {
	n := 0
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// HasMessage reports whether any captured entry carries msg
func (h *TestHelper) HasMessage(msg string) bool {
	for _, e := range h.Hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
