package main

import (
	"bytes"

	"github.com/srg/twsync/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite resets the package-level flag state before each test and
// runs the root command in-process.
type CommandTestSuite struct {
	suite.Suite
}

func (s *CommandTestSuite) SetupTest() {
	frameClock, frameMedia, frameVolume, frameCodec, frameRate = -1, "music", 0, 0, 0
	frameStop, frameLevel, frameFeatures, frameFromPeer = false, 0, "", false

	simTicks, simSourcePPM, simSlavePPM, simUIEvery, simPrefill = 2000, 0, 0, 0, 0
	simLegacySlave, simWorkQueue, simBroker, simJSON = false, false, "", false

	configShowJSON = false

	for name, value := range map[string]string{"log-level": "", "config": "", "no-color": "false"} {
		s.Require().NoError(rootCmd.PersistentFlags().Set(name, value))
	}
}

// ExecuteCommand runs twsctl with args and returns what it printed
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func (s *CommandTestSuite) AssertText(actual, expected string) {
	testutils.NewTextAsserter(s.T()).WithOptions(
		testutils.WithTrimSpace(true),
		testutils.WithIgnoreTrailingWhitespace(true),
	).Assert(actual, expected)
}
