package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "twsctl",
	Short: "True Wireless Stereo sync toolkit",
	Long: `Tooling for the TWS synchronization subsystem of a Bluetooth speaker pair:

- Simulate a master/slave pair on a shared BT clock: pairing, synchronized
  UI events and APS drift compensation
- Encode and decode the frames exchanged between the two speakers
- Translate frames to and from the legacy US281B command set
- Show the effective configuration`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("twsctl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file; defaults apply when empty")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
