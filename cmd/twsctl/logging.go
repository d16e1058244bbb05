package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/twsync/pkg/config"
)

// loadConfig reads --config, or returns the defaults when it is not set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// configureLogger builds the command logger. Without --log-level the CLI is
// silent and only prints its results.
func configureLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	level := logrus.PanicLevel

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		switch s {
		case "debug":
			level = logrus.DebugLevel
		case "info":
			level = logrus.InfoLevel
		case "warn":
			level = logrus.WarnLevel
		case "error":
			level = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("%w: %s (must be debug, info, warn, or error)", ErrInvalidLogLevel, s)
		}
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
