package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// parseLogLevel maps the --log-level flag onto a logrus level.
// The empty string selects fallback.
func parseLogLevel(s string, fallback logrus.Level) (logrus.Level, error) {
	switch s {
	case "":
		return fallback, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return fallback, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
