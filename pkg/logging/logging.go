// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Formats accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

func textFormatter() log.Formatter {
	return &log.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	}
}

func jsonFormatter() log.Formatter {
	return &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}
}

// Setup sets the level and formatter of the standard logger.
func Setup(level, format string) error {
	return Configure(log.StandardLogger(), level, format)
}

// Configure sets the level and formatter of logger.
func Configure(logger *log.Logger, level, format string) error {
	switch format {
	case FormatJSON:
		logger.SetFormatter(jsonFormatter())
	case FormatText:
		logger.SetFormatter(textFormatter())
	default:
		return fmt.Errorf("log format '%s' is not recognized", format)
	}

	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("while setting log level: %s", err)
	}
	logger.SetLevel(logLevel)

	return nil
}
