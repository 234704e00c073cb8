// Package log provides logrus formatting and setup shared by fitlog_sync binaries.
package log

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is used by both text and JSON output
const TimestampFormat = "2006-01-02 15:04:05.000"

// NewFormatter returns the formatter used for all log output.
// JSON output is meant for log shippers, text output for terminals.
func NewFormatter(jsonOutput bool) logrus.Formatter {
	if jsonOutput {
		return &logrus.JSONFormatter{
			TimestampFormat: TimestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  TimestampFormat,
		QuoteEmptyFields: true,
		DisableSorting:   false,
	}
}

// Setup configures the standard logger level and formatter
func Setup(logger *logrus.Logger, level string, jsonOutput bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(NewFormatter(jsonOutput))
	return nil
}

// Since returns a field set describing elapsed time, used for run summaries
func Since(start time.Time) logrus.Fields {
	return logrus.Fields{"duration_ms": time.Since(start).Milliseconds()}
}
