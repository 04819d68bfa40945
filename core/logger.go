package core

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// NewLogger returns a new pre-configured logger
func NewLogger(level log.Level) *log.Logger {
	logger := log.New()

	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	// Warning severity or above unless asked otherwise.
	logger.SetLevel(level)

	return logger
}
