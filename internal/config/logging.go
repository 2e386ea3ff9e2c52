package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide structured logger. Output is JSON
// on stdout so the surrounding deployment can ship it as-is.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
