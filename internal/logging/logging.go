// Package logging owns the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const serviceName = "threads-api"

var (
	logger *logrus.Logger
	// Log is the base entry every package logs through.
	Log *logrus.Entry
)

// Tests do not go through main, so a usable logger must exist before Init.
func init() {
	Init("info", "text", false)
}

// Init rebuilds the logger. Unknown levels fall back to info.
func Init(level, format string, production bool) {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	Log = logger.WithFields(logrus.Fields{
		"service":        serviceName,
		"is_development": !production,
	})
}

// SetOutput redirects the logger, mostly for tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}
