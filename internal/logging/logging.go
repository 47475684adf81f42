// Package logging configures the shared structured logger. Every component
// logs through this logger so that events carry consistent fields
// (component, event, inbox_hash) and render as JSON, mirroring the
// structlog JSON configuration the original proxy's session worker used.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a JSON-formatted logger at the given level ("debug", "info",
// "warn", "error"; unrecognized values fall back to "info").
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}

// Component returns a logger pre-tagged with a component field, so call
// sites don't repeat WithField("component", ...) everywhere.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
