// Package logging builds the process logger from configuration. Components
// receive a tagged *logrus.Entry at construction instead of reading ambient
// debug flags.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/gema-platform/live-classroom/config"
)

// New returns a logger configured from cfg. Unknown levels fall back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// Component tags an entry with the owning component's name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
