// Package logging builds the logrus logger shared by the services.
package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/config"
)

// New builds a logger configured according to the provided logging config.
func New(cfg config.LoggingConfig) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(parseLevel(cfg.Level))

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

func parseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
