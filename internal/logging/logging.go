package logging

import (
	"Go2NetStats/internal/config"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger from the log section of the config.
func Setup(cfg config.LogConfig) error {
	level := log.InfoLevel
	if cfg.Level != "" {
		l, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format: '%s'", cfg.Format)
	}
	return nil
}
