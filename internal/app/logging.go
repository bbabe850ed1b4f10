package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetupLogging настраивает глобальный logrus по уровню и формату из конфигурации.
func SetupLogging(cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("OMS_LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("OMS_LOG_FORMAT: unsupported format %q", cfg.LogFormat)
	}
	return nil
}
