package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/app"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Cleanup(func() { log.SetLevel(log.InfoLevel) })

	cfg, err := loadConfig(mapLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, app.DefaultConfig(), cfg)
}

func TestLoadConfig_AppliesLogLevel(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	})

	cfg, err := loadConfig(mapLookup(map[string]string{
		"OMS_LOG_LEVEL":  "debug",
		"OMS_LOG_FORMAT": "json",
		"KAFKA_BROKERS":  "localhost:9092",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":  {"OMS_RPC_TIMEOUT": "later"},
		"bad storage":   {"OMS_STORAGE_DRIVER": "sqlite"},
		"bad log level": {"OMS_LOG_LEVEL": "chatty"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(mapLookup(env))
			require.Error(t, err)
		})
	}
}
