package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolOptions(t *testing.T) {
	cfg := poolConfig{maxOpen: 25, maxIdle: 25, maxLifetime: time.Minute}

	WithMaxOpenConns(4)(&cfg)
	WithConnMaxLifetime(time.Hour)(&cfg)
	assert.Equal(t, poolConfig{maxOpen: 4, maxIdle: 4, maxLifetime: time.Hour}, cfg)

	WithMaxOpenConns(0)(&cfg)
	WithConnMaxLifetime(-time.Second)(&cfg)
	assert.Equal(t, 4, cfg.maxOpen)
	assert.Equal(t, time.Hour, cfg.maxLifetime)
}

func TestNilStore(t *testing.T) {
	var store *Store

	assert.ErrorContains(t, store.Ping(context.Background()), "not initialized")
	assert.NoError(t, store.Close())
}
