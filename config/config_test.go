package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 38400, cfg.BaudRate)
	assert.Equal(t, 16, cfg.QueueDepth)
	assert.Equal(t, 3*time.Second, cfg.NonGroupReceiveTimeout)
	assert.False(t, cfg.Enhanced)
}

func TestCheckRejectsOutOfRangeBaudRate(t *testing.T) {
	cfg := &BootConfig{BaudRate: 1}
	_, err := cfg.check()
	assert.Error(t, err)
}

func TestCheckRejectsOutOfRangeReceiveTimeout(t *testing.T) {
	cfg := &BootConfig{NonGroupReceiveTimeout: time.Hour}
	_, err := cfg.check()
	assert.Error(t, err)
}

func TestCheckFillsZeroTickInterval(t *testing.T) {
	cfg := &BootConfig{}
	out, err := cfg.check()
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, out.TickInterval)
}
