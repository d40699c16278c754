package logging

import (
	"Go2NetStats/internal/config"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	require.NoError(t, Setup(config.LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	require.NoError(t, Setup(config.LogConfig{}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)

	assert.Error(t, Setup(config.LogConfig{Level: "loud"}))
	assert.Error(t, Setup(config.LogConfig{Format: "xml"}))
}
