package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("json", "debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("console", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), "info suppressed at warn level")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("json", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
