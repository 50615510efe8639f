package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/velonav/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Route delivered", zap.Int("points", 42))
	require.NoError(t, logger.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Only the info entry should be written")
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Route delivered", entry["message"])
	assert.Equal(t, float64(42), entry["points"])
}

func TestNewWithWriter_Errors(t *testing.T) {
	_, err := NewWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	logger := zap.NewExample()
	assert.Same(t, logger, OrNop(logger))
}
