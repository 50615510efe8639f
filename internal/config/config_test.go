package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/velonav/internal/lib/routing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 10*time.Second, cfg.Navigation.PollInterval)
	assert.Equal(t, 0.2, cfg.Navigation.OffRouteThresholdKm)
	assert.Equal(t, routing.Safe, cfg.Navigation.Variant())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velonav.yaml")
	yamlConfig := `
navigation:
  poll_interval: 5s
  default_variant: fast
stream:
  base_url: wss://veloinfo.ca/route
  progress_every: 500
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	t.Setenv("VELONAV__STREAM__PROGRESS_EVERY", "250")
	t.Setenv("VELONAV__NAVIGATION__LOOKAHEAD_KM", "0.3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Navigation.PollInterval)
	assert.Equal(t, routing.Fast, cfg.Navigation.Variant())
	assert.Equal(t, "wss://veloinfo.ca/route", cfg.Stream.BaseURL)
	assert.Equal(t, 250, cfg.Stream.ProgressEvery, "Environment should override the file")
	assert.Equal(t, 0.3, cfg.Navigation.LookaheadKm)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults
	assert.Equal(t, 10000, cfg.Stream.MaxDraftPoints)
	assert.Equal(t, "<vi-route-panel", cfg.Stream.TerminalMarker)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Navigation.PollInterval = 0
	cfg.Navigation.DefaultVariant = "scenic"
	cfg.Stream.ProgressEvery = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "default_variant")
	assert.Contains(t, err.Error(), "progress_every")
}
