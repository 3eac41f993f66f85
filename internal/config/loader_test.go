package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/internal/config"
)

func TestValidateRequiresDeviceFields(t *testing.T) {
	t.Parallel()

	err := config.Validate(&config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device.agent is required")
	assert.Contains(t, err.Error(), "device.spi_version is required")
}

func TestValidateRejectsUnknownNamespace(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Device:     config.DeviceConfig{Agent: "avscore", SPIVersion: "2.0"},
		Capability: config.CapabilityConfig{EnabledNamespaces: []string{"NotARealNamespace"}},
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown namespace")
}

func TestValidateRejectsDuplicatePlayerIDs(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Device: config.DeviceConfig{Agent: "avscore", SPIVersion: "2.0"},
		Players: []config.PlayerConfig{
			{LocalPlayerID: "MSP1", Name: "a"},
			{LocalPlayerID: "MSP1", Name: "b"},
		},
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Device: config.DeviceConfig{Agent: "avscore", SPIVersion: "2.0"},
		Capability: config.CapabilityConfig{
			EnabledNamespaces: []string{"SpeechRecognizer"},
		},
		Players: []config.PlayerConfig{{LocalPlayerID: "MSP1", Name: "spotify-local"}},
	}
	assert.NoError(t, config.Validate(cfg))
}
