package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

device:
  agent: avscore
  spi_version: "2.0"

capability:
  expect_speech_default_timeout: 6s
  enabled_namespaces:
    - SpeechRecognizer
    - ExternalMediaPlayer

players:
  - local_player_id: MSP1
    name: spotify-local
`

func TestLoadFromReaderParsesSample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, config.LogLevelInfo, cfg.Server.LogLevel)
	assert.Equal(t, "avscore", cfg.Device.Agent)
	assert.Equal(t, "2.0", cfg.Device.SPIVersion)
	require.Len(t, cfg.Players, 1)
	assert.Equal(t, "MSP1", cfg.Players[0].LocalPlayerID)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(sampleYAML + "\nbogus_field: true\n"))
	assert.Error(t, err)
}

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, config.LogLevelDebug.IsValid())
	assert.True(t, config.LogLevelError.IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
}
