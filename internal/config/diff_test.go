package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberline/avscore/internal/config"
)

func TestDiffDetectsLogLevelChange(t *testing.T) {
	t.Parallel()

	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, config.LogLevelDebug, d.NewLogLevel)
}

func TestDiffDetectsPlayerAddedAndRemoved(t *testing.T) {
	t.Parallel()

	old := &config.Config{Players: []config.PlayerConfig{{LocalPlayerID: "MSP1", Name: "a"}}}
	new := &config.Config{Players: []config.PlayerConfig{{LocalPlayerID: "MSP2", Name: "b"}}}

	d := config.Diff(old, new)
	assert.True(t, d.PlayersChanged)
	assert.Len(t, d.PlayerChanges, 2)
}

func TestDiffDetectsNamespaceChange(t *testing.T) {
	t.Parallel()

	old := &config.Config{Capability: config.CapabilityConfig{EnabledNamespaces: []string{"SpeechRecognizer"}}}
	new := &config.Config{Capability: config.CapabilityConfig{EnabledNamespaces: []string{"SpeechRecognizer", "ExternalMediaPlayer"}}}

	d := config.Diff(old, new)
	assert.True(t, d.NamespacesChanged)
}

func TestDiffNoChanges(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	d := config.Diff(cfg, cfg)
	assert.False(t, d.LogLevelChanged)
	assert.False(t, d.PlayersChanged)
	assert.False(t, d.NamespacesChanged)
}
