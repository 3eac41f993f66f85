package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// knownNamespaces lists the capability-agent namespaces the core can
// register, used by [Validate] to reject unrecognised entries in
// capability.enabled_namespaces.
var knownNamespaces = map[string]bool{
	"SpeechRecognizer":     true,
	"ExternalMediaPlayer":  true,
	"PlaybackController":   true,
	"PlaylistController":   true,
	"SeekController":       true,
	"FavoritesController":  true,
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Device.Agent == "" {
		errs = append(errs, errors.New("device.agent is required"))
	}
	if cfg.Device.SPIVersion == "" {
		errs = append(errs, errors.New("device.spi_version is required"))
	}

	if cfg.Capability.ExpectSpeechDefaultTimeout < 0 {
		errs = append(errs, errors.New("capability.expect_speech_default_timeout must not be negative"))
	}
	for _, ns := range cfg.Capability.EnabledNamespaces {
		if !knownNamespaces[ns] {
			errs = append(errs, fmt.Errorf("capability.enabled_namespaces: unknown namespace %q", ns))
		}
	}

	localIDsSeen := make(map[string]int, len(cfg.Players))
	for i, p := range cfg.Players {
		prefix := fmt.Sprintf("players[%d]", i)
		if p.LocalPlayerID == "" {
			errs = append(errs, fmt.Errorf("%s.local_player_id is required", prefix))
			continue
		}
		if prev, ok := localIDsSeen[p.LocalPlayerID]; ok {
			errs = append(errs, fmt.Errorf("%s.local_player_id %q is a duplicate of players[%d]", prefix, p.LocalPlayerID, prev))
		}
		localIDsSeen[p.LocalPlayerID] = i
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
	}

	return errors.Join(errs...)
}
