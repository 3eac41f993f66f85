package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged    bool
	NewLogLevel        LogLevel
	NamespacesChanged  bool
	PlayersChanged     bool
	PlayerChanges      []PlayerDiff
}

// PlayerDiff describes what changed for a single local player between two
// configs.
type PlayerDiff struct {
	LocalPlayerID string
	NameChanged   bool
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Capability.EnabledNamespaces, new.Capability.EnabledNamespaces) {
		d.NamespacesChanged = true
	}

	oldPlayers := make(map[string]*PlayerConfig, len(old.Players))
	for i := range old.Players {
		oldPlayers[old.Players[i].LocalPlayerID] = &old.Players[i]
	}
	newPlayers := make(map[string]*PlayerConfig, len(new.Players))
	for i := range new.Players {
		newPlayers[new.Players[i].LocalPlayerID] = &new.Players[i]
	}

	for id, oldP := range oldPlayers {
		newP, exists := newPlayers[id]
		if !exists {
			d.PlayerChanges = append(d.PlayerChanges, PlayerDiff{LocalPlayerID: id, Removed: true})
			d.PlayersChanged = true
			continue
		}
		if oldP.Name != newP.Name {
			d.PlayerChanges = append(d.PlayerChanges, PlayerDiff{LocalPlayerID: id, NameChanged: true})
			d.PlayersChanged = true
		}
	}

	for id := range newPlayers {
		if _, exists := oldPlayers[id]; !exists {
			d.PlayerChanges = append(d.PlayerChanges, PlayerDiff{LocalPlayerID: id, Added: true})
			d.PlayersChanged = true
		}
	}

	return d
}
