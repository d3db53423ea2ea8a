// Package registry records what a load pass produced. A Snapshot captures
// the loaded plugins, their settings and the merged GraphQL types so other
// processes can read the registry without running the loader.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"PenPal/pkg/plugin"
)

// ErrNoSnapshot is returned by Latest when nothing has been saved yet.
var ErrNoSnapshot = errors.New("registry snapshot not found")

// PluginState is one loaded plugin inside a snapshot.
type PluginState struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Settings plugin.Settings `json:"settings,omitempty"`
}

// Snapshot is the persisted result of a load pass.
type Snapshot struct {
	ID      string        `json:"id"`
	TakenAt time.Time     `json:"takenAt"`
	Plugins []PluginState `json:"plugins"`
	Types   string        `json:"types"`
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
	Close() error
}

// Source is the read side of the plugin manager.
type Source interface {
	Loaded() []plugin.LoadedPlugin
	Schema() plugin.Schema
}

// Capture builds a snapshot of the source's loaded set.
func Capture(src Source) Snapshot {
	loaded := src.Loaded()
	states := make([]PluginState, 0, len(loaded))
	for _, lp := range loaded {
		if !lp.Loaded {
			continue
		}
		states = append(states, PluginState{
			Key:      lp.Key,
			Name:     lp.Name,
			Version:  lp.Version,
			Settings: encodableSettings(lp.Settings),
		})
	}
	return Snapshot{
		ID:      uuid.NewString(),
		TakenAt: time.Now().UTC(),
		Plugins: states,
		Types:   src.Schema().Types,
	}
}

// encodableSettings copies settings, replacing every value JSON cannot
// encode (funcs, channels, NaN) with a "<type>" placeholder so snapshot
// stores never fail on plugin-provided values.
func encodableSettings(settings plugin.Settings) plugin.Settings {
	if len(settings) == 0 {
		return settings
	}
	out := make(plugin.Settings, len(settings))
	for name, value := range settings {
		if _, err := json.Marshal(value); err != nil {
			out[name] = fmt.Sprintf("<%T>", value)
			continue
		}
		out[name] = value
	}
	return out
}

// Plugin returns the state recorded for key.
func (s Snapshot) Plugin(key string) (PluginState, bool) {
	for _, p := range s.Plugins {
		if p.Key == key {
			return p, true
		}
	}
	return PluginState{}, false
}

// Keys returns the sorted keys of the captured plugins.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Plugins))
	for _, p := range s.Plugins {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}
