package plugin

import (
	"context"
	"time"
)

// Manifest declares a plugin's identity and load constraints before it runs.
type Manifest struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
	// DependsOn lists other plugins by bare name or by name@version key.
	DependsOn []string `json:"dependsOn" yaml:"dependsOn" toml:"dependsOn"`
	// RequiresImplementation blocks loading until some registered plugin
	// declares Implements for this one.
	RequiresImplementation bool   `json:"requiresImplementation" yaml:"requiresImplementation" toml:"requiresImplementation"`
	Implements             string `json:"implements" yaml:"implements" toml:"implements"`
	// Load set to false skips registration.
	Load *bool `json:"load,omitempty" yaml:"load,omitempty" toml:"load,omitempty"`
}

// Key returns the composite registry key name@version.
func (m Manifest) Key() string {
	return m.Name + "@" + m.Version
}

// Settings is the free-form settings block a plugin exposes once loaded.
type Settings map[string]any

// Resolvers maps a GraphQL type name to its field resolvers.
type Resolvers map[string]map[string]any

// GraphQL is a plugin's schema contribution.
type GraphQL struct {
	// Types holds SDL type definitions.
	Types     string
	Resolvers Resolvers
	Loaders   map[string]any
}

// SettingsChecker validates the value of one named settings property.
type SettingsChecker func(value any) bool

// PostloadHook runs after every successful plugin load with that plugin's key.
type PostloadHook func(ctx context.Context, key string) error

// StartupHook runs once from RunStartupHooks.
type StartupHook func(ctx context.Context) error

// Hooks are the optional callbacks a plugin contributes to the loader.
type Hooks struct {
	Postload PostloadHook
	// Settings maps settings keys to checkers applied to every plugin loaded
	// from this point on.
	Settings map[string]SettingsChecker
	Startup  StartupHook
}

// LoadResult is returned by Plugin.LoadPlugin.
type LoadResult struct {
	GraphQL  *GraphQL
	Settings Settings
	Hooks    *Hooks
}

// RegisteredPlugin is the record stored by Register.
type RegisteredPlugin struct {
	Key                    string
	Name                   string
	Version                string
	DependsOn              []string
	RequiresImplementation bool
	Implements             string
	Plugin                 Plugin
}

// LoadedPlugin tracks a plugin through a load pass.
type LoadedPlugin struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Loaded   bool     `json:"loaded"`
	Settings Settings `json:"settings,omitempty"`

	startup StartupHook
}

// HasStartupHook reports whether the plugin contributed a startup hook.
func (p LoadedPlugin) HasStartupHook() bool {
	return p.startup != nil
}

// Schema is the merged GraphQL state of one load pass.
type Schema struct {
	Types     string
	Resolvers Resolvers
	Loaders   map[string]any
}

func newSchema() Schema {
	return Schema{
		Resolvers: Resolvers{"Query": {}, "Mutation": {}},
		Loaders:   map[string]any{},
	}
}

// EventKind names a plugin lifecycle transition.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	// EventRefused covers invalid and skipped registrations.
	EventRefused  EventKind = "refused"
	EventLoaded   EventKind = "loaded"
	EventRejected EventKind = "rejected"
	EventStarted  EventKind = "started"
)

// Event describes one lifecycle transition.
type Event struct {
	Kind     EventKind
	Key      string
	Name     string
	Version  string
	Err      error
	Duration time.Duration
	At       time.Time
}
