package plugin

import (
	"context"
	"log/slog"
)

// Plugin is the runtime side of a registration.
type Plugin interface {
	// LoadPlugin prepares the plugin and returns its contributions. It may
	// block on I/O but must return once ctx is done; an error aborts the
	// whole load pass.
	LoadPlugin(ctx context.Context) (*LoadResult, error)
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(ctx context.Context) (*LoadResult, error)

// LoadPlugin implements Plugin.
func (f PluginFunc) LoadPlugin(ctx context.Context) (*LoadResult, error) {
	return f(ctx)
}

// Observer receives lifecycle events. Observe is called synchronously from
// the loader and must not block for long.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }

type observers []Observer

func (o observers) Observe(ev Event) {
	for _, obs := range o {
		obs.Observe(ev)
	}
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithSchemaMerger overrides the SDL merge implementation.
func WithSchemaMerger(merger SchemaMerger) Option {
	return func(m *Manager) {
		if merger != nil {
			m.merger = merger
		}
	}
}

// WithObserver adds a lifecycle observer. Observers are called in the order
// they were added.
func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		if obs != nil {
			m.observers = append(m.observers, obs)
		}
	}
}

// WithLogger sets the logger used for registration and load messages.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}
