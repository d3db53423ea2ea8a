package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xerrors "PenPal/internal/errors"
	"PenPal/pkg/logger"
	"PenPal/pkg/schema"
)

// SchemaMerger folds one SDL document into another.
type SchemaMerger interface {
	MergeTypes(base, extra string) (string, error)
}

// Manager owns the plugin registry, runs the dependency-ordered load pass and
// keeps the merged schema of the last pass.
type Manager struct {
	mu         sync.RWMutex
	cfg        ManagerConfig
	registered map[string]*RegisteredPlugin
	// order holds registered keys in first-registration order.
	order  []string
	loaded map[string]*LoadedPlugin
	schema Schema

	loading   atomic.Bool
	loader    Loader
	merger    SchemaMerger
	observers observers
	log       *slog.Logger
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		registered: make(map[string]*RegisteredPlugin),
		loaded:     make(map[string]*LoadedPlugin),
		schema:     newSchema(),
		loader:     GoPluginLoader{},
		merger:     schema.NewMerger(),
		log:        logger.Named("PluginManager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Register validates the manifest and stores the plugin under name@version.
// A later registration with the same key replaces the earlier one. Refused
// registrations are logged and returned as errors; nothing is stored.
func (m *Manager) Register(manifest Manifest, p Plugin) error {
	key := manifest.Key()
	err := ValidateManifest(manifest)
	if p == nil {
		err = errors.Join(err, errors.New("plugin.loadPlugin must be a function"))
	}
	if err != nil {
		m.log.Error(fmt.Sprintf("[!] Failed to register plugin: %s", key), "error", err)
		refused := xerrors.Wrap(CodeInvalidManifest, err, "register "+key, xerrors.WithPlugin(key))
		m.emit(Event{Kind: EventRefused, Key: key, Name: manifest.Name, Version: manifest.Version, Err: refused})
		return refused
	}

	if (manifest.Load != nil && !*manifest.Load) || m.cfg.IsDisabled(manifest) {
		m.log.Warn(fmt.Sprintf("[!] Manifest for %s is disabled. Skipping.", key))
		skipped := xerrors.New(CodeDisabled, "", xerrors.WithPlugin(key))
		m.emit(Event{Kind: EventRefused, Key: key, Name: manifest.Name, Version: manifest.Version, Err: skipped})
		return skipped
	}

	m.mu.Lock()
	if _, exists := m.registered[key]; !exists {
		m.order = append(m.order, key)
	}
	m.registered[key] = &RegisteredPlugin{
		Key:                    key,
		Name:                   manifest.Name,
		Version:                manifest.Version,
		DependsOn:              slices.Clone(manifest.DependsOn),
		RequiresImplementation: manifest.RequiresImplementation,
		Implements:             manifest.Implements,
		Plugin:                 p,
	}
	m.mu.Unlock()

	m.log.Info(fmt.Sprintf("[+] Registered plugin: %s", key))
	m.emit(Event{Kind: EventRegistered, Key: key, Name: manifest.Name, Version: manifest.Version})
	return nil
}

// loadPass holds the accumulators that only live for one LoadPlugins call.
type loadPass struct {
	checkers map[string]SettingsChecker
	postload []PostloadHook
	schema   Schema
}

// LoadPlugins loads every registered plugin, one at a time, dependencies
// first. Plugins whose dependencies are registered but not loaded yet go to
// the back of the queue. Plugins that can never load are rejected, logged and
// removed from the registry. Errors from LoadPlugin or a postload hook abort
// the pass. A queue that only defers without progress fails with
// CodeUnresolvedDependencies.
func (m *Manager) LoadPlugins(ctx context.Context) (Schema, error) {
	if !m.loading.CompareAndSwap(false, true) {
		return Schema{}, xerrors.New(CodeLoadInProgress, "")
	}
	defer m.loading.Store(false)

	m.mu.Lock()
	queue := slices.Clone(m.order)
	m.loaded = make(map[string]*LoadedPlugin, len(queue))
	for _, key := range queue {
		rec := m.registered[key]
		m.loaded[key] = &LoadedPlugin{Key: key, Name: rec.Name, Version: rec.Version}
	}
	m.mu.Unlock()

	pass := &loadPass{checkers: map[string]SettingsChecker{}, schema: newSchema()}
	stalled := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return m.finish(pass), xerrors.Wrap(CodeLoadFailure, err, "load pass cancelled")
		}
		key := queue[0]
		queue = queue[1:]

		rec, ok := m.registeredPlugin(key)
		if !ok {
			continue
		}

		if missing := m.missingDependencies(rec); len(missing) > 0 {
			m.reject(rec, xerrors.Newf(CodeMissingDependency, "Not all dependencies met: %s", strings.Join(missing, ", ")))
			stalled = 0
			continue
		}

		if !m.dependenciesLoaded(rec) {
			queue = append(queue, key)
			stalled++
			if stalled >= len(queue) {
				schema := m.finish(pass)
				err := xerrors.Newf(CodeUnresolvedDependencies, "no plugin in the queue can make progress: %s", strings.Join(queue, ", "))
				m.log.Error("[!] Plugin load pass stalled", "plugins", queue)
				return schema, err
			}
			continue
		}
		stalled = 0

		if rec.RequiresImplementation && !m.hasImplementation(rec) {
			m.reject(rec, xerrors.New(CodeMissingImplementation, "It requires an implementation, but none exists"))
			continue
		}

		started := time.Now()
		result, err := m.invoke(ctx, rec)
		if err != nil {
			return m.finish(pass), xerrors.Wrap(CodeLoadFailure, err, "load "+key, xerrors.WithPlugin(key))
		}

		if hooks := result.Hooks; hooks != nil {
			if hooks.Settings != nil {
				if bad := malformedCheckers(hooks.Settings); len(bad) > 0 {
					m.reject(rec, xerrors.Newf(CodeInvalidSettingsHook, "hooks.settings must map keys to functions (%s)", strings.Join(bad, ", ")))
					continue
				}
				for name, check := range hooks.Settings {
					pass.checkers[name] = check
				}
			}
			if hooks.Postload != nil {
				pass.postload = append(pass.postload, hooks.Postload)
			}
			if hooks.Startup != nil {
				m.withLoaded(key, func(lp *LoadedPlugin) { lp.startup = hooks.Startup })
			}
		}

		if name, ok := pass.validateSettings(result.Settings); !ok {
			m.reject(rec, xerrors.Newf(CodeSettingsRejected, "%s config is improper", name))
			continue
		}

		merged, err := m.mergeGraphQL(pass.schema, result.GraphQL)
		if err != nil {
			m.reject(rec, xerrors.Wrap(CodeSchemaConflict, err, "graphql contribution cannot be merged"))
			continue
		}
		pass.schema = merged

		m.withLoaded(key, func(lp *LoadedPlugin) {
			lp.Loaded = true
			lp.Settings = result.Settings
		})

		for _, hook := range pass.postload {
			if err := hook(ctx, key); err != nil {
				return m.finish(pass), xerrors.Wrap(CodeHookFailure, err, "postload hook for "+key, xerrors.WithPlugin(key))
			}
		}

		m.log.Info(fmt.Sprintf("[+] Loaded %s", key))
		m.emit(Event{Kind: EventLoaded, Key: key, Name: rec.Name, Version: rec.Version, Duration: time.Since(started)})

		if rec.RequiresImplementation {
			queue = m.prioritizeImplementations(rec, queue)
		}
	}

	return m.finish(pass), nil
}

// finish drops every record that did not load and publishes the pass schema.
func (m *Manager) finish(pass *loadPass) Schema {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, lp := range m.loaded {
		if !lp.Loaded {
			delete(m.loaded, key)
		}
	}
	m.schema = pass.schema
	return pass.schema
}

func (m *Manager) invoke(ctx context.Context, rec *RegisteredPlugin) (*LoadResult, error) {
	var (
		result *LoadResult
		err    error
	)
	if m.cfg.LoadTimeout > 0 {
		result, err = m.invokeWithTimeout(ctx, rec)
	} else {
		result, err = rec.Plugin.LoadPlugin(ctx)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &LoadResult{}
	}
	return result, nil
}

// invokeWithTimeout bounds LoadPlugin by LoadTimeout. A plugin that ignores
// ctx keeps its goroutine running after the timeout; nothing waits for it and
// its late result is dropped, so LoadPlugin implementations must honour ctx.
func (m *Manager) invokeWithTimeout(ctx context.Context, rec *RegisteredPlugin) (*LoadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	defer cancel()

	type outcome struct {
		result *LoadResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := rec.Plugin.LoadPlugin(ctx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), fmt.Sprintf("loadPlugin exceeded %s", m.cfg.LoadTimeout))
	}
}

func (m *Manager) mergeGraphQL(current Schema, gql *GraphQL) (Schema, error) {
	if gql == nil {
		return current, nil
	}
	next := current
	if strings.TrimSpace(gql.Types) != "" {
		types, err := m.merger.MergeTypes(current.Types, gql.Types)
		if err != nil {
			return current, err
		}
		next.Types = types
	}
	if gql.Resolvers != nil {
		next.Resolvers = schema.MergeResolvers(current.Resolvers, gql.Resolvers)
	}
	if gql.Loaders != nil {
		loaders := make(map[string]any, len(current.Loaders)+len(gql.Loaders))
		for name, l := range current.Loaders {
			loaders[name] = l
		}
		for name, l := range gql.Loaders {
			loaders[name] = l
		}
		next.Loaders = loaders
	}
	return next, nil
}

// validateSettings runs every accumulated checker whose key is present in
// settings. It returns the first failing key in sorted order.
func (p *loadPass) validateSettings(settings Settings) (string, bool) {
	if len(settings) == 0 || len(p.checkers) == 0 {
		return "", true
	}
	names := make([]string, 0, len(p.checkers))
	for name := range p.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, ok := settings[name]
		if !ok {
			continue
		}
		if !p.checkers[name](value) {
			return name, false
		}
	}
	return "", true
}

func malformedCheckers(checkers map[string]SettingsChecker) []string {
	var bad []string
	for name, check := range checkers {
		if name == "" || check == nil {
			bad = append(bad, fmt.Sprintf("%q", name))
		}
	}
	sort.Strings(bad)
	return bad
}

// reject removes a plugin from the registry for good.
func (m *Manager) reject(rec *RegisteredPlugin, err *xerrors.Error) {
	m.log.Error(fmt.Sprintf("[!] Failed to load %s. %s", rec.Key, err.Message()), "code", err.Code())

	m.mu.Lock()
	delete(m.registered, rec.Key)
	m.order = slices.DeleteFunc(m.order, func(k string) bool { return k == rec.Key })
	m.mu.Unlock()

	m.emit(Event{Kind: EventRejected, Key: rec.Key, Name: rec.Name, Version: rec.Version, Err: err})
}

// resolve returns the registered keys a dependency reference points at: the
// exact key, or every plugin with that bare name.
func (m *Manager) resolve(ref string) []string {
	if _, ok := m.registered[ref]; ok {
		return []string{ref}
	}
	var keys []string
	for _, key := range m.order {
		if m.registered[key].Name == ref {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *Manager) missingDependencies(rec *RegisteredPlugin) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	for _, dep := range rec.DependsOn {
		if len(m.resolve(dep)) == 0 {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (m *Manager) dependenciesLoaded(rec *RegisteredPlugin) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, dep := range rec.DependsOn {
		if !m.anyLoaded(m.resolve(dep)) {
			return false
		}
	}
	return true
}

func (m *Manager) anyLoaded(keys []string) bool {
	for _, key := range keys {
		if lp, ok := m.loaded[key]; ok && lp.Loaded {
			return true
		}
	}
	return false
}

func implementsPlugin(other, target *RegisteredPlugin) bool {
	if other.Key == target.Key || other.Implements == "" {
		return false
	}
	return other.Implements == target.Key || other.Implements == target.Name
}

func (m *Manager) hasImplementation(rec *RegisteredPlugin) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, other := range m.registered {
		if implementsPlugin(other, rec) {
			return true
		}
	}
	return false
}

// prioritizeImplementations moves the queued implementers of rec, preceded by
// their queued and not yet loaded dependencies, to the front of the queue.
func (m *Manager) prioritizeImplementations(rec *RegisteredPlugin, queue []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queued := make(map[string]bool, len(queue))
	for _, key := range queue {
		queued[key] = true
	}

	var implementers []string
	for _, key := range queue {
		if implementsPlugin(m.registered[key], rec) {
			implementers = append(implementers, key)
		}
	}
	if len(implementers) == 0 {
		return queue
	}

	var required []string
	visited := map[string]bool{}
	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		other, ok := m.registered[key]
		if !ok {
			return
		}
		for _, dep := range other.DependsOn {
			for _, depKey := range m.resolve(dep) {
				if queued[depKey] && !m.anyLoaded([]string{depKey}) {
					visit(depKey)
				}
			}
		}
		required = append(required, key)
	}
	for _, key := range implementers {
		visit(key)
	}

	front := make(map[string]bool, len(required))
	for _, key := range required {
		front[key] = true
	}
	reordered := make([]string, 0, len(queue))
	reordered = append(reordered, required...)
	for _, key := range queue {
		if !front[key] {
			reordered = append(reordered, key)
		}
	}

	m.log.Info(fmt.Sprintf("[+] Prioritized implementations for %s: %s", rec.Key, strings.Join(implementers, ", ")))
	return reordered
}

// RunStartupHooks awaits every loaded plugin's startup hook in registration
// order. The first failure stops the sequence.
func (m *Manager) RunStartupHooks(ctx context.Context) error {
	for _, lp := range m.Loaded() {
		if lp.startup == nil {
			continue
		}
		started := time.Now()
		if err := lp.startup(ctx); err != nil {
			return xerrors.Wrap(CodeHookFailure, err, "startup hook for "+lp.Key, xerrors.WithPlugin(lp.Key))
		}
		m.emit(Event{Kind: EventStarted, Key: lp.Key, Name: lp.Name, Version: lp.Version, Duration: time.Since(started)})
	}
	return nil
}

// Registered returns the current registry in registration order.
func (m *Manager) Registered() []RegisteredPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegisteredPlugin, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *m.registered[key])
	}
	return out
}

// Loaded returns the loaded-plugin records in registration order. After a
// pass completes only successfully loaded plugins remain.
func (m *Manager) Loaded() []LoadedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LoadedPlugin, 0, len(m.loaded))
	seen := make(map[string]bool, len(m.loaded))
	for _, key := range m.order {
		if lp, ok := m.loaded[key]; ok {
			out = append(out, *lp)
			seen[key] = true
		}
	}
	// Rejected keys have left order but may still be pending the sweep.
	var rest []string
	for key := range m.loaded {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		out = append(out, *m.loaded[key])
	}
	return out
}

// LoadedPlugin returns the record for key.
func (m *Manager) LoadedPlugin(key string) (LoadedPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.loaded[key]
	if !ok {
		return LoadedPlugin{}, false
	}
	return *lp, true
}

// Schema returns the merged GraphQL state of the last load pass.
func (m *Manager) Schema() Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema
}

func (m *Manager) registeredPlugin(key string) (*RegisteredPlugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.registered[key]
	return rec, ok
}

func (m *Manager) withLoaded(key string, fn func(*LoadedPlugin)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lp, ok := m.loaded[key]; ok {
		fn(lp)
	}
}

func (m *Manager) emit(ev Event) {
	if len(m.observers) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.observers.Observe(ev)
}
