package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	goplugin "plugin"
	"slices"
	"sort"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and searches for a `Plugin` symbol implementing the Plugin interface.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	case func(context.Context) (*LoadResult, error):
		return PluginFunc(p), nil
	default:
		return nil, fmt.Errorf("plugin symbol in %s must implement plugin.Plugin", path)
	}
}

// FindManifests walks dir and returns every manifest file, sorted by path.
// A directory holding several manifest formats contributes only the first
// one in ManifestFiles order.
func FindManifests(dir string) ([]string, error) {
	byDir := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rank := slices.Index(ManifestFiles, d.Name())
		if rank < 0 {
			return nil
		}
		parent := filepath.Dir(path)
		if prior, ok := byDir[parent]; ok && slices.Index(ManifestFiles, filepath.Base(prior)) < rank {
			return nil
		}
		byDir[parent] = path
		return nil
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(byDir))
	for _, path := range byDir {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Discover registers every plugin found under dir, or under the configured
// PluginDir when dir is empty. Each manifest is paired with the plugin binary
// in the same directory. Broken plugins are logged and skipped; the returned
// count is the number of successful registrations.
func (m *Manager) Discover(dir string) (int, error) {
	if dir == "" {
		dir = m.cfg.PluginDir
	}
	if dir == "" {
		return 0, nil
	}
	manifests, err := FindManifests(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("plugin directory does not exist", "dir", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("scan plugin directory: %w", err)
	}

	registered := 0
	for _, path := range manifests {
		manifest, err := LoadManifest(path)
		if err != nil {
			m.log.Error("[!] Error importing plugin manifest", "path", path, "error", err)
			continue
		}
		binary := filepath.Join(filepath.Dir(path), m.cfg.binaryName())
		impl, err := m.loader.Load(binary)
		if err != nil {
			m.log.Error("[!] Error importing plugin binary", "path", binary, "error", err)
			continue
		}
		if err := m.Register(manifest, impl); err == nil {
			registered++
		}
	}
	return registered, nil
}
