package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultBinaryName is the plugin binary looked up next to each manifest.
const DefaultBinaryName = "plugin.so"

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	// PluginDir is scanned by Discover for plugin manifests.
	PluginDir  string `yaml:"pluginDir"`
	BinaryName string `yaml:"binaryName"`
	// Disabled lists bare names or name@version keys that must not register.
	Disabled []string `yaml:"disabled"`
	// LoadTimeout bounds each LoadPlugin call. Zero means no limit.
	LoadTimeout time.Duration `yaml:"loadTimeout"`
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for i, entry := range c.Disabled {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("disabled[%d] cannot be empty", i)
		}
	}
	if c.LoadTimeout < 0 {
		return errors.New("loadTimeout cannot be negative")
	}
	if strings.ContainsRune(c.BinaryName, os.PathSeparator) {
		return fmt.Errorf("binaryName %q must be a file name", c.BinaryName)
	}
	return nil
}

// IsDisabled reports whether the manifest is switched off by configuration.
func (c ManagerConfig) IsDisabled(m Manifest) bool {
	for _, entry := range c.Disabled {
		if entry == m.Name || entry == m.Key() {
			return true
		}
	}
	return false
}

func (c ManagerConfig) binaryName() string {
	if c.BinaryName == "" {
		return DefaultBinaryName
	}
	return c.BinaryName
}
