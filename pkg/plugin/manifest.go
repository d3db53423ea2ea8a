package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ManifestFiles lists the manifest file names recognised by discovery, in
// order of preference.
var ManifestFiles = []string{"manifest.json", "manifest.yaml", "manifest.yml", "manifest.toml"}

// ValidateManifest checks the manifest shape and reports every violation.
func ValidateManifest(m Manifest) error {
	var errs []error
	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, errors.New("manifest.name must be a non-empty String"))
	}
	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, errors.New("manifest.version must be a non-empty String"))
	}
	for i, dep := range m.DependsOn {
		if strings.TrimSpace(dep) == "" {
			errs = append(errs, fmt.Errorf("manifest.dependsOn[%d] must be a non-empty String", i))
		}
	}
	return errors.Join(errs...)
}

// LoadManifest decodes a manifest file. JSON and YAML go through yaml.v3,
// .toml files through BurntSushi/toml.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &m); err != nil {
			return m, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	case ".json", ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return m, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	default:
		return m, fmt.Errorf("unsupported manifest format: %s", path)
	}
	return m, nil
}
