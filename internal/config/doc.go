// Package config loads the PenPal daemon configuration from a YAML file whose
// path comes from PENPAL_CONFIG. It fills defaults for every section and
// resolves relative paths against the configuration file's directory.
package config
