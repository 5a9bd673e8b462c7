// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/symfinder/internal/constants"
	"github.com/coral-mesh/symfinder/internal/safe"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

// Loader handles loading and saving the config file.
type Loader struct {
	homeDir string
}

// NewLoader creates a new config loader.
// The base directory is resolved in this order:
//  1. SYMFINDER_CONFIG environment variable.
//  2. User home directory (~/).
//  3. /tmp/symfinder-fallback (containers without a home dir).
func NewLoader() *Loader {
	if baseDir := os.Getenv(constants.ConfigDirEnv); baseDir != "" {
		return &Loader{homeDir: baseDir}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		return &Loader{homeDir: homeDir}
	}

	return &Loader{homeDir: constants.DefaultFallbackDir}
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.homeDir, constants.DefaultDir, constants.ConfigFile)
}

// Load loads the config file, falling back to defaults when it does not exist.
// Environment variable overrides are applied last.
func (l *Loader) Load() (*Config, error) {
	return l.LoadFile(l.ConfigPath())
}

// LoadFile loads the config at path. Fields missing from the file keep their defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: constants.MaxConfigSize, AllowSymlinks: true})
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := LoadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// Save writes config to the config path.
func (l *Loader) Save(config *Config) error {
	return l.SaveFile(l.ConfigPath(), config)
}

// SaveFile writes config to path, creating the parent directory.
func (l *Loader) SaveFile(path string, config *Config) error {
	if err := Validate(config); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ResolverTarget returns the configured container target.
func (c *Config) ResolverTarget() (symfinder.Target, error) {
	return symfinder.ParseTarget(c.Target.Format, c.Target.Arch)
}

// ResolverOptions turns the resolver settings into Finder options.
func (c *Config) ResolverOptions() ([]symfinder.Option, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	target, err := c.ResolverTarget()
	if err != nil {
		return nil, err
	}
	return []symfinder.Option{
		symfinder.WithTarget(target),
		symfinder.WithSentinel(c.Resolver.Sentinel[0]),
		symfinder.WithWildcard(byte(c.Resolver.Wildcard)),
	}, nil
}
