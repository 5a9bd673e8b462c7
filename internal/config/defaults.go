package config

import (
	"github.com/coral-mesh/symfinder/internal/constants"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

// DefaultConfig returns a config with the resolver defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: SchemaVersion,
		Logging: LoggingConfig{
			Level:  constants.DefaultLogLevel,
			Pretty: true,
		},
		Target: TargetConfig{
			Arch: symfinder.Arch386.String(),
		},
		Resolver: ResolverConfig{
			Sentinel: string(rune(symfinder.DefaultSentinel)),
			Wildcard: symfinder.DefaultWildcard,
		},
		Output: OutputConfig{
			Format: constants.DefaultOutputFormat,
		},
	}
}
