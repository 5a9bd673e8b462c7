// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".symfinder"

	// ConfigDirEnv overrides the directory that holds DefaultDir.
	ConfigDirEnv = "SYMFINDER_CONFIG"

	// DefaultFallbackDir is used when no home directory exists.
	DefaultFallbackDir = "/tmp/symfinder-fallback"

	DefaultLogLevel = "info"

	// DefaultOutputFormat is the CLI output format.
	DefaultOutputFormat = "table"

	// MaxConfigSize bounds the config file read.
	MaxConfigSize int64 = 1 << 20
)
