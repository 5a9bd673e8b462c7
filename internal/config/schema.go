package config

// SchemaVersion is the current config file version.
const SchemaVersion = "1"

// Config is the symfinder configuration (~/.symfinder/config.yaml).
type Config struct {
	Version  string         `yaml:"version"`
	Logging  LoggingConfig  `yaml:"logging"`
	Target   TargetConfig   `yaml:"target"`
	Resolver ResolverConfig `yaml:"resolver"`
	Output   OutputConfig   `yaml:"output"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SYMFINDER_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"SYMFINDER_LOG_PRETTY"`
}

// TargetConfig selects the one container configuration modules must match.
type TargetConfig struct {
	// Format is pe, elf or macho. Empty selects the platform's native format.
	Format string `yaml:"format,omitempty" env:"SYMFINDER_FORMAT"`
	// Arch is 386 or amd64. 64-bit modules are rejected unless amd64 is set.
	Arch string `yaml:"arch" env:"SYMFINDER_ARCH"`
}

// ResolverConfig holds the request encoding.
type ResolverConfig struct {
	// Sentinel is the single character that marks a name request.
	Sentinel string `yaml:"sentinel" env:"SYMFINDER_SENTINEL"`
	// Wildcard is the byte value that matches anything in a raw pattern.
	Wildcard int `yaml:"wildcard" env:"SYMFINDER_WILDCARD"`
}

// OutputConfig controls CLI output.
type OutputConfig struct {
	Format  string `yaml:"format" env:"SYMFINDER_OUTPUT"`
	NoColor bool   `yaml:"no_color,omitempty" env:"SYMFINDER_NO_COLOR"`
}
