package config

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/symfinder/internal/binfmt"
	"github.com/coral-mesh/symfinder/internal/logging"
)

// OutputFormats lists the accepted output formats.
var OutputFormats = []string{"table", "json", "csv"}

// Validate checks every field and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if cfg.Version != "" && cfg.Version != SchemaVersion {
		errs = append(errs, fmt.Errorf("unsupported config version %q (expected %q)", cfg.Version, SchemaVersion))
	}

	if cfg.Logging.Level != "" && !logging.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if cfg.Target.Format != "" {
		if _, err := binfmt.ParseFormat(cfg.Target.Format); err != nil {
			errs = append(errs, fmt.Errorf("target.format: %w", err))
		}
	}
	if cfg.Target.Arch != "" {
		if _, err := binfmt.ParseArch(cfg.Target.Arch); err != nil {
			errs = append(errs, fmt.Errorf("target.arch: %w", err))
		}
	}

	if len(cfg.Resolver.Sentinel) != 1 {
		errs = append(errs, fmt.Errorf("resolver.sentinel: must be a single byte, got %q", cfg.Resolver.Sentinel))
	}
	if cfg.Resolver.Wildcard < 0 || cfg.Resolver.Wildcard > 0xff {
		errs = append(errs, fmt.Errorf("resolver.wildcard: %d is not a byte value", cfg.Resolver.Wildcard))
	}

	if !validOutput(cfg.Output.Format) {
		errs = append(errs, fmt.Errorf("output.format: must be one of %v, got %q", OutputFormats, cfg.Output.Format))
	}

	return errors.Join(errs...)
}

func validOutput(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}
