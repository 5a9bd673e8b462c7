package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "explicit format", mutate: func(c *Config) { c.Target.Format = "Mach-O" }},
		{name: "version", mutate: func(c *Config) { c.Version = "2" }, wantErr: "version"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, wantErr: "logging.level"},
		{name: "format", mutate: func(c *Config) { c.Target.Format = "wasm" }, wantErr: "target.format"},
		{name: "arch", mutate: func(c *Config) { c.Target.Arch = "arm64" }, wantErr: "target.arch"},
		{name: "empty sentinel", mutate: func(c *Config) { c.Resolver.Sentinel = "" }, wantErr: "resolver.sentinel"},
		{name: "negative wildcard", mutate: func(c *Config) { c.Resolver.Wildcard = -1 }, wantErr: "resolver.wildcard"},
		{name: "output", mutate: func(c *Config) { c.Output.Format = "yaml" }, wantErr: "output.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.Arch = "arm64"
	cfg.Output.Format = "yaml"

	err := Validate(cfg)
	assert.ErrorContains(t, err, "target.arch")
	assert.ErrorContains(t, err, "output.format")
	assert.Error(t, Validate(nil))
}
