package symfinder

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/symfinder/internal/binfmt"
)

// Target pins the container format and architecture a Finder accepts.
type Target = binfmt.Target

// Format identifies a container format.
type Format = binfmt.Format

// Arch identifies an architecture.
type Arch = binfmt.Arch

// Supported container formats and architectures.
const (
	FormatPE    = binfmt.FormatPE
	FormatELF   = binfmt.FormatELF
	FormatMachO = binfmt.FormatMachO

	Arch386   = binfmt.Arch386
	ArchAMD64 = binfmt.ArchAMD64
)

// DefaultTarget returns the platform's native format with 32-bit x86.
func DefaultTarget() Target {
	return binfmt.DefaultTarget()
}

// ParseTarget parses format and architecture names. Empty strings keep the defaults.
func ParseTarget(format, arch string) (Target, error) {
	t := DefaultTarget()
	if format != "" {
		f, err := binfmt.ParseFormat(format)
		if err != nil {
			return Target{}, err
		}
		t.Format = f
	}
	if arch != "" {
		a, err := binfmt.ParseArch(arch)
		if err != nil {
			return Target{}, err
		}
		t.Arch = a
	}
	return t, nil
}

// Option configures a Finder.
type Option func(*Finder)

// WithTarget sets the container configuration modules must match.
func WithTarget(t Target) Option {
	return func(f *Finder) {
		f.target = t
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Finder) {
		f.logger = logger.With().Str("component", "symfinder").Logger()
	}
}

// WithMetrics records resolver activity in m.
func WithMetrics(m *Metrics) Option {
	return func(f *Finder) {
		f.metrics = m
	}
}

// WithSentinel sets the byte that marks a name request.
func WithSentinel(b byte) Option {
	return func(f *Finder) {
		f.sentinel = b
	}
}

// WithWildcard sets the byte that matches anything in a raw pattern.
func WithWildcard(b byte) Option {
	return func(f *Finder) {
		f.wildcard = b
	}
}
