package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/symfinder/internal/config"
	"github.com/coral-mesh/symfinder/internal/constants"
	"github.com/coral-mesh/symfinder/internal/logging"
	"github.com/coral-mesh/symfinder/internal/safe"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
	"github.com/coral-mesh/symfinder/pkg/symfinder/host"
	"github.com/coral-mesh/symfinder/pkg/version"
)

// allowMissingConfig marks commands that accept a --config path that does not exist yet.
const allowMissingConfig = "allow-missing-config"

// options holds the global flags and everything derived from them before a
// subcommand runs.
type options struct {
	configPath string
	logLevel   string
	arch       string
	format     string
	noColor    bool
	metrics    bool

	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
}

// NewRootCmd builds the symfinder command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "symfinder",
		Short: "Find functions and data inside loaded modules by name or byte signature",
		Long: `symfinder resolves the address of a function or data object inside a shared
library, even when the library does not export it.

Lookups by name read the module's own symbol table (ELF .symtab, PE export
directory or Mach-O LC_SYMTAB). Lookups by signature scan the module's code for
a byte pattern in which wildcard positions match anything.

Only one container format and architecture is accepted at a time. The default
is the platform's native format with 32-bit x86; pass --arch amd64 for 64-bit
modules.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.dumpMetrics(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ~/.symfinder/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	flags.StringVar(&opts.arch, "arch", "", "Module architecture (386, amd64)")
	flags.StringVar(&opts.format, "container-format", "", "Container format (pe, elf, macho)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print resolver counters to stderr when done")

	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newLocateCmd(opts))
	cmd.AddCommand(newSymbolsCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("symfinder version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
			cmd.Printf("Default target: %s\n", symfinder.DefaultTarget())
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// load reads the config file, applies flag overrides and builds the logger.
func (o *options) load(cmd *cobra.Command) error {
	loader := config.NewLoader()

	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" && cmd.Annotations[allowMissingConfig] == "" {
		if _, _, err := safe.CheckRegular(o.configPath, &safe.ReadOptions{MaxSize: constants.MaxConfigSize, AllowSymlinks: true}); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}
	if o.configPath != "" {
		cfg, err = loader.LoadFile(o.configPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("arch") {
		cfg.Target.Arch = o.arch
	}
	if flags.Changed("container-format") {
		cfg.Target.Format = o.format
	}
	if o.noColor {
		cfg.Output.NoColor = true
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Output.NoColor {
		color.NoColor = true
	}

	o.cfg = cfg
	o.registry = prometheus.NewRegistry()
	o.logger = logging.NewWithComponent(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	}, "cli")

	o.logger.Debug().
		Str("target", cfg.Target.Format+"/"+cfg.Target.Arch).
		Str("config", o.configPath).
		Msg("Configuration loaded")
	return nil
}

// newFinder binds the process host and a Finder configured from o.
func (o *options) newFinder() (*symfinder.Finder, *host.Process, error) {
	proc, err := host.New(o.logger)
	if err != nil {
		return nil, nil, err
	}

	resolverOpts, err := o.cfg.ResolverOptions()
	if err != nil {
		return nil, nil, err
	}
	resolverOpts = append(resolverOpts,
		symfinder.WithLogger(o.logger),
		symfinder.WithMetrics(symfinder.NewMetrics(o.registry)),
	)

	f, err := symfinder.New(proc, resolverOpts...)
	if err != nil {
		return nil, nil, err
	}
	return f, proc, nil
}

// outputFormat returns the --format flag when set, the configured format otherwise.
func (o *options) outputFormat(cmd *cobra.Command, flagValue string) string {
	if cmd.Flags().Changed("format") {
		return flagValue
	}
	return o.cfg.Output.Format
}

// dumpMetrics writes the resolver counters in the Prometheus text format.
func (o *options) dumpMetrics(w io.Writer) {
	if !o.metrics || o.registry == nil {
		return
	}
	families, err := o.registry.Gather()
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			o.logger.Warn().Err(err).Str("metric", mf.GetName()).Msg("Failed to write metric")
			return
		}
	}
}
