package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/symfinder/internal/cli/helpers"
	"github.com/coral-mesh/symfinder/internal/config"
	"github.com/coral-mesh/symfinder/internal/errors"
	"github.com/coral-mesh/symfinder/internal/pattern"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

func newResolveCmd(o *options) *cobra.Command {
	var (
		symbol     string
		signature  string
		raw        string
		showRegion bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <module>",
		Short: "Resolve a symbol or byte signature inside a module",
		Long: `Load a module into this process with local visibility, resolve the target
and release the module again.

The module is looked up on the loader's search path unless a path is given.`,
		Example: `  symfinder resolve libfoo.so --symbol CreateInterface
  symfinder resolve engine.dll --pattern "55 8B EC ?? ?? 53" --region
  symfinder resolve libfoo.dylib --raw 558bec2a2a53`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := args[0]
			req, length, err := buildRequest(o.cfg, symbol, signature, raw)
			if err != nil {
				return err
			}

			f, proc, err := o.newFinder()
			if err != nil {
				return err
			}
			defer errors.DeferClose(o.logger, f, "Failed to drop symbol caches")

			out := cmd.OutOrStdout()
			if !showRegion {
				addr, err := f.ResolveInModule(module, req, length)
				if err != nil {
					return fmt.Errorf("no result in %s: %w", module, err)
				}
				_, err = fmt.Fprintln(out, helpers.ColorAddress(addr))
				return err
			}

			// The region is computed from the same reference the lookup used.
			h, err := proc.Open(module)
			if err != nil {
				return fmt.Errorf("failed to open module: %w", err)
			}
			defer errors.DeferRelease(o.logger, func() error { return proc.Close(h) }, "Failed to release module")

			addr, err := f.Resolve(h, req, length)
			if err != nil {
				return fmt.Errorf("no result in %s: %w", module, err)
			}

			region, err := f.Locate(h)
			if err != nil {
				return fmt.Errorf("failed to locate %s: %w", module, err)
			}
			_, err = fmt.Fprintf(out, "%s  %s\n%s   %s\n%s     %s\n%s     %s\n",
				helpers.Label("address"), helpers.ColorAddress(addr),
				helpers.Label("offset"), helpers.Address(addr-region.Base),
				helpers.Label("base"), helpers.Address(region.Base),
				helpers.Label("size"), helpers.Address(region.Size),
			)
			return err
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Symbol name to look up")
	cmd.Flags().StringVarP(&signature, "pattern", "p", "", `Byte signature, e.g. "55 8B EC ?? ?? 53"`)
	cmd.Flags().StringVar(&raw, "raw", "", "Raw pattern bytes in hex; the configured wildcard byte matches anything")
	cmd.Flags().BoolVar(&showRegion, "region", false, "Also print the module region and the offset into it")
	cmd.MarkFlagsMutuallyExclusive("symbol", "pattern", "raw")
	cmd.MarkFlagsOneRequired("symbol", "pattern", "raw")

	return cmd
}

// buildRequest encodes exactly one of symbol, signature or raw as a resolver request.
func buildRequest(cfg *config.Config, symbol, signature, raw string) ([]byte, int, error) {
	sentinel := cfg.Resolver.Sentinel[0]

	var data []byte
	switch {
	case symbol != "":
		return symfinder.NameRequest(symbol, sentinel), 0, nil
	case signature != "":
		p, err := pattern.Parse(signature)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid --pattern: %w", err)
		}
		if data, err = p.Raw(byte(cfg.Resolver.Wildcard)); err != nil {
			return nil, 0, fmt.Errorf("invalid --pattern: %w", err)
		}
	case raw != "":
		var err error
		if data, err = helpers.DecodeHex(raw); err != nil {
			return nil, 0, fmt.Errorf("invalid --raw: %w", err)
		}
	default:
		return nil, 0, fmt.Errorf("one of --symbol, --pattern or --raw is required")
	}

	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty pattern")
	}
	if data[0] == sentinel {
		return nil, 0, fmt.Errorf("pattern starts with the name sentinel %q and would be read as a symbol name", sentinel)
	}
	return data, len(data), nil
}
