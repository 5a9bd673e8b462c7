package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/symfinder/internal/cli/helpers"
	"github.com/coral-mesh/symfinder/internal/errors"
)

type moduleRow struct {
	Path string `header:"PATH" json:"path"`
	Base string `header:"BASE" json:"base"`
	Size string `header:"SIZE" json:"size"`
	End  string `header:"END" json:"end"`
}

func newLocateCmd(o *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "locate <module>",
		Short: "Show the memory region symfinder scans for a module",
		Long: `Load a module, validate its header against the configured target and print
the region used for signature scans:

  pe     SizeOfImage from the optional header
  elf    the first PT_LOAD segment mapped read+execute, rounded up to a page
  macho  the sum of all segment sizes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = o.outputFormat(cmd, format)
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}

			f, proc, err := o.newFinder()
			if err != nil {
				return err
			}

			h, err := proc.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open module: %w", err)
			}
			defer errors.DeferRelease(o.logger, func() error { return proc.Close(h) }, "Failed to release module")

			info, err := proc.Module(h)
			if err != nil {
				return err
			}
			region, err := f.Locate(h)
			if err != nil {
				return fmt.Errorf("failed to locate %s: %w", args[0], err)
			}

			return formatter.Format([]moduleRow{{
				Path: info.Path,
				Base: helpers.Address(region.Base),
				Size: helpers.Address(region.Size),
				End:  helpers.Address(region.End()),
			}}, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	return cmd
}
