package cli

import (
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/symfinder/internal/binfmt"
	"github.com/coral-mesh/symfinder/internal/cli/helpers"
	"github.com/coral-mesh/symfinder/internal/errors"
	"github.com/coral-mesh/symfinder/internal/safe"
)

type symbolRow struct {
	Index  int    `header:"INDEX" json:"index"`
	Name   string `header:"NAME" json:"name"`
	Offset string `header:"OFFSET" json:"offset"`
	Kind   string `header:"KIND" json:"kind"`
}

func newSymbolsCmd(o *options) *cobra.Command {
	var (
		format    string
		prefix    string
		demangled bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "symbols <file>",
		Short: "List the symbols symfinder can resolve in a module file",
		Long: `Read the symbol table of a module file on disk and list the functions and
data objects a name lookup can find, in table order. Offsets are relative to
the module base.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = o.outputFormat(cmd, format)
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			target, err := o.cfg.ResolverTarget()
			if err != nil {
				return err
			}

			path, _, err := safe.CheckRegular(args[0], &safe.ReadOptions{MaxSize: -1, AllowSymlinks: true})
			if err != nil {
				return err
			}
			tbl, err := binfmt.OpenTable(target, path)
			if err != nil {
				return fmt.Errorf("failed to read %s as %s: %w", path, target, err)
			}
			defer errors.DeferClose(o.logger, tbl, "Failed to close symbol table")

			rows, err := listSymbols(tbl, prefix, demangled, limit)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			o.logger.Debug().Int("entries", tbl.Len()).Int("listed", len(rows)).Msg("Listed symbols")

			if len(rows) == 0 {
				cmd.PrintErrln("No symbols found")
				return nil
			}
			return formatter.Format(rows, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	cmd.Flags().StringVar(&prefix, "filter", "", "Only list symbols whose name starts with this prefix")
	cmd.Flags().BoolVar(&demangled, "demangle", false, "Demangle C++ and Rust names")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many symbols (0 lists all)")

	return cmd
}

// listSymbols collects the retained entries of tbl. The filter matches the raw
// name or, with demangling, the demangled one.
func listSymbols(tbl binfmt.Table, prefix string, demangled bool, limit int) ([]symbolRow, error) {
	var rows []symbolRow
	for i := 0; i < tbl.Len(); i++ {
		sym, ok, err := tbl.Entry(i)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if !ok {
			continue
		}

		name := sym.Name
		if demangled {
			name = demangle.Filter(name)
		}
		if prefix != "" && !strings.HasPrefix(sym.Name, prefix) && !strings.HasPrefix(name, prefix) {
			continue
		}

		rows = append(rows, symbolRow{
			Index:  i,
			Name:   name,
			Offset: helpers.Address(sym.Offset),
			Kind:   sym.Kind.String(),
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}
