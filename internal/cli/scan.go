package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/exp/mmap"

	"github.com/coral-mesh/symfinder/internal/cli/helpers"
	"github.com/coral-mesh/symfinder/internal/errors"
	"github.com/coral-mesh/symfinder/internal/pattern"
	"github.com/coral-mesh/symfinder/internal/safe"
)

type matchRow struct {
	Offset string `header:"OFFSET" json:"offset"`
	Bytes  string `header:"BYTES" json:"bytes"`
}

func newScanCmd(o *options) *cobra.Command {
	var (
		format    string
		signature string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Search a file for a byte signature",
		Long: `Search the bytes of a file for a signature and print the file offsets of
matches. Without --all only the lowest offset is printed, which is the match a
resolve would return for the same bytes.

Signatures are hex bytes separated by spaces; ? or ?? matches any byte.`,
		Example: `  symfinder scan libfoo.so --pattern "55 8B EC ?? ?? 53"
  symfinder scan engine.dll -p "E8 ?? ?? ?? ?? 84 C0" --all -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = o.outputFormat(cmd, format)
			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			p, err := pattern.Parse(signature)
			if err != nil {
				return fmt.Errorf("invalid --pattern: %w", err)
			}

			data, err := readMapped(o, args[0])
			if err != nil {
				return err
			}

			var offsets []int
			if all {
				offsets = p.FindAll(data)
			} else if off := p.Find(data); off >= 0 {
				offsets = []int{off}
			}
			o.logger.Debug().Str("pattern", p.String()).Int("size", len(data)).Int("matches", len(offsets)).Msg("Scanned file")

			if len(offsets) == 0 {
				return fmt.Errorf("pattern %s not found in %s", p, args[0])
			}

			rows := make([]matchRow, 0, len(offsets))
			for _, off := range offsets {
				rows = append(rows, matchRow{
					Offset: helpers.Address(off),
					Bytes:  fmt.Sprintf("% X", data[off:off+p.Len()]),
				})
			}
			return formatter.Format(rows, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.AllFormats)
	cmd.Flags().StringVarP(&signature, "pattern", "p", "", `Byte signature, e.g. "55 8B EC ?? ?? 53"`)
	cmd.Flags().BoolVar(&all, "all", false, "Print every match, not only the lowest offset")
	errors.Must(cmd.MarkFlagRequired("pattern"), "mark pattern flag required")

	return cmd
}

// readMapped copies a regular file out of a read-only mapping.
func readMapped(o *options, path string) ([]byte, error) {
	clean, _, err := safe.CheckRegular(path, &safe.ReadOptions{MaxSize: -1, AllowSymlinks: true})
	if err != nil {
		return nil, err
	}
	m, err := mmap.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", clean, err)
	}
	defer safe.Close(m, o.logger, "Failed to unmap file")

	data := make([]byte, m.Len())
	if _, err := m.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", clean, err)
	}
	return data, nil
}
