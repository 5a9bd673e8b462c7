package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// formatValue is a --format value restricted to a set of output formats.
type formatValue struct {
	target    *string
	supported []OutputFormat
}

var _ pflag.Value = (*formatValue)(nil)

func (v *formatValue) String() string { return *v.target }

func (v *formatValue) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if err := ValidateFormat(s, v.supported); err != nil {
		return err
	}
	*v.target = s
	return nil
}

func (v *formatValue) Type() string { return "format" }

// AddFormatFlag adds a standard --format/-o flag to a command.
// Unsupported values are rejected while flags are parsed.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	*formatVar = string(defaultFormat)
	cmd.Flags().VarP(&formatValue{target: formatVar, supported: supportedFormats}, "format", "o", description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}
