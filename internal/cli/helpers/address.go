package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	addressColor = color.New(color.FgGreen, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

// Address formats an address or offset the way every command prints it.
func Address[T ~uint64 | ~uintptr | ~int](v T) string {
	return fmt.Sprintf("0x%x", uint64(v))
}

// ColorAddress is Address highlighted for terminals.
func ColorAddress[T ~uint64 | ~uintptr | ~int](v T) string {
	return addressColor.Sprint(Address(v))
}

// Label highlights a field name in key/value output.
func Label(s string) string {
	return labelColor.Sprint(s)
}

// DecodeHex parses a byte string such as "558bec", "55 8b ec" or "\x55\x8b".
func DecodeHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "\t", "", `\x`, "", "0x", "", ",", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, fmt.Errorf("empty byte string")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	return b, nil
}
