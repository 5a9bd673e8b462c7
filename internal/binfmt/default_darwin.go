//go:build darwin

package binfmt

const defaultFormat = FormatMachO
