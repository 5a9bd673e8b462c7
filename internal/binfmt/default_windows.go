//go:build windows

package binfmt

const defaultFormat = FormatPE
