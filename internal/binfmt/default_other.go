//go:build !windows && !darwin

package binfmt

const defaultFormat = FormatELF
