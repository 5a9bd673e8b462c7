package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultMaxFileSize is the default maximum file size for safe file reads (1MB).
const DefaultMaxFileSize = 1 << 20

// ReadOptions configures the behavior of ReadFile and CheckRegular.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize,
	// a negative value disables the check.
	MaxSize int64
	// AllowSymlinks allows reading through symlinks. Default is false.
	AllowSymlinks bool
}

// CheckRegular validates that path names a regular file within the size limit
// and returns its cleaned form together with the file info.
func CheckRegular(path string, opts *ReadOptions) (string, os.FileInfo, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)

	// Check file info without following symlinks.
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return "", nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return "", nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return "", nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("path %q is not a regular file", path)
	}

	if maxSize > 0 && info.Size() > maxSize {
		return "", nil, fmt.Errorf("file exceeds maximum allowed size of %d bytes", maxSize)
	}

	return cleanPath, info, nil
}

// ReadFile reads a file with security validations.
// It rejects symlinks by default, validates file size, and ensures only regular files are read.
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	cleanPath, _, err := CheckRegular(path, opts)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(cleanPath)
}

// Close closes gracefully a Closer interface, handling and logging the error.
func Close(c io.Closer, logger zerolog.Logger, msg string) {
	if err := c.Close(); err != nil {
		logger.Error().Err(err).Msg(msg)
	}
}
