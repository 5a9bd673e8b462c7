package binfmt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/coral-mesh/symfinder/internal/safe"
)

const (
	pageSize  = 4096
	nameChunk = 64
)

// boundedReader refuses reads that do not fit entirely below size.
// The underlying reader is never called for such reads.
type boundedReader struct {
	r    io.ReaderAt
	size uint64
}

func newBoundedReader(r io.ReaderAt, size uint64) *boundedReader {
	return &boundedReader{r: r, size: size}
}

func (b *boundedReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || !safe.Within(uint64(off), uint64(len(p)), b.size) {
		return 0, fmt.Errorf("%w: read of %d bytes at %#x exceeds %#x", ErrOutOfBounds, len(p), off, b.size)
	}
	return b.r.ReadAt(p, off)
}

// readFull reads exactly len(p) bytes at off.
func readFull(r io.ReaderAt, p []byte, off uint64) error {
	o, clamped := safe.Uint64ToInt64(off)
	if clamped {
		return fmt.Errorf("%w: offset %#x", ErrOutOfBounds, off)
	}
	n, err := r.ReadAt(p, o)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short read of %d/%d bytes at %#x", ErrOutOfBounds, n, len(p), off)
	}
	return err
}

// readStruct decodes a fixed-size value at off.
func readStruct(r io.ReaderAt, order binary.ByteOrder, off uint64, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("cannot decode %T", v)
	}
	buf := make([]byte, size)
	if err := readFull(r, buf, off); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), order, v)
}

func readUint32(r io.ReaderAt, order binary.ByteOrder, off uint64) (uint32, error) {
	var buf [4]byte
	if err := readFull(r, buf[:], off); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

func readUint16(r io.ReaderAt, order binary.ByteOrder, off uint64) (uint16, error) {
	var buf [2]byte
	if err := readFull(r, buf[:], off); err != nil {
		return 0, err
	}
	return order.Uint16(buf[:]), nil
}

// readCString reads a NUL-terminated string starting at off. The string and its
// terminator must end at or before limit.
func readCString(r io.ReaderAt, off, limit uint64) (string, error) {
	if off >= limit {
		return "", fmt.Errorf("%w: string at %#x beyond table end %#x", ErrOutOfBounds, off, limit)
	}
	var (
		out   []byte
		chunk [nameChunk]byte
	)
	for pos := off; pos < limit; {
		n := min(uint64(nameChunk), limit-pos)
		if err := readFull(r, chunk[:n], pos); err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk[:n]...)
		pos += n
	}
	return "", fmt.Errorf("%w: unterminated string at %#x", ErrOutOfBounds, off)
}

// entryOffset returns base + i*size, failing on overflow.
func entryOffset(base uint64, i int, size uint64) (uint64, error) {
	rel, overflow := safe.MulUint64(uint64(i), size)
	if !overflow {
		var off uint64
		if off, overflow = safe.AddUint64(base, rel); !overflow {
			return off, nil
		}
	}
	return 0, fmt.Errorf("%w: entry %d", ErrOutOfBounds, i)
}

// tableLen converts an entry count to int, refusing counts that cannot be indexed.
func tableLen(n uint64) (int, error) {
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d table entries", ErrOutOfBounds, n)
	}
	return int(n), nil
}
