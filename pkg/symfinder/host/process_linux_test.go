//go:build linux

package host

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symfinder/internal/testutil"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

func newProcess(t *testing.T) *Process {
	t.Helper()
	p, err := New(testutil.NewTestLogger(t))
	require.NoError(t, err)
	return p
}

func TestOpenMissingModule(t *testing.T) {
	p := newProcess(t)

	h, err := p.Open("libsymfinder-does-not-exist.so")
	assert.Error(t, err)
	assert.Zero(t, h)
}

func TestResolveInMissingModule(t *testing.T) {
	f, err := symfinder.New(newProcess(t))
	require.NoError(t, err)

	addr, err := f.ResolveInModule("libsymfinder-does-not-exist.so", symfinder.NameRequest("alpha", symfinder.DefaultSentinel), 0)
	assert.ErrorIs(t, err, symfinder.ErrNoResult)
	assert.Equal(t, symfinder.KindInvalidHandle, symfinder.KindOf(err))
	assert.Zero(t, addr)
}

func TestSliceHeapMemory(t *testing.T) {
	p := newProcess(t)
	buf := []byte("resident bytes")

	got, err := p.Slice(uintptr(unsafe.Pointer(&buf[0])), uint64(len(buf)))
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	got, err = p.Slice(uintptr(unsafe.Pointer(&buf[0])), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSliceUnmapped(t *testing.T) {
	p := newProcess(t)

	_, err := p.Slice(0, 16)
	assert.ErrorIs(t, err, ErrNotReadable)

	_, err = p.Slice(^uintptr(0)-4, 16)
	assert.ErrorIs(t, err, ErrNotReadable)
}

func TestModuleZeroHandle(t *testing.T) {
	p := newProcess(t)

	_, err := p.Module(0)
	assert.ErrorIs(t, err, ErrUnknownModule)
	assert.ErrorIs(t, p.Close(0), ErrUnknownModule)
}

func TestModuleLibc(t *testing.T) {
	p := newProcess(t)

	h, err := p.Open("libc.so.6")
	if err != nil {
		t.Skipf("libc.so.6 not available: %v", err)
	}
	defer func() { assert.NoError(t, p.Close(h)) }()

	info, err := p.Module(h)
	require.NoError(t, err)
	assert.NotZero(t, info.Base)
	assert.Contains(t, info.Path, "libc")

	magic, err := p.Slice(info.Base, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x7fELF"), magic)
}
