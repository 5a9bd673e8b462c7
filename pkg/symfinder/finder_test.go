package symfinder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symfinder/internal/testutil"
)

const (
	elfBase   = 0x40000000
	peBase    = 0x50000000
	machoBase = 0x60000000

	elfModule = "libsynthetic.so"
)

var elf386 = Target{Format: FormatELF, Arch: Arch386}

// signature never occurs in the synthetic headers. Index 2 is the wildcard.
var signature = []byte{0xDE, 0xAD, DefaultWildcard, 0xEF, 0x13, 0x37}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type elfFixture struct {
	host    *fakeHost
	handle  Handle
	path    string
	image   []byte
	finder  *Finder
	metrics *Metrics
}

func newELFFixture(t *testing.T, symbols ...testutil.ELFSymbol) *elfFixture {
	t.Helper()
	if symbols == nil {
		symbols = []testutil.ELFSymbol{
			testutil.Func("alpha", 0x1100),
			testutil.Object("beta", 0x1800),
			testutil.Func("gamma", 0x1300),
		}
	}
	img := testutil.BuildELF(testutil.ELFSpec{TextSize: 0x2000, Symbols: symbols})
	path := writeTemp(t, elfModule, img)

	host := newFakeHost()
	handle := host.add(elfModule, elfBase, path, img)

	metrics := NewMetrics(prometheus.NewRegistry())
	f, err := New(host, WithTarget(elf386), WithMetrics(metrics), WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, err)

	return &elfFixture{host: host, handle: handle, path: path, image: img, finder: f, metrics: metrics}
}

func (fx *elfFixture) loads() float64 {
	return promtest.ToFloat64(fx.metrics.TableLoads.WithLabelValues("elf"))
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(newFakeHost(), WithTarget(Target{Format: FormatELF, Arch: 7}))
	assert.Error(t, err)

	f, err := New(newFakeHost())
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget(), f.Target())
	assert.Equal(t, Arch386, f.Target().Arch)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget(), target)

	target, err = ParseTarget("macho", "amd64")
	require.NoError(t, err)
	assert.Equal(t, Target{Format: FormatMachO, Arch: ArchAMD64}, target)

	_, err = ParseTarget("wasm", "")
	assert.Error(t, err)
	_, err = ParseTarget("", "arm64")
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	fx := newELFFixture(t)

	region, err := fx.finder.Locate(fx.handle)
	require.NoError(t, err)
	assert.Equal(t, Region{Base: elfBase, Size: 0x2000}, region)

	region, err = fx.finder.LocateModule(elfModule)
	require.NoError(t, err)
	assert.Equal(t, Region{Base: elfBase, Size: 0x2000}, region)
	assert.Zero(t, fx.host.refs[fx.handle])
}

func TestLocateReadsHeaderPageOnce(t *testing.T) {
	fx := newELFFixture(t)

	before := fx.host.slices
	_, err := fx.finder.Locate(fx.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.host.slices-before, "header and program headers share the first page")

	_, err = fx.finder.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)
	before = fx.host.slices
	_, err = fx.finder.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.host.slices-before, "a cache hit only revalidates the header")
}

func TestLocateRejectsMismatchedModules(t *testing.T) {
	tests := []struct {
		name   string
		image  []byte
		target Target
	}{
		{
			name: "bad magic",
			image: func() []byte {
				img := testutil.BuildELF(testutil.ELFSpec{TextSize: 0x1000})
				img[0] = 0
				return img
			}(),
			target: elf386,
		},
		{
			name:   "64-bit module with 32-bit target",
			image:  testutil.BuildELF(testutil.ELFSpec{Is64: true, TextSize: 0x1000}),
			target: elf386,
		},
		{
			name:   "ELF module with PE target",
			image:  testutil.BuildELF(testutil.ELFSpec{TextSize: 0x1000}),
			target: Target{Format: FormatPE, Arch: Arch386},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			h := host.add("lib", elfBase, "", tt.image)
			f, err := New(host, WithTarget(tt.target))
			require.NoError(t, err)

			region, err := f.Locate(h)
			assert.ErrorIs(t, err, ErrNoResult)
			assert.Equal(t, KindUnsupportedFormat, KindOf(err))
			assert.Zero(t, region)
		})
	}
}

func TestFindSymbolIncremental(t *testing.T) {
	fx := newELFFixture(t)
	f := fx.finder

	addr, err := f.FindSymbol(fx.handle, "beta")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1800), addr)

	tbl := f.tables[elfBase]
	require.NotNil(t, tbl)
	assert.Contains(t, tbl.names, "alpha")
	assert.Contains(t, tbl.names, "beta")
	assert.NotContains(t, tbl.names, "gamma", "scan stops at the match")
	cursor := tbl.cursor

	addr, err = f.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1100), addr)
	assert.Equal(t, cursor, tbl.cursor)
	assert.Equal(t, 1.0, promtest.ToFloat64(fx.metrics.CacheHits))
	assert.Equal(t, 1.0, fx.loads(), "cache hits open nothing")

	addr, err = f.FindSymbol(fx.handle, "delta")
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Zero(t, addr)
	assert.Contains(t, tbl.names, "gamma")
	assert.Equal(t, 4, tbl.cursor, "null entry plus three symbols")
	assert.True(t, tbl.exhausted())
	assert.Equal(t, 2.0, fx.loads())
	assert.Equal(t, 4.0, promtest.ToFloat64(fx.metrics.SymbolsScanned))

	// A fully cached table is never reopened.
	require.NoError(t, os.Remove(fx.path))

	addr, err = f.FindSymbol(fx.handle, "gamma")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1300), addr)

	_, err = f.FindSymbol(fx.handle, "delta")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, 2.0, fx.loads())
}

func TestFindSymbolRepeated(t *testing.T) {
	fx := newELFFixture(t)

	first, err := fx.finder.FindSymbol(fx.handle, "gamma")
	require.NoError(t, err)
	cursor := fx.finder.tables[elfBase].cursor

	second, err := fx.finder.FindSymbol(fx.handle, "gamma")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, cursor, fx.finder.tables[elfBase].cursor)
	assert.Equal(t, 1.0, fx.loads())
}

func TestFindSymbolFirstOccurrenceWins(t *testing.T) {
	fx := newELFFixture(t,
		testutil.Func("dup", 0x1100),
		testutil.Func("dup", 0x1200),
		testutil.Func("tail", 0x1300),
	)

	addr, err := fx.finder.FindSymbol(fx.handle, "tail")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1300), addr)

	addr, err = fx.finder.FindSymbol(fx.handle, "dup")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1100), addr)
}

func TestFindSymbolMachO(t *testing.T) {
	_, image := testutil.BuildMachO(testutil.MachOSpec{Symbols: []testutil.MachOSymbol{
		{Name: "_alpha", Value: 0x100, Type: 0x0f, Sect: testutil.MachOTextSect},
		{Name: "_beta", Value: testutil.MachODataAddr + 0x10, Type: 0x0f, Sect: testutil.MachODataSect},
	}})
	host := newFakeHost()
	h := host.add("libsynthetic.dylib", machoBase, "", image)

	f, err := New(host, WithTarget(Target{Format: FormatMachO, Arch: Arch386}))
	require.NoError(t, err)

	addr, err := f.FindSymbol(h, "beta")
	require.NoError(t, err)
	assert.Equal(t, uintptr(machoBase+testutil.MachODataAddr+0x10), addr)

	addr, err = f.FindSymbol(h, "alpha")
	require.NoError(t, err)
	assert.Equal(t, uintptr(machoBase+0x100), addr)

	_, err = f.FindSymbol(h, "_alpha")
	assert.Equal(t, KindNotFound, KindOf(err), "names are stored without the leading underscore")
}

func TestFindSymbolPE(t *testing.T) {
	spec := testutil.PESpec{Exports: []testutil.PEExport{
		{Name: "alpha", RVA: testutil.PETextRVA + 0x10},
		{Name: "forwarded", Forward: "other.Thing"},
	}}
	file := testutil.BuildPE(spec)
	path := writeTemp(t, "synthetic.dll", file)

	host := newFakeHost()
	h := host.add("synthetic.dll", peBase, path, testutil.PEImage(spec, file))

	f, err := New(host, WithTarget(Target{Format: FormatPE, Arch: Arch386}))
	require.NoError(t, err)

	addr, err := f.FindSymbol(h, "alpha")
	require.NoError(t, err)
	assert.Equal(t, uintptr(peBase+testutil.PETextRVA+0x10), addr)

	_, err = f.FindSymbol(h, "forwarded")
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestFindSymbolFailures(t *testing.T) {
	stripped := testutil.BuildELF(testutil.ELFSpec{TextSize: 0x1000, OmitSymtab: true})
	plain := testutil.BuildELF(testutil.ELFSpec{TextSize: 0x1000})

	tests := []struct {
		name     string
		setup    func(t *testing.T, host *fakeHost) Handle
		symbol   string
		wantKind Kind
	}{
		{
			name:     "nil handle",
			setup:    func(*testing.T, *fakeHost) Handle { return 0 },
			symbol:   "alpha",
			wantKind: KindInvalidHandle,
		},
		{
			name:     "unknown handle",
			setup:    func(*testing.T, *fakeHost) Handle { return 99 },
			symbol:   "alpha",
			wantKind: KindInvalidHandle,
		},
		{
			name: "empty name",
			setup: func(t *testing.T, host *fakeHost) Handle {
				return host.add("lib", elfBase, writeTemp(t, "lib.so", plain), plain)
			},
			wantKind: KindInvalidRequest,
		},
		{
			name: "missing symbol table",
			setup: func(t *testing.T, host *fakeHost) Handle {
				return host.add("lib", elfBase, writeTemp(t, "lib.so", stripped), stripped)
			},
			symbol:   "alpha",
			wantKind: KindMissingSection,
		},
		{
			name: "no backing file",
			setup: func(_ *testing.T, host *fakeHost) Handle {
				return host.add("lib", elfBase, "", plain)
			},
			symbol:   "alpha",
			wantKind: KindIOFailure,
		},
		{
			name: "backing file vanished",
			setup: func(t *testing.T, host *fakeHost) Handle {
				return host.add("lib", elfBase, filepath.Join(t.TempDir(), "gone.so"), plain)
			},
			symbol:   "alpha",
			wantKind: KindIOFailure,
		},
		{
			name: "backing file of another class",
			setup: func(t *testing.T, host *fakeHost) Handle {
				wide := testutil.BuildELF(testutil.ELFSpec{Is64: true, TextSize: 0x1000})
				return host.add("lib", elfBase, writeTemp(t, "lib64.so", wide), plain)
			},
			symbol:   "alpha",
			wantKind: KindUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			h := tt.setup(t, host)
			metrics := NewMetrics(nil)
			f, err := New(host, WithTarget(elf386), WithMetrics(metrics))
			require.NoError(t, err)

			addr, err := f.FindSymbol(h, tt.symbol)
			assert.ErrorIs(t, err, ErrNoResult)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Zero(t, addr)
			assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Failures.WithLabelValues(tt.wantKind.String())))
		})
	}
}

func TestFindPattern(t *testing.T) {
	fx := newELFFixture(t)
	copy(fx.image[0x1900:], []byte{0xDE, 0xAD, 0x00, 0xEF, 0x13, 0x37})
	copy(fx.image[0x1800:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x13, 0x37})

	addr, err := fx.finder.FindPattern(fx.handle, signature)
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1800), addr, "lowest offset wins")
	assert.Equal(t, 1.0, promtest.ToFloat64(fx.metrics.PatternScans.WithLabelValues("found")))
	assert.Empty(t, fx.finder.tables, "pattern scans never touch symbol tables")
}

func TestFindPatternRegionEdges(t *testing.T) {
	fx := newELFFixture(t)
	end := 0x2000 - len(signature)
	copy(fx.image[end:], []byte{0xDE, 0xAD, 0x42, 0xEF, 0x13, 0x37})

	addr, err := fx.finder.FindPattern(fx.handle, signature)
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+end), addr)

	_, err = fx.finder.FindPattern(fx.handle, []byte{0xDE, 0xAD, 0xC0, 0xDE})
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = fx.finder.FindPattern(fx.handle, make([]byte, 0x2001))
	assert.Equal(t, KindNotFound, KindOf(err), "pattern longer than the region")

	_, err = fx.finder.FindPattern(fx.handle, nil)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestFindPatternCustomWildcard(t *testing.T) {
	fx := newELFFixture(t)
	copy(fx.image[0x1800:], []byte{0xDE, 0xAD, 0x2A, 0xEF})

	f, err := New(fx.host, WithTarget(elf386), WithWildcard(0xCC))
	require.NoError(t, err)

	addr, err := f.FindPattern(fx.handle, []byte{0xDE, 0xAD, 0x2A, 0xEF})
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1800), addr)

	addr, err = f.FindPattern(fx.handle, []byte{0xDE, 0xCC, 0x2A})
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1800), addr)
}

func TestResolveDispatch(t *testing.T) {
	fx := newELFFixture(t)
	copy(fx.image[0x1800:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x13, 0x37})
	f := fx.finder

	t.Run("sentinel selects name lookup", func(t *testing.T) {
		addr, err := f.Resolve(fx.handle, NameRequest("alpha", DefaultSentinel), 0)
		require.NoError(t, err)
		assert.Equal(t, uintptr(elfBase+0x1100), addr)
	})

	t.Run("sentinel wins over a plausible pattern", func(t *testing.T) {
		data := append([]byte{DefaultSentinel}, signature...)
		_, err := f.Resolve(fx.handle, data, len(data))
		assert.ErrorIs(t, err, ErrNoResult)
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.True(t, f.tables[elfBase].exhausted(), "the name path scanned the table")
	})

	t.Run("zero length fails without touching memory", func(t *testing.T) {
		slices := fx.host.slices
		_, err := f.Resolve(fx.handle, signature, 0)
		assert.ErrorIs(t, err, ErrNoResult)
		assert.Equal(t, KindInvalidRequest, KindOf(err))
		assert.Equal(t, slices, fx.host.slices)
	})

	t.Run("length selects pattern scan", func(t *testing.T) {
		addr, err := f.Resolve(fx.handle, signature, len(signature))
		require.NoError(t, err)
		assert.Equal(t, uintptr(elfBase+0x1800), addr)
	})

	t.Run("length limits the pattern", func(t *testing.T) {
		data := append(append([]byte(nil), signature...), 0x99, 0x99)
		addr, err := f.Resolve(fx.handle, data, len(signature))
		require.NoError(t, err)
		assert.Equal(t, uintptr(elfBase+0x1800), addr)
	})

	t.Run("custom sentinel", func(t *testing.T) {
		g, err := New(fx.host, WithTarget(elf386), WithSentinel('#'))
		require.NoError(t, err)
		addr, err := g.Resolve(fx.handle, []byte("#gamma\x00"), 0)
		require.NoError(t, err)
		assert.Equal(t, uintptr(elfBase+0x1300), addr)
	})
}

func TestResolveInModule(t *testing.T) {
	fx := newELFFixture(t)
	f := fx.finder

	addr, err := f.ResolveInModule(elfModule, NameRequest("beta", DefaultSentinel), 0)
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1800), addr)
	assert.Equal(t, 1, fx.host.opens)
	assert.Equal(t, 1, fx.host.closes)

	_, err = f.ResolveInModule(elfModule, NameRequest("delta", DefaultSentinel), 0)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, 2, fx.host.closes, "released even when resolution fails")
	assert.Zero(t, fx.host.refs[fx.handle])

	addr, err = f.FindSymbolInModule(elfModule, "gamma")
	require.NoError(t, err)
	assert.Equal(t, uintptr(elfBase+0x1300), addr)
	assert.Equal(t, 3, fx.host.closes)
}

func TestResolveInModuleMissingModule(t *testing.T) {
	fx := newELFFixture(t)
	f := fx.finder

	addr, err := f.ResolveInModule("libdoesnotexist.so", NameRequest("alpha", DefaultSentinel), 0)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, KindInvalidHandle, KindOf(err))
	assert.Zero(t, addr)
	assert.Empty(t, f.tables)
	assert.Zero(t, fx.host.slices)
	assert.Zero(t, fx.loads())

	_, err = f.FindSymbolInModule("", "alpha")
	assert.Equal(t, KindInvalidHandle, KindOf(err))

	_, err = f.ResolveInModule(elfModule, signature, 0)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.Zero(t, fx.host.opens, "invalid requests never open the module")
}

func TestIndependentFinders(t *testing.T) {
	fx := newELFFixture(t)

	_, err := fx.finder.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)

	other, err := New(fx.host, WithTarget(elf386))
	require.NoError(t, err)
	assert.Empty(t, other.tables)
}

func TestClose(t *testing.T) {
	fx := newELFFixture(t)

	_, err := fx.finder.FindSymbol(fx.handle, "gamma")
	require.NoError(t, err)
	require.NoError(t, fx.finder.Close())
	assert.Empty(t, fx.finder.tables)

	_, err = fx.finder.FindSymbol(fx.handle, "gamma")
	require.NoError(t, err)
	assert.Equal(t, 2.0, fx.loads())
}

func TestFinderLogging(t *testing.T) {
	fx := newELFFixture(t)
	logger, logs := testutil.NewBufferedLogger()
	f, err := New(fx.host, WithTarget(elf386), WithLogger(logger))
	require.NoError(t, err)

	_, err = f.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)
	_, err = f.FindSymbol(fx.handle, "alpha")
	require.NoError(t, err)
	_, err = f.FindSymbol(fx.handle, "delta")
	require.Error(t, err)

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "Loaded symbol table"))
	assert.Contains(t, out, "Cache hit for symbol")
	assert.Contains(t, out, `"kind":"not_found"`)
	assert.Contains(t, out, `"component":"symfinder"`)
}
