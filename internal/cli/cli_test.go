package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/symfinder/internal/binfmt"
	"github.com/coral-mesh/symfinder/internal/config"
	"github.com/coral-mesh/symfinder/internal/testutil"
	"github.com/coral-mesh/symfinder/pkg/symfinder"
	"github.com/coral-mesh/symfinder/pkg/symfinder/host"
)

func init() {
	color.NoColor = true
}

// run executes the command tree with args and an isolated config directory.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("SYMFINDER_CONFIG", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func syntheticELF(t *testing.T) string {
	t.Helper()
	return writeFile(t, "libsynthetic.so", testutil.BuildELF(testutil.ELFSpec{
		TextSize: 0x2000,
		Symbols: []testutil.ELFSymbol{
			testutil.Func("alpha", 0x1100),
			testutil.Object("beta", 0x1800),
			testutil.Func("_ZN3foo3barEv", 0x1300),
		},
	}))
}

func TestVersionCmd(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "symfinder version")
	assert.Contains(t, out, "Default target:")
}

func TestInvalidFlagOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "arch", args: []string{"--arch", "arm64", "version"}},
		{name: "container format", args: []string{"--container-format", "wasm", "version"}},
		{name: "log level", args: []string{"--log-level", "loud", "version"}},
		{name: "missing config file", args: []string{"--config", "/nonexistent/config.yaml", "version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSymbolsCmd(t *testing.T) {
	path := syntheticELF(t)

	out, _, err := run(t, "--container-format", "elf", "symbols", path, "-o", "json")
	require.NoError(t, err)

	var rows []symbolRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []symbolRow{
		{Index: 1, Name: "alpha", Offset: "0x1100", Kind: "func"},
		{Index: 2, Name: "beta", Offset: "0x1800", Kind: "object"},
		{Index: 3, Name: "_ZN3foo3barEv", Offset: "0x1300", Kind: "func"},
	}, rows)
}

func TestSymbolsCmdFilters(t *testing.T) {
	path := syntheticELF(t)

	tests := []struct {
		name  string
		args  []string
		names []string
	}{
		{name: "prefix", args: []string{"--filter", "al"}, names: []string{"alpha"}},
		{name: "demangle", args: []string{"--demangle", "--filter", "foo::"}, names: []string{"foo::bar()"}},
		{name: "limit", args: []string{"--limit", "2"}, names: []string{"alpha", "beta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--container-format", "elf", "symbols", path, "-o", "json"}, tt.args...)
			out, _, err := run(t, args...)
			require.NoError(t, err)

			var rows []symbolRow
			require.NoError(t, json.Unmarshal([]byte(out), &rows))
			var names []string
			for _, r := range rows {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestSymbolsCmdTable(t *testing.T) {
	out, _, err := run(t, "--container-format", "elf", "symbols", syntheticELF(t), "--filter", "beta")
	require.NoError(t, err)
	assert.Contains(t, out, "INDEX")
	assert.Contains(t, out, "beta")
	assert.NotContains(t, out, "alpha")
}

func TestSymbolsCmdNoMatches(t *testing.T) {
	out, errOut, err := run(t, "--container-format", "elf", "symbols", syntheticELF(t), "--filter", "zeta")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "No symbols found")
}

func TestSymbolsCmdWrongArch(t *testing.T) {
	_, _, err := run(t, "--container-format", "elf", "--arch", "amd64", "symbols", syntheticELF(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, binfmt.ErrUnsupportedFormat)
}

func TestSymbolsCmdNotRegular(t *testing.T) {
	_, _, err := run(t, "--container-format", "elf", "symbols", t.TempDir())
	assert.Error(t, err)
}

func TestScanCmd(t *testing.T) {
	data := make([]byte, 64)
	copy(data[5:], []byte{0xDE, 0xAD, 0x01, 0xEF})
	copy(data[20:], []byte{0xDE, 0xAD, 0x02, 0xEF})
	path := writeFile(t, "blob.bin", data)

	out, _, err := run(t, "scan", path, "-p", "DE AD ?? EF", "-o", "json")
	require.NoError(t, err)
	var rows []matchRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []matchRow{{Offset: "0x5", Bytes: "DE AD 01 EF"}}, rows)

	out, _, err = run(t, "scan", path, "-p", "DE AD ?? EF", "--all", "-o", "json")
	require.NoError(t, err)
	rows = nil
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []matchRow{
		{Offset: "0x5", Bytes: "DE AD 01 EF"},
		{Offset: "0x14", Bytes: "DE AD 02 EF"},
	}, rows)
}

func TestScanCmdErrors(t *testing.T) {
	path := writeFile(t, "blob.bin", []byte{1, 2, 3, 4})

	_, _, err := run(t, "scan", path, "-p", "DE AD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, _, err = run(t, "scan", path)
	assert.Error(t, err, "--pattern is required")

	_, _, err = run(t, "scan", path, "-p", "ZZ")
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	cfg := config.DefaultConfig()

	req, length, err := buildRequest(cfg, "CreateInterface", "", "")
	require.NoError(t, err)
	assert.Equal(t, symfinder.NameRequest("CreateInterface", '@'), req)
	assert.Zero(t, length)

	req, length, err = buildRequest(cfg, "", "55 ?? 8B", "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x2A, 0x8B}, req)
	assert.Equal(t, 3, length)

	req, length, err = buildRequest(cfg, "", "", `\x55\x2a\x53`)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x2A, 0x53}, req)
	assert.Equal(t, 3, length)

	_, _, err = buildRequest(cfg, "", "40 55", "")
	assert.Error(t, err, "leading sentinel byte reads as a name")

	_, _, err = buildRequest(cfg, "", "55 2A", "")
	assert.Error(t, err, "literal wildcard byte")

	_, _, err = buildRequest(cfg, "", "", "5")
	assert.Error(t, err)

	_, _, err = buildRequest(cfg, "", "", "  ")
	assert.Error(t, err)

	_, _, err = buildRequest(cfg, "", "", "")
	assert.Error(t, err)
}

func TestResolveCmdFlags(t *testing.T) {
	_, _, err := run(t, "resolve", "libfoo.so")
	assert.Error(t, err, "one of --symbol, --pattern or --raw is required")

	_, _, err = run(t, "resolve", "libfoo.so", "--symbol", "a", "--pattern", "55")
	assert.Error(t, err, "flags are mutually exclusive")
}

func TestResolveCmdMissingModule(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process host is only exercised on linux")
	}
	if _, err := host.New(zerolog.Nop()); err != nil {
		t.Skipf("dynamic loader unavailable: %v", err)
	}

	_, _, err := run(t, "resolve", "libdoes-not-exist-symfinder.so", "--symbol", "CreateInterface")
	require.Error(t, err)
	assert.ErrorIs(t, err, symfinder.ErrNoResult)
	assert.Equal(t, symfinder.KindInvalidHandle, symfinder.KindOf(err))
}

func TestConfigCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, _, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, _, err = run(t, "--config", path, "config", "init")
	assert.Error(t, err, "existing file is kept without --force")

	_, _, err = run(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	out, _, err = run(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, _, err = run(t, "--config", path, "--arch", "amd64", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "arch: amd64")
	assert.Contains(t, out, "wildcard: 42")
}

func TestDumpMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lookups_total", Help: "Lookups by kind."}, []string{"kind"})
	reg.MustRegister(counter)
	counter.WithLabelValues("symbol").Add(2)

	var buf bytes.Buffer
	o := &options{metrics: true, registry: reg}
	o.dumpMetrics(&buf)
	assert.Equal(t, `# HELP lookups_total Lookups by kind.
# TYPE lookups_total counter
lookups_total{kind="symbol"} 2
`, buf.String())

	buf.Reset()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "modules_open", Help: "Open modules."})
	reg.MustRegister(gauge)
	gauge.Set(3)
	o.dumpMetrics(&buf)
	assert.Contains(t, buf.String(), "# TYPE modules_open gauge\nmodules_open 3\n")

	buf.Reset()
	o.metrics = false
	o.dumpMetrics(&buf)
	assert.Empty(t, buf.String())
}
