package symfinder

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts resolver activity. A nil *Metrics records nothing.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	SymbolsScanned prometheus.Counter
	TableLoads     *prometheus.CounterVec
	PatternScans   *prometheus.CounterVec
	Failures       *prometheus.CounterVec
}

// NewMetrics creates the resolver counters and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symfinder_cache_hits_total",
			Help: "Total number of symbol lookups served from a module's cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symfinder_cache_misses_total",
			Help: "Total number of symbol lookups that had to scan the symbol table",
		}),
		SymbolsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symfinder_symbols_scanned_total",
			Help: "Total number of symbol table entries visited by incremental scans",
		}),
		TableLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symfinder_table_loads_total",
			Help: "Total number of times a module's symbol table was opened",
		}, []string{"format"}),
		PatternScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symfinder_pattern_scans_total",
			Help: "Total number of pattern scans by outcome",
		}, []string{"result"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symfinder_failures_total",
			Help: "Total number of failed resolutions by cause",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits,
			m.CacheMisses,
			m.SymbolsScanned,
			m.TableLoads,
			m.PatternScans,
			m.Failures,
		)
	}

	return m
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) scanned(n int) {
	if m != nil && n > 0 {
		m.SymbolsScanned.Add(float64(n))
	}
}

func (m *Metrics) tableLoad(format string) {
	if m != nil {
		m.TableLoads.WithLabelValues(format).Inc()
	}
}

func (m *Metrics) patternScan(found bool) {
	if m == nil {
		return
	}
	result := "not_found"
	if found {
		result = "found"
	}
	m.PatternScans.WithLabelValues(result).Inc()
}

func (m *Metrics) failure(kind Kind) {
	if m != nil {
		m.Failures.WithLabelValues(kind.String()).Inc()
	}
}
