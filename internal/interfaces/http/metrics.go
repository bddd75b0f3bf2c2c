package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for the framework
type MetricsRegistry struct {
	// Step duration metrics
	StepDuration *prometheus.HistogramVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Evaluation cycle metrics
	Signals      *prometheus.CounterVec
	GateFailures *prometheus.CounterVec
	CycleErrors  *prometheus.CounterVec
	CyclesTotal  prometheus.Counter

	// Regime metrics
	RegimeSwitches *prometheus.CounterVec
	ActiveRegime   prometheus.Gauge
	VIXLevel       prometheus.Gauge

	// Account metrics
	OpenPositions prometheus.Gauge
	BPUsed        prometheus.Gauge
	Equity        prometheus.Gauge
}

// NewMetricsRegistry creates a new metrics registry with all framework metrics
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tomking_step_duration_seconds",
				Help:    "Duration of each evaluation cycle step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_signals_total",
				Help: "Total signals emitted by type and rationale",
			},
			[]string{"type", "rationale"},
		),

		GateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_gate_failures_total",
				Help: "Total entry gate failures by gate name",
			},
			[]string{"gate"},
		),

		CycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_cycle_errors_total",
				Help: "Total evaluation cycle errors by step",
			},
			[]string{"step", "error_type"},
		),

		CyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tomking_cycles_total",
				Help: "Total evaluation cycles completed",
			},
		),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tomking_regime_switches_total",
				Help: "Total number of regime switches by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),

		ActiveRegime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_active_regime",
				Help: "Current VIX regime (0=low, 1=normal, 2=elevated, 3=spike, 4=extreme, -1=unknown)",
			},
		),

		VIXLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_vix_level",
				Help: "Last observed VIX level",
			},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_open_positions",
				Help: "Number of currently open positions",
			},
		),

		BPUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_bp_used_fraction",
				Help: "Fraction of buying power currently deployed",
			},
		),

		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tomking_equity_gbp",
				Help: "Current account equity in GBP",
			},
		),
	}

	// Register all metrics with Prometheus
	prometheus.MustRegister(
		registry.StepDuration,
		registry.CacheHitRatio,
		registry.CacheHits,
		registry.CacheMisses,
		registry.Signals,
		registry.GateFailures,
		registry.CycleErrors,
		registry.CyclesTotal,
		registry.RegimeSwitches,
		registry.ActiveRegime,
		registry.VIXLevel,
		registry.OpenPositions,
		registry.BPUsed,
		registry.Equity,
	)

	return registry
}

// StepTimer tracks execution time for evaluation cycle steps
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing an evaluation cycle step
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Cycle step completed")
}

// RecordCacheHit records a cache hit for the specified cache type
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordSignal counts an emitted signal by type and rationale
func (m *MetricsRegistry) RecordSignal(signalType, rationale string) {
	m.Signals.WithLabelValues(signalType, rationale).Inc()
}

// RecordGateFailure counts a failed entry gate
func (m *MetricsRegistry) RecordGateFailure(gate string) {
	m.GateFailures.WithLabelValues(gate).Inc()
}

// RecordCycleError records an evaluation cycle error
func (m *MetricsRegistry) RecordCycleError(step, errorType string) {
	m.CycleErrors.WithLabelValues(step, errorType).Inc()
	log.Warn().
		Str("step", step).
		Str("error_type", errorType).
		Msg("Cycle error recorded")
}

// RecordCycle counts a completed evaluation cycle
func (m *MetricsRegistry) RecordCycle() {
	m.CyclesTotal.Inc()
}

// RecordRegimeSwitch records a regime transition
func (m *MetricsRegistry) RecordRegimeSwitch(fromRegime, toRegime string) {
	m.RegimeSwitches.WithLabelValues(fromRegime, toRegime).Inc()

	// Update active regime gauge
	regimeValue := regimeToGaugeValue(toRegime)
	m.ActiveRegime.Set(regimeValue)

	log.Info().
		Str("from_regime", fromRegime).
		Str("to_regime", toRegime).
		Float64("gauge_value", regimeValue).
		Msg("Regime switch recorded")
}

// SetActiveRegime updates the current active regime
func (m *MetricsRegistry) SetActiveRegime(regime string) {
	m.ActiveRegime.Set(regimeToGaugeValue(regime))
}

// SetVIX updates the last observed VIX level
func (m *MetricsRegistry) SetVIX(vix float64) {
	m.VIXLevel.Set(vix)
}

// SetAccountGauges updates the open position, buying power, and equity gauges
func (m *MetricsRegistry) SetAccountGauges(openPositions int, bpUsed, equity float64) {
	m.OpenPositions.Set(float64(openPositions))
	m.BPUsed.Set(bpUsed)
	m.Equity.Set(equity)
}

// updateCacheHitRatio calculates and updates the cache hit ratio
func (m *MetricsRegistry) updateCacheHitRatio() {
	hitMetrics := &io_prometheus_client.Metric{}
	missMetrics := &io_prometheus_client.Metric{}

	// Sum all cache hits and misses across cache types
	totalHits := 0.0
	totalMisses := 0.0

	cacheTypes := []string{"vix", "quotes", "snapshot"}

	for _, cacheType := range cacheTypes {
		if hitCounter, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(hitMetrics); err == nil {
				totalHits += hitMetrics.GetCounter().GetValue()
			}
		}

		if missCounter, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(missMetrics); err == nil {
				totalMisses += missMetrics.GetCounter().GetValue()
			}
		}
	}

	// Calculate hit ratio
	total := totalHits + totalMisses
	if total > 0 {
		ratio := totalHits / total
		m.CacheHitRatio.Set(ratio)
	}
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func (m *MetricsRegistry) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// CycleStep names the steps of one evaluation cycle
type CycleStep string

const (
	StepSnapshot CycleStep = "snapshot"
	StepExits    CycleStep = "exits"
	StepEntries  CycleStep = "entries"
	StepJournal  CycleStep = "journal"
	StepPersist  CycleStep = "persist"
)

// CycleResult represents the result of a cycle step
type CycleResult string

const (
	ResultSuccess CycleResult = "success"
	ResultError   CycleResult = "error"
	ResultSkipped CycleResult = "skipped"
)

// Global metrics registry instance
var DefaultMetrics *MetricsRegistry

// InitializeMetrics initializes the global metrics registry
func InitializeMetrics() {
	DefaultMetrics = NewMetricsRegistry()
	log.Info().Msg("Prometheus metrics registry initialized")
}

// regimeToGaugeValue converts regime string to numeric value for gauge
func regimeToGaugeValue(regime string) float64 {
	switch strings.ToLower(regime) {
	case "low":
		return 0.0
	case "normal":
		return 1.0
	case "elevated":
		return 2.0
	case "spike":
		return 3.0
	case "extreme":
		return 4.0
	default:
		return -1.0 // Unknown, fail-closed regime
	}
}
