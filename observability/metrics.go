package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lendcore"

// LendingMetrics collects market level activity.
type LendingMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	liquidations   *prometheus.CounterVec
	accrued        *prometheus.CounterVec
	oracleFailures *prometheus.CounterVec
	exchangeRate   *prometheus.GaugeVec
}

// HTTPMetrics collects API request activity.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// KeeperMetrics collects scheduled job activity.
type KeeperMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// Lending returns the lazily-initialised market metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Market operations segmented by market, operation and outcome.",
			}, []string{"market", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"market", "operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "liquidated_accounts_total",
				Help:      "Accounts liquidated segmented by market and mode.",
			}, []string{"market", "mode"}),
			accrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "market",
				Name:      "accrued_interest_total",
				Help:      "Interest added to outstanding debt, in base units of the borrowed asset.",
			}, []string{"market"}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Oracle reads that fell back to the cached exchange rate.",
			}, []string{"market"}),
			exchangeRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "exchange_rate",
				Help:      "Last cached exchange rate divided by 1e18.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.liquidations,
			lendingRegistry.accrued,
			lendingRegistry.oracleFailures,
			lendingRegistry.exchangeRate,
		)
	})
	return lendingRegistry
}

// ObserveOperation records an operation outcome. The outcome label is the
// error's sentinel text when err is one of the supplied sentinels, "error"
// for anything else and "ok" on success.
func (m *LendingMetrics) ObserveOperation(market, operation string, err error, elapsed time.Duration, sentinels ...error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		for _, sentinel := range sentinels {
			if errors.Is(err, sentinel) {
				outcome = sentinel.Error()
				break
			}
		}
	}
	m.operations.WithLabelValues(market, operation, outcome).Inc()
	m.latency.WithLabelValues(market, operation).Observe(elapsed.Seconds())
}

// RecordLiquidations counts liquidated accounts.
func (m *LendingMetrics) RecordLiquidations(market, mode string, accounts int) {
	if m == nil || accounts <= 0 {
		return
	}
	m.liquidations.WithLabelValues(market, mode).Add(float64(accounts))
}

// RecordAccrual adds accrued interest. Amounts beyond float precision are
// approximated.
func (m *LendingMetrics) RecordAccrual(market string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.accrued.WithLabelValues(market).Add(amount)
}

// RecordOracleFailure counts a fallback to the cached rate.
func (m *LendingMetrics) RecordOracleFailure(market string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(market).Inc()
}

// SetExchangeRate publishes the cached rate.
func (m *LendingMetrics) SetExchangeRate(market string, rate float64) {
	if m == nil {
		return
	}
	m.exchangeRate.WithLabelValues(market).Set(rate)
}

// HTTP returns the lazily-initialised API metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a served request.
func (m *HTTPMetrics) Observe(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordThrottle counts a rate limited request.
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// Keeper returns the lazily-initialised scheduled job metrics.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "runs_total",
				Help:      "Keeper job runs segmented by job and outcome.",
			}, []string{"job", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "run_duration_seconds",
				Help:      "Keeper job duration.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job"}),
		}
		prometheus.MustRegister(keeperRegistry.runs, keeperRegistry.duration)
	})
	return keeperRegistry
}

// ObserveRun records one job execution.
func (m *KeeperMetrics) ObserveRun(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}
