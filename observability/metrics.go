package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics is the prometheus surface of the lending daemon.
type LendingMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	socialized   *prometheus.CounterVec
	capRejects   *prometheus.CounterVec
	utilization  prometheus.Gauge
	totals       *prometheus.GaugeVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-registered lending metrics.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Market errors segmented by route and numeric code.",
			}, []string{"route", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendmarket",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Handler latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Requests rejected by the client rate limiter.",
			}, []string{"reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Applied liquidations segmented by kind (partial, full).",
			}, []string{"kind"}),
			socialized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "market",
				Name:      "socialized_loss_total",
				Help:      "Bad debt absorbed, in base units, segmented by source.",
			}, []string{"source"}),
			capRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendmarket",
				Subsystem: "market",
				Name:      "cap_rejections_total",
				Help:      "Outflows rejected by a withdrawal cap.",
			}, []string{"resource"}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendmarket",
				Subsystem: "market",
				Name:      "utilization_ratio",
				Help:      "TotalDebt / TotalAssets after the last call.",
			}),
			totals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendmarket",
				Subsystem: "market",
				Name:      "totals",
				Help:      "Market aggregates in base units.",
			}, []string{"field"}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.throttles,
			lendingRegistry.liquidations,
			lendingRegistry.socialized,
			lendingRegistry.capRejects,
			lendingRegistry.utilization,
			lendingRegistry.totals,
		)
	})
	return lendingRegistry
}

func label(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

// Observe records a finished request. code is the market error code, zero on
// success or for non-market failures.
func (m *LendingMetrics) Observe(route string, status int, code uint32, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route, "unknown")
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if code != 0 {
		m.errors.WithLabelValues(route, strconv.FormatUint(uint64(code), 10)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request.
func (m *LendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(reason, "unspecified")).Inc()
}

// RecordLiquidation counts one applied liquidation.
func (m *LendingMetrics) RecordLiquidation(full bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if full {
		kind = "full"
	}
	m.liquidations.WithLabelValues(kind).Inc()
}

// RecordSocialized adds a bad-debt write-off split by source.
func (m *LendingMetrics) RecordSocialized(fromReserve, fromStakers, diluted *big.Int) {
	if m == nil {
		return
	}
	m.socialized.WithLabelValues("reserve").Add(toFloat(fromReserve))
	m.socialized.WithLabelValues("stakers").Add(toFloat(fromStakers))
	m.socialized.WithLabelValues("dilution").Add(toFloat(diluted))
}

// RecordCapRejection counts an outflow refused by a bucket.
func (m *LendingMetrics) RecordCapRejection(resource string) {
	if m == nil {
		return
	}
	m.capRejects.WithLabelValues(label(resource, "unknown")).Inc()
}

// SetMarket publishes the market aggregates.
func (m *LendingMetrics) SetMarket(totalAssets, totalDebt, reserve, cash *big.Int) {
	if m == nil {
		return
	}
	assets := toFloat(totalAssets)
	debt := toFloat(totalDebt)
	if assets > 0 {
		m.utilization.Set(debt / assets)
	} else {
		m.utilization.Set(0)
	}
	m.totals.WithLabelValues("total_assets").Set(assets)
	m.totals.WithLabelValues("total_debt").Set(debt)
	m.totals.WithLabelValues("reserve").Set(toFloat(reserve))
	m.totals.WithLabelValues("cash").Set(toFloat(cash))
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
