package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type poolMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	available  *prometheus.GaugeVec
	borrowed   *prometheus.GaugeVec
	rewards    *prometheus.GaugeVec
	requests   *prometheus.CounterVec
	httpErrors *prometheus.CounterVec
	throttles  *prometheus.CounterVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *poolMetrics
)

// PoolMetrics returns the lazily-initialised registry recording order book
// activity and the HTTP surface in front of it.
func PoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &poolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ratebook",
				Subsystem: "pools",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ratebook",
				Subsystem: "pools",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ratebook",
				Subsystem: "pools",
				Name:      "available_deposits",
				Help:      "Normalized deposits available for borrowing, in whole tokens.",
			}, []string{"pool"}),
			borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ratebook",
				Subsystem: "pools",
				Name:      "borrowed_amount",
				Help:      "Normalized amount currently borrowed, in whole tokens.",
			}, []string{"pool"}),
			rewards: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ratebook",
				Subsystem: "pools",
				Name:      "rewards_reserve",
				Help:      "Liquidity rewards reserve left to distribute, vault scaled.",
			}, []string{"pool"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ratebook",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ratebook",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ratebook",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter or quota.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.latency,
			poolRegistry.available,
			poolRegistry.borrowed,
			poolRegistry.rewards,
			poolRegistry.requests,
			poolRegistry.httpErrors,
			poolRegistry.throttles,
		)
	})
	return poolRegistry
}

// ObserveOperation records the outcome and duration of an engine call.
func (m *poolMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPoolGauges publishes the wad amounts of a pool as whole tokens.
func (m *poolMetrics) SetPoolGauges(pool string, available, borrowed, rewardsReserve *big.Int) {
	if m == nil {
		return
	}
	m.available.WithLabelValues(pool).Set(wadToFloat(available))
	m.borrowed.WithLabelValues(pool).Set(wadToFloat(borrowed))
	m.rewards.WithLabelValues(pool).Set(wadToFloat(rewardsReserve))
}

// ObserveRequest records an HTTP response. status is the code finally written.
func (m *poolMetrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.httpErrors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
}

// RecordThrottle counts a rejected request. Reasons are stable strings such as
// "rate_limit" or "quota_exceeded".
func (m *poolMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

var wadFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

func wadToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(v), wadFloat).Float64()
	return out
}
