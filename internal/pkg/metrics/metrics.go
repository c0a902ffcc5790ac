package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 构建结果 label
const (
	OutcomeBuilt     = "built"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

type PreviewMetrics struct {
	builds            *prometheus.CounterVec
	buildLatency      *prometheus.HistogramVec
	reconciliations   *prometheus.CounterVec
	debounceCoalesced prometheus.Counter
	balanceRefresh    *prometheus.CounterVec
}

var (
	previewOnce     sync.Once
	previewRegistry *PreviewMetrics
)

func Preview() *PreviewMetrics {
	previewOnce.Do(func() {
		previewRegistry = &PreviewMetrics{
			builds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "send_preview_builds_total",
				Help: "Transaction preview builds by outcome.",
			}, []string{"outcome"}),
			buildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "send_preview_build_seconds",
				Help:    "Latency of transaction preview builds by asset kind.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			}, []string{"kind"}),
			reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "send_preview_reconciliations_total",
				Help: "Balance reconciliations by result.",
			}, []string{"result"}),
			debounceCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "send_preview_debounce_coalesced_total",
				Help: "Input change events absorbed by the debounce window.",
			}),
			balanceRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "send_preview_balance_refresh_total",
				Help: "Full balance refreshes by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			previewRegistry.builds,
			previewRegistry.buildLatency,
			previewRegistry.reconciliations,
			previewRegistry.debounceCoalesced,
			previewRegistry.balanceRefresh,
		)
	})
	return previewRegistry
}

func (m *PreviewMetrics) ObserveBuild(outcome, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	if outcome == OutcomeBuilt {
		m.buildLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

func (m *PreviewMetrics) ObserveReconcile(ok bool) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result(ok)).Inc()
}

func (m *PreviewMetrics) ObserveCoalesced() {
	if m == nil {
		return
	}
	m.debounceCoalesced.Inc()
}

func (m *PreviewMetrics) ObserveBalanceRefresh(ok bool) {
	if m == nil {
		return
	}
	m.balanceRefresh.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
