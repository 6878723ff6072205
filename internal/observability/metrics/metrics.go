package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FrontDeskMetrics exposes counters/histograms for the front desk core.
type FrontDeskMetrics struct {
	storeCalls   *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	outcomes     *prometheus.CounterVec
	defaulted    *prometheus.CounterVec
	turns        *prometheus.CounterVec
}

func NewFrontDeskMetrics(reg prometheus.Registerer) *FrontDeskMetrics {
	m := &FrontDeskMetrics{
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "records",
			Name:      "calls_total",
			Help:      "Total record store calls",
		}, []string{"table", "op", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "records",
			Name:      "call_latency_seconds",
			Help:      "Latency of record store calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "core",
			Name:      "operation_total",
			Help:      "Verification, scheduling and symptom outcomes",
		}, []string{"operation", "status"}),
		defaulted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "core",
			Name:      "defaulted_input_total",
			Help:      "Inputs the normalizers could not parse and substituted",
		}, []string{"field"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by handler and result",
		}, []string{"handler", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.storeCalls, m.storeLatency, m.outcomes, m.defaulted, m.turns)
	return m
}

func (m *FrontDeskMetrics) ObserveStoreCall(table, op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeCalls.WithLabelValues(table, op, outcome).Inc()
	m.storeLatency.WithLabelValues(table, op).Observe(elapsed.Seconds())
}

func (m *FrontDeskMetrics) ObserveOutcome(operation, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, status).Inc()
}

func (m *FrontDeskMetrics) ObserveDefaulted(field string) {
	if m == nil {
		return
	}
	m.defaulted.WithLabelValues(field).Inc()
}

func (m *FrontDeskMetrics) ObserveTurn(handler, result string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(handler, result).Inc()
}
