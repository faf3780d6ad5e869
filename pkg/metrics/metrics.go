// Package metrics exposes scanner progress as Prometheus collectors.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	BlocksProcessed prometheus.Counter
	RecordsEmitted  *prometheus.CounterVec
	RPCErrors       *prometheus.CounterVec
	CurrentHeight   prometheus.Gauge
	LatestHeight    prometheus.Gauge
}

// New registers the collectors on a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chain_scanner"
	}
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		namespace: namespace,
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks fully processed and checkpointed.",
		}),
		RecordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Records handed to the sinks.",
		}, []string{"granularity"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed JSON-RPC calls.",
		}, []string{"method"}),
		CurrentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_height",
			Help:      "Next block height to fetch.",
		}),
		LatestHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Latest height reported by the endpoint.",
		}),
	}
	m.registry.MustRegister(m.BlocksProcessed, m.RecordsEmitted, m.RPCErrors, m.CurrentHeight, m.LatestHeight)
	return m
}

// NodeHealth is the view of an RPC node read on every scrape.
type NodeHealth interface {
	GetLatency() int64
	GetErrorCount() uint64
	GetTotalErrors() uint64
}

// WatchNode exports the health counters of n. Call it once per registry.
func (m *Metrics) WatchNode(n NodeHealth) {
	if m == nil || n == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "rpc_latency_milliseconds",
			Help:      "Moving average latency of JSON-RPC calls.",
		}, func() float64 { return float64(n.GetLatency()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "rpc_consecutive_errors",
			Help:      "Recent failed calls, decremented on every success.",
		}, func() float64 { return float64(n.GetErrorCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "rpc_node_errors_total",
			Help:      "Failed calls seen by the node, including timeouts.",
		}, func() float64 { return float64(n.GetTotalErrors()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBlock(next uint64) {
	if m == nil {
		return
	}
	m.BlocksProcessed.Inc()
	m.CurrentHeight.Set(float64(next))
}

func (m *Metrics) ObserveRecords(granularity string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsEmitted.WithLabelValues(granularity).Add(float64(n))
}

func (m *Metrics) ObserveRPCError(method string) {
	if m == nil {
		return
	}
	m.RPCErrors.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveLatest(height uint64) {
	if m == nil {
		return
	}
	m.LatestHeight.Set(float64(height))
}
