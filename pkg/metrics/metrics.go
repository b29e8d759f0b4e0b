// Package metrics 定义服务的 Prometheus 指标，使用独立的 Registry。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag_chat"

// Metrics 汇总所有指标。方法对 nil 接收者安全，未启用指标时可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	turns              *prometheus.CounterVec
	turnDuration       *prometheus.HistogramVec
	streamDeltas       prometheus.Counter
	retrievedChunks    prometheus.Histogram
	embeddingBatchSize prometheus.Histogram
	documentsProcessed *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// New 创建指标并注册到新的 Registry，同时注册 Go 运行时与进程指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by mode and final state.",
		}, []string{"mode", "state"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of chat turns.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"mode"}),
		streamDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_deltas_total",
			Help:      "Text deltas delivered to streaming clients.",
		}),
		retrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Context chunks retrieved per query.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		embeddingBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_batch_size",
			Help:      "Texts per embedding batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		documentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Document ingestion outcomes.",
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveTurn(mode, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(mode, state).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) AddStreamDeltas(n int) {
	if m == nil {
		return
	}
	m.streamDeltas.Add(float64(n))
}

func (m *Metrics) ObserveRetrieval(chunks int) {
	if m == nil {
		return
	}
	m.retrievedChunks.Observe(float64(chunks))
}

func (m *Metrics) ObserveEmbeddingBatch(size int) {
	if m == nil {
		return
	}
	m.embeddingBatchSize.Observe(float64(size))
}

func (m *Metrics) DocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.documentsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Registry 暴露底层 Registry，测试中用于读取指标。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
