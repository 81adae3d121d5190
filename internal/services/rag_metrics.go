package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RAGMetrics 处理与查询的Prometheus指标
type RAGMetrics struct {
	processingRuns     *prometheus.CounterVec
	documentsProcessed *prometheus.CounterVec
	processingDuration prometheus.Histogram
	queryTotal         *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
}

// NewRAGMetrics 注册指标
func NewRAGMetrics() *RAGMetrics {
	return &RAGMetrics{
		processingRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_processing_runs_total",
				Help: "Total number of knowledge processing runs",
			},
			[]string{"status"},
		),
		documentsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_documents_processed_total",
				Help: "Total number of documents processed",
			},
			[]string{"result"},
		),
		processingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rag_processing_duration_seconds",
				Help:    "Duration of knowledge processing runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		queryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_queries_total",
				Help: "Total number of RAG queries by routing type",
			},
			[]string{"query_type"},
		),
		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_query_duration_seconds",
				Help:    "Duration of RAG queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query_type"},
		),
	}
}

// RecordProcessingRun 记录一次处理运行
func (m *RAGMetrics) RecordProcessingRun(status string, processed, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processingRuns.WithLabelValues(status).Inc()
	m.documentsProcessed.WithLabelValues("processed").Add(float64(processed))
	m.documentsProcessed.WithLabelValues("failed").Add(float64(failed))
	m.processingDuration.Observe(elapsed.Seconds())
}

// RecordQuery 记录一次查询
func (m *RAGMetrics) RecordQuery(queryType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queryTotal.WithLabelValues(queryType).Inc()
	m.queryDuration.WithLabelValues(queryType).Observe(elapsed.Seconds())
}

// Handler 返回Prometheus指标的HTTP处理器
func (m *RAGMetrics) Handler() http.Handler {
	return promhttp.Handler()
}
