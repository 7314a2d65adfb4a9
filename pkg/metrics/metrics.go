// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "z_canon"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// 校验指标
	ValidationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canon",
			Name:      "validations_total",
			Help:      "Total number of proposed facts validated",
		},
		[]string{"outcome"}, // outcome: accepted/violation/blocked
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canon",
			Name:      "violations_total",
			Help:      "Total number of canon violations detected",
		},
		[]string{"severity", "lock_level"},
	)

	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "canon",
			Name:      "commits_total",
			Help:      "Total number of fact commit attempts",
		},
		[]string{"status"}, // status: committed/blocked/error
	)

	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the canon log",
		},
		[]string{"subject_type", "origin"},
	)

	// 修订传播指标
	RevisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "applied_total",
			Help:      "Total number of revision apply attempts",
		},
		[]string{"kind", "status"}, // status: applied/replayed/rejected
	)

	ImpactNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "impact_nodes",
			Help:      "Number of nodes visited by impact analysis",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	ImpactDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "revision",
			Name:      "impact_duration_seconds",
			Help:      "Impact analysis duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// 生成上下文指标
	ContextCompileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "compile_duration_seconds",
			Help:      "Generation context compile duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)

	ContextCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "cache_total",
			Help:      "Generation context cache lookups",
		},
		[]string{"result"}, // result: hit/miss/error/bypass
	)

	// 队列指标
	RedisStreamProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_processed_total",
			Help:      "Total number of Redis stream messages processed",
		},
		[]string{"stream", "status"},
	)

	RedisStreamPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_published_total",
			Help:      "Total number of Redis stream messages published",
		},
		[]string{"stream", "status"},
	)

	RedisStreamDLQLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_dlq_length",
			Help:      "Current length of the dead letter stream",
		},
		[]string{"stream"},
	)
)
