package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 搜索链路指标。指标采集失败不影响请求路径。
var (
	SearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "搜索请求总数",
	}, []string{"collection"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knowledge",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "搜索耗时分布",
		Buckets:   prometheus.DefBuckets,
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "查询缓存命中次数",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "查询缓存未命中次数",
	})

	FallbackActivations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "search",
		Name:      "fallback_activations_total",
		Help:      "降级阈值被触发的次数",
	})

	DocumentsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "处理完成的文档总数",
	})

	ChunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "ingest",
		Name:      "chunks_embedded_total",
		Help:      "完成向量化的分块总数",
	})
)
