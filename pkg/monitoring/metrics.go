package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 索引写路径指标
var (
	IndexWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "index",
		Name:      "writes_total",
		Help:      "Index write operations by op and result",
	}, []string{"op", "result"})

	IndexWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediavault",
		Subsystem: "index",
		Name:      "write_duration_seconds",
		Help:      "Index write latency by op",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})

	IndexedCollections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediavault",
		Subsystem: "index",
		Name:      "collections",
		Help:      "Number of collections currently indexed",
	})
)

// 查询路径指标
var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "index",
		Name:      "queries_total",
		Help:      "Read queries by op and result",
	}, []string{"op", "result"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediavault",
		Subsystem: "index",
		Name:      "query_duration_seconds",
		Help:      "Read query latency by op",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})
)

// 重建与校验指标
var (
	RebuildRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "rebuild",
		Name:      "runs_total",
		Help:      "Rebuild runs by mode and result",
	}, []string{"mode", "result"})

	RebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediavault",
		Subsystem: "rebuild",
		Name:      "duration_seconds",
		Help:      "Rebuild run duration by mode",
		Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"mode"})

	RebuildCollectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "rebuild",
		Name:      "collections_total",
		Help:      "Collections touched during rebuilds by action",
	}, []string{"mode", "action"})

	RebuildRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediavault",
		Subsystem: "rebuild",
		Name:      "running",
		Help:      "Whether a rebuild is currently running",
	})

	VerifyAnomalies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mediavault",
		Subsystem: "verify",
		Name:      "anomalies",
		Help:      "Anomalies found by the last verification run, by class",
	}, []string{"class"})
)

// 缓存与事件指标
var (
	ThumbnailOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "thumbnail",
		Name:      "ops_total",
		Help:      "Thumbnail cache operations by op and result",
	}, []string{"op", "result"})

	DashboardRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "dashboard",
		Name:      "refreshes_total",
		Help:      "Dashboard recomputations by trigger and result",
	}, []string{"trigger", "result"})

	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediavault",
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Collection events processed by type and result",
	}, []string{"type", "result"})
)

// ObserveQuery 记录一次查询
func ObserveQuery(op string, start time.Time, err error) {
	QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	QueriesTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveWrite 记录一次索引写
func ObserveWrite(op string, start time.Time, err error) {
	IndexWriteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	IndexWritesTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
