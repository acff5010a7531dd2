package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TimelineRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_timeline_requests_total", Help: "时间线请求数"},
		[]string{"scope", "result"},
	)
	TimelineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tl_timeline_latency_ms", Help: "时间线生成耗时", Buckets: prometheus.ExponentialBuckets(2, 2, 12)},
		[]string{"scope", "cache"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_cache_lookups_total", Help: "页面缓存查询结果"},
		[]string{"result"}, // hit / miss / error
	)
	SourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_source_failures_total", Help: "数据源失败次数"},
		[]string{"source", "reason"}, // reason: timeout / error
	)
	Invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tl_invalidations_total", Help: "缓存失效次数"},
		[]string{"kind"}, // post / membership / viewer
	)
)

func Init() {
	prometheus.MustRegister(TimelineRequests)
	prometheus.MustRegister(TimelineLatency)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(SourceFailures)
	prometheus.MustRegister(Invalidations)
}
