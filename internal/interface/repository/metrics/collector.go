package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitecache"

var (
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "requests_total"),
		"Total number of intercepted requests by classification.",
		[]string{"kind"}, nil,
	)
	cacheDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "lookups_total"),
		"Total number of cache lookups by result.",
		[]string{"result"}, nil,
	)
	writesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "writes_total"),
		"Total number of snapshots written to the current generation.",
		nil, nil,
	)
	refreshDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "refresh", "total"),
		"Total number of background refreshes by outcome.",
		[]string{"outcome"}, nil,
	)
	networkFailuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "network", "failures_total"),
		"Total number of transport-level origin failures.",
		nil, nil,
	)
	syntheticDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "synthetic_responses_total"),
		"Total number of synthesized 504 responses.",
		nil, nil,
	)
	generationsDeletedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "generations", "deleted_total"),
		"Total number of stale cache generations deleted.",
		nil, nil,
	)
	activationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "activations_total"),
		"Total number of controller activations.",
		nil, nil,
	)
	activeVersionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "active_version_info"),
		"Version tag of the active cache generation.",
		[]string{"version"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "errors_total"),
		"Total number of internal errors.",
		nil, nil,
	)
)

var _ prometheus.Collector = (*Repository)(nil)

// Describe は prometheus.Collector の実装
func (r *Repository) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- cacheDesc
	ch <- writesDesc
	ch <- refreshDesc
	ch <- networkFailuresDesc
	ch <- syntheticDesc
	ch <- generationsDeletedDesc
	ch <- activationsDesc
	ch <- activeVersionDesc
	ch <- errorsDesc
}

// Collect はカウンタの現在値を送出する
func (r *Repository) Collect(ch chan<- prometheus.Metric) {
	s := r.GetSnapshot()

	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(requestsDesc, s.NavigationRequests, "navigation")
	counter(requestsDesc, s.AssetRequests, "asset")
	counter(requestsDesc, s.UnhandledRequests, "unhandled")
	counter(cacheDesc, s.CacheHits, "hit")
	counter(cacheDesc, s.CacheMisses, "miss")
	counter(writesDesc, s.CacheWrites)
	counter(refreshDesc, s.RefreshesStored, "stored")
	counter(refreshDesc, s.RefreshesSkipped, "skipped")
	counter(networkFailuresDesc, s.NetworkFailures)
	counter(syntheticDesc, s.SyntheticResponses)
	counter(generationsDeletedDesc, s.GenerationsDeleted)
	counter(activationsDesc, s.Activations)
	counter(errorsDesc, s.Errors)

	if s.ActiveVersion != "" {
		ch <- prometheus.MustNewConstMetric(activeVersionDesc, prometheus.GaugeValue, 1, s.ActiveVersion)
	}
}
