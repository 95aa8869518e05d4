package registry

import (
	"github.com/VictoriaMetrics/metrics"
)

// Hot-path counters, exposed via metrics.WritePrometheus by the server.
var (
	metricPublishTotal  = metrics.NewCounter(`hexmirror_publish_total`)
	metricResolveLocal  = metrics.NewCounter(`hexmirror_resolve_total{source="local"}`)
	metricResolveCached = metrics.NewCounter(`hexmirror_resolve_total{source="cached"}`)
	metricResolveMiss   = metrics.NewCounter(`hexmirror_resolve_miss_total`)
	metricCacheFills    = metrics.NewCounter(`hexmirror_cache_fill_total`)
	metricRetireTotal   = metrics.NewCounter(`hexmirror_retire_total`)
	metricDownloads     = metrics.NewCounter(`hexmirror_download_total`)
)
