// Package metrics は同期実行と外部 API 呼び出しの Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
)

const namespace = "directory_sync"

// Collector は同期実行のメトリクスを保持します。専用の Registry に登録されます。
type Collector struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastSuccess     prometheus.Gauge
	entitiesTotal   *prometheus.CounterVec
	sourceRecords   prometheus.Gauge
	targetRecords   prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New は Collector を生成し、Go ランタイムとプロセスのメトリクスと合わせて登録します。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of reconciliation runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of completed reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
		entitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Entities processed by outcome.",
		}, []string{"outcome"}),
		sourceRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_records",
			Help:      "Records read from the source directory in the last run.",
		}),
		targetRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_records",
			Help:      "Records in the target store after the last run.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outgoing API requests by method and status code.",
		}, []string{"method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of outgoing API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.runsTotal,
		c.runDuration,
		c.lastSuccess,
		c.entitiesTotal,
		c.sourceRecords,
		c.targetRecords,
		c.requestsTotal,
		c.requestDuration,
	)
	return c
}

// Registry は登録先の Registry を返します。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用の HTTP ハンドラを返します。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRun は reconcile.Observer を実装します。
func (c *Collector) ObserveRun(summary *reconcile.Summary, err error) {
	if err != nil || summary == nil {
		c.runsTotal.WithLabelValues("failed").Inc()
		return
	}

	c.runsTotal.WithLabelValues("succeeded").Inc()
	c.runDuration.Observe(summary.Duration().Seconds())
	c.lastSuccess.Set(float64(summary.FinishedAt.Unix()))
	c.sourceRecords.Set(float64(summary.SourceCount))
	if summary.TargetCount >= 0 {
		c.targetRecords.Set(float64(summary.TargetCount))
	}

	counters := summary.Counters
	for outcome, n := range map[string]int{
		"created":             counters.Created,
		"updated":             counters.Updated,
		"unchanged":           counters.Unchanged,
		"skipped":             counters.Skipped,
		"manager_linked":      counters.ManagerLinksUpdated,
		"manager_unresolved":  counters.ManagerUnresolved,
		"manager_link_failed": counters.ManagerLinkFailures,
		"lookup_failed":       counters.LookupFailures,
		"ambiguous":           counters.Ambiguous,
	} {
		c.entitiesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveRequest は外部 API 呼び出し 1 回分を記録します。status が 0 の場合は通信エラーです。
func (c *Collector) ObserveRequest(method string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.requestsTotal.WithLabelValues(method, code).Inc()
	c.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
