package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	Busy() bool
	SummarySet() bool
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats PipelineStats

	busy        *prometheus.Desc
	summarySet  *prometheus.Desc
	subscribers *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0).
func NewCollector(stats PipelineStats) *Collector {
	return &Collector{
		stats: stats,
		busy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "busy"),
			"1 while a pipeline run is in flight.",
			nil, nil,
		),
		summarySet: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "summary_available"),
			"1 when a summary is available for download.",
			nil, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_subscribers_active"),
			"Current number of SSE and WebSocket subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.busy
	ch <- c.summarySet
	ch <- c.subscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var busy, set, subs float64
	if c.stats != nil {
		busy = boolGauge(c.stats.Busy())
		set = boolGauge(c.stats.SummarySet())
		subs = float64(c.stats.SubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, busy)
	ch <- prometheus.MustNewConstMetric(c.summarySet, prometheus.GaugeValue, set)
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, subs)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
