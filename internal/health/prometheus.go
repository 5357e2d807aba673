package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes Monitor state as Prometheus metrics at scrape time.
type Collector struct {
	monitor *Monitor

	up          *prometheus.Desc
	healthy     *prometheus.Desc
	results     *prometheus.Desc
	consecutive *prometheus.Desc
	confidence  *prometheus.Desc
}

// NewCollector wraps m. Register it with a prometheus.Registerer.
func NewCollector(m *Monitor) *Collector {
	labels := []string{"engine"}
	return &Collector{
		monitor: m,
		up: prometheus.NewDesc("parlance_engine_up",
			"Whether the engine is initialized and available.", labels, nil),
		healthy: prometheus.NewDesc("parlance_engine_healthy",
			"Whether the engine passes the health check.", labels, nil),
		results: prometheus.NewDesc("parlance_engine_results_total",
			"Recognition outcomes by engine.", []string{"engine", "outcome"}, nil),
		consecutive: prometheus.NewDesc("parlance_engine_consecutive_failures",
			"Failures since the last success.", labels, nil),
		confidence: prometheus.NewDesc("parlance_engine_average_confidence",
			"Running average of recognizer confidence.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.healthy
	ch <- c.results
	ch <- c.consecutive
	ch <- c.confidence
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for id, m := range c.monitor.All() {
		engineID := string(id)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, boolValue(m.IsInitialized && m.IsAvailable), engineID)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolValue(c.monitor.IsHealthy(id)), engineID)
		ch <- prometheus.MustNewConstMetric(c.results, prometheus.CounterValue, float64(m.SuccessCount), engineID, "success")
		ch <- prometheus.MustNewConstMetric(c.results, prometheus.CounterValue, float64(m.FailureCount), engineID, "failure")
		ch <- prometheus.MustNewConstMetric(c.consecutive, prometheus.GaugeValue, float64(m.ConsecutiveFailures), engineID)
		ch <- prometheus.MustNewConstMetric(c.confidence, prometheus.GaugeValue, m.AverageConfidence, engineID)
	}
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
