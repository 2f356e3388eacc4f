package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "savedl"

// Observer exports pipeline outcomes to Prometheus.
type Observer struct {
	gatherer         prometheus.Gatherer
	items            *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	downloadedBytes  prometheus.Counter
}

// NewObserver registers the pipeline metrics with reg. A nil reg selects a
// fresh registry.
func NewObserver(namespace string, reg *prometheus.Registry) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	o := &Observer{
		gatherer: reg,
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Count of pipeline results by outcome (stored, skipped, failed, unsupported).",
		}, []string{"result"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Latency of asset downloads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		downloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Cumulative size of assets written to disk.",
		}),
	}

	collectors := []prometheus.Collector{o.items, o.downloadDuration, o.downloadedBytes}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register pipeline metric: %w", err)
		}
	}

	return o, nil
}

// RecordResult counts one pipeline result.
func (o *Observer) RecordResult(result string) {
	if o == nil {
		return
	}
	o.items.WithLabelValues(result).Inc()
}

// RecordDownload tracks download latency and, on success, the bytes written.
func (o *Observer) RecordDownload(duration time.Duration, bytes int64, err error) {
	if o == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.downloadDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	if err == nil && bytes > 0 {
		o.downloadedBytes.Add(float64(bytes))
	}
}

// Handler serves the observer's metrics in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}
