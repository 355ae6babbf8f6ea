// Package metrics exposes hashing, search and upload counters through
// a Prometheus endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/pkg/hasher"
	"github.com/airdcpp/airdcpp-go/pkg/share"
	"github.com/airdcpp/airdcpp-go/pkg/upload"
)

// Metrics owns the registry and all collectors.
type Metrics struct {
	registry *prometheus.Registry

	filesHashed  prometheus.Counter
	bytesHashed  prometheus.Counter
	hashFailures *prometheus.CounterVec

	refreshes      prometheus.Counter
	sharedFiles    prometheus.Gauge
	sharedBytes    prometheus.Gauge
	searchesTotal  prometheus.Counter
	searchesByTTH  prometheus.Counter
	searchDuration prometheus.Counter

	uploadsStarted   prometheus.Counter
	uploadsCompleted prometheus.Counter
	uploadsFailed    prometheus.Counter
	uploadSpeed      prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airdcpp", Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airdcpp", Name: name, Help: help,
		})
		reg.MustRegister(g)
		return g
	}

	m := &Metrics{
		registry:    reg,
		filesHashed: factory("hasher_files_total", "Files hashed successfully."),
		bytesHashed: factory("hasher_bytes_total", "Bytes hashed successfully."),
		hashFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airdcpp", Name: "hasher_failures_total",
			Help: "Hashing failures by kind.",
		}, []string{"kind"}),
		refreshes:        factory("share_refreshes_total", "Completed refresh task paths."),
		sharedFiles:      gauge("share_files", "Files currently shared."),
		sharedBytes:      gauge("share_bytes", "Bytes currently shared."),
		searchesTotal:    factory("search_queries_total", "Search queries executed."),
		searchesByTTH:    factory("search_tth_total", "Exact TTH lookups."),
		searchDuration:   factory("search_seconds_total", "Cumulative search time."),
		uploadsStarted:   factory("uploads_started_total", "Uploads granted."),
		uploadsCompleted: factory("uploads_completed_total", "Uploads completed."),
		uploadsFailed:    factory("uploads_failed_total", "Uploads failed."),
		uploadSpeed:      gauge("upload_speed_bytes", "Aggregate upload rate."),
	}
	reg.MustRegister(m.hashFailures)
	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint; it blocks.
func (m *Metrics) Serve(bind string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logger.Info("metrics endpoint listening", "bind", bind)
	return http.ListenAndServe(bind, mux)
}

// HookHasher subscribes to hashing pool events.
func (m *Metrics) HookHasher(pool *hasher.Pool) {
	pool.Subscribe(func(ev hasher.Event) {
		switch e := ev.(type) {
		case hasher.FileHashed:
			m.filesHashed.Inc()
			m.bytesHashed.Add(float64(e.Info.Size))
		case hasher.FileFailed:
			m.hashFailures.WithLabelValues(e.Kind.String()).Inc()
		}
	})
}

// HookShare subscribes to share engine events and tracks totals.
func (m *Metrics) HookShare(engine *share.Engine) {
	engine.Subscribe(func(ev share.Event) {
		if _, ok := ev.(share.RefreshCompleted); ok {
			m.refreshes.Inc()
			files, bytes := engine.Totals()
			m.sharedFiles.Set(float64(files))
			m.sharedBytes.Set(float64(bytes))
		}
	})
}

// ObserveSearches folds the engine's counters in periodically; call it
// from the application minute timer.
func (m *Metrics) ObserveSearches(prev, cur share.SearchStats) {
	m.searchesTotal.Add(float64(cur.Total - prev.Total))
	m.searchesByTTH.Add(float64(cur.TTHDirect - prev.TTHDirect))
	m.searchDuration.Add((cur.TimeSpent - prev.TimeSpent).Seconds())
}

// HookUploads subscribes to dispatcher events.
func (m *Metrics) HookUploads(d *upload.Dispatcher) {
	d.Subscribe(func(ev upload.Event) {
		switch e := ev.(type) {
		case upload.UploadStarted:
			m.uploadsStarted.Inc()
		case upload.UploadCompleted:
			m.uploadsCompleted.Inc()
		case upload.UploadFailed:
			m.uploadsFailed.Inc()
		case upload.Tick:
			var total int64
			for _, u := range e.Uploads {
				total += u.Speed()
			}
			m.uploadSpeed.Set(float64(total))
		}
	})
}
