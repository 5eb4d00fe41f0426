// Package metrics exposes pipeline counters and timings to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-docparser/pkg/schema"
)

const namespace = "docparser"

type Metrics struct {
	registry      *prometheus.Registry
	jobs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	documents     prometheus.Counter
	pages         prometheus.Counter
	releases      *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by outcome and the stage they ended in.",
		}, []string{"outcome", "stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600, 1800},
		}, []string{"stage", "outcome"}),
		documents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents converted by successful jobs.",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "PDF pages converted by successful jobs, where the page count was known.",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_releases_total",
			Help:      "Workspace teardowns by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		m.jobs, m.stageDuration, m.documents, m.pages, m.releases, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Lifecycle records how long a stage took.
func (m *Metrics) Lifecycle(ev schema.JobLifecycleEvent) {
	if ev.Stage == schema.StageCompleted || ev.Stage == schema.StageFailed {
		return
	}
	outcome := "ok"
	if ev.Error != "" {
		outcome = "error"
	}
	seconds := float64(ev.ProcessingEnd-ev.ProcessingStart) / 1000
	m.stageDuration.WithLabelValues(string(ev.Stage), outcome).Observe(seconds)
}

func (m *Metrics) Done(d schema.JobDone) {
	if d.Error != "" {
		m.jobs.WithLabelValues("failed", string(d.Stage)).Inc()
		return
	}
	m.jobs.WithLabelValues("succeeded", string(schema.StageCompleted)).Inc()
	m.documents.Add(float64(d.TotalProcessed))
	m.pages.Add(float64(d.TotalPages))
}

// WorkspaceReleased matches the pipeline release hook.
func (m *Metrics) WorkspaceReleased(_ string, err error) {
	if err != nil {
		m.releases.WithLabelValues("error").Inc()
		return
	}
	m.releases.WithLabelValues("ok").Inc()
}

// Track marks a job as running until the returned func is called.
func (m *Metrics) Track() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}
