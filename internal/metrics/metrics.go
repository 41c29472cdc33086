package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for pipeline runs and the query API.
type Metrics struct {
	// Source files by kind ("registry", "ledger") and outcome
	// ("loaded", "skipped").
	Files *prometheus.CounterVec

	// Rows by stage and outcome, e.g. classify/kept, consolidate/duplicate,
	// enrich/unmatched.
	Rows *prometheus.CounterVec

	// Runs by outcome ("ok", "failed").
	Runs *prometheus.CounterVec

	RunDuration prometheus.Histogram

	// API requests by route pattern and status code.
	Requests *prometheus.CounterVec
}

// New registers every metric with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Files: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ansetl_source_files_total",
			Help: "Source files processed by kind and outcome",
		}, []string{"kind", "outcome"}),

		Rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ansetl_rows_total",
			Help: "Rows seen by pipeline stage and outcome",
		}, []string{"stage", "outcome"}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ansetl_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"outcome"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ansetl_run_duration_seconds",
			Help:    "Wall time of a full pipeline run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ansetl_api_requests_total",
			Help: "Query API requests by route and status",
		}, []string{"route", "status"}),
	}
}

// IncFile records one processed source file.
func (m *Metrics) IncFile(kind, outcome string) {
	if m != nil {
		m.Files.WithLabelValues(kind, outcome).Inc()
	}
}

// AddRows records n rows for a stage outcome. Zero counts still create the
// series.
func (m *Metrics) AddRows(stage, outcome string, n int) {
	if m != nil {
		m.Rows.WithLabelValues(stage, outcome).Add(float64(n))
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(outcome).Inc()
		m.RunDuration.Observe(d.Seconds())
	}
}

// IncRequest records one API request.
func (m *Metrics) IncRequest(route, status string) {
	if m != nil {
		m.Requests.WithLabelValues(route, status).Inc()
	}
}
