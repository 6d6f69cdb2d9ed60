// Package metrics records import and export outcomes with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/multiimport/internal/core"
)

const namespace = "multiimport"

// Recorder implements core.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	importsTotal   *prometheus.CounterVec   // By mode and outcome (valid/invalid/error)
	importDuration *prometheus.HistogramVec // By mode
	rowsTotal      *prometheus.CounterVec   // By entity and status
	fileErrors     prometheus.Counter
	exportsTotal   *prometheus.CounterVec // By format
	exportDuration prometheus.Histogram
	rejected       prometheus.Counter
}

var _ core.Recorder = (*Recorder)(nil)

// New creates a Recorder with its own registry. Go runtime and process
// collectors are included.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Total number of import runs",
		}, []string{"mode", "outcome"}),

		importDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Import run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"mode"}),

		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Rows processed by entity and status",
		}, []string{"entity", "status"}), // status: new, update, unchanged, error

		fileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "file_errors_total",
			Help:      "File-level errors such as unreadable or unroutable files",
		}),

		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "runs_total",
			Help:      "Total number of exports",
		}, []string{"format"}),

		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "duration_seconds",
			Help:      "Export duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "limiter_rejections_total",
			Help:      "Imports rejected because every slot was busy",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.importsTotal,
		r.importDuration,
		r.rowsTotal,
		r.fileErrors,
		r.exportsTotal,
		r.exportDuration,
		r.rejected,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WatchLimiter exports the limiter's active slot count as a gauge.
func (r *Recorder) WatchLimiter(l *core.ImportLimiter) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "active",
		Help:      "Imports currently holding a slot",
	}, func() float64 { return float64(l.Active()) }))
}

func (r *Recorder) ImportFinished(mode core.Mode, res *core.MultiImportResult, elapsed time.Duration) {
	outcome := "valid"
	if !res.Valid() {
		outcome = "invalid"
	}
	r.importsTotal.WithLabelValues(mode.String(), outcome).Inc()
	r.importDuration.WithLabelValues(mode.String()).Observe(elapsed.Seconds())

	for _, f := range res.Files {
		ir := f.Result
		r.rowsTotal.WithLabelValues(ir.Key, "new").Add(float64(len(ir.NewRows())))
		r.rowsTotal.WithLabelValues(ir.Key, "update").Add(float64(len(ir.UpdatedRows())))
		r.rowsTotal.WithLabelValues(ir.Key, "unchanged").Add(float64(len(ir.UnchangedRows())))

		failed := 0
		for _, row := range ir.Rows {
			if row.HasErrors() {
				failed++
			}
		}
		r.rowsTotal.WithLabelValues(ir.Key, "error").Add(float64(failed))
	}
	for _, msgs := range res.Errors {
		r.fileErrors.Add(float64(len(msgs)))
	}
}

func (r *Recorder) ImportFailed(mode core.Mode) {
	r.importsTotal.WithLabelValues(mode.String(), "error").Inc()
}

func (r *Recorder) ExportFinished(format string, _ int, elapsed time.Duration) {
	r.exportsTotal.WithLabelValues(format).Inc()
	r.exportDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) LimiterRejected() {
	r.rejected.Inc()
}
