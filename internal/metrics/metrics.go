// Package metrics exports ingest run outcomes as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/model"
)

const namespace = "geo_catalog"

// Metrics holds the ingest gauges and counters. It implements
// ingest.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec // labels: status={complete,failed}
	RecordsRead     *prometheus.CounterVec // labels: system
	RecordsWritten  *prometheus.CounterVec // labels: system
	RecordsRejected *prometheus.CounterVec // labels: system, reason
	Duplicates      *prometheus.CounterVec // labels: system
	SourceStatus    *prometheus.GaugeVec   // labels: system, status; 1 for the latest outcome
	SourceDuration  *prometheus.GaugeVec   // labels: system
	LastRunTime     prometheus.Gauge

	textfile string
}

// New creates the ingest metrics on a dedicated registry. When textfile is
// non-empty every observed run rewrites it for the node exporter textfile
// collector.
func New(textfile string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingest runs by final status.",
		}, []string{"status"}),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_read_total",
			Help:      "Raw records read from source files.",
		}, []string{"system"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_written_total",
			Help:      "Canonical records written to the store.",
		}, []string{"system"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_rejected_total",
			Help:      "Raw records rejected by adapters, by reason.",
		}, []string{"system", "reason"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_duplicates_total",
			Help:      "Accepted records collapsed by in-run deduplication.",
		}, []string{"system"}),
		SourceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_source_status",
			Help:      "1 for the outcome of each source in the latest run, 0 otherwise.",
		}, []string{"system", "status"}),
		SourceDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_source_duration_seconds",
			Help:      "Parse duration of each source in the latest run.",
		}, []string{"system"}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_last_run_timestamp_seconds",
			Help:      "Completion time of the latest ingest run.",
		}),
		textfile: textfile,
	}

	m.Registry.MustRegister(
		m.RunsTotal,
		m.RecordsRead,
		m.RecordsWritten,
		m.RecordsRejected,
		m.Duplicates,
		m.SourceStatus,
		m.SourceDuration,
		m.LastRunTime,
	)
	return m
}

var sourceStatuses = []model.SourceStatus{
	model.SourceIngested, model.SourceSkipped, model.SourceMissing, model.SourceFailed,
}

// ObserveRun records a finished run and, when configured, writes the
// textfile.
func (m *Metrics) ObserveRun(_ context.Context, run *model.IngestRun) error {
	m.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	if run.CompletedAt != nil {
		m.LastRunTime.Set(float64(run.CompletedAt.UnixNano()) / 1e9)
	}

	for _, src := range run.Sources {
		sys := string(src.System)
		m.RecordsRead.WithLabelValues(sys).Add(float64(src.Read))
		m.RecordsWritten.WithLabelValues(sys).Add(float64(src.Written))
		m.Duplicates.WithLabelValues(sys).Add(float64(src.Duplicates))
		for reason, n := range src.Rejections {
			m.RecordsRejected.WithLabelValues(sys, reason).Add(float64(n))
		}
		for _, st := range sourceStatuses {
			v := 0.0
			if st == src.Status {
				v = 1
			}
			m.SourceStatus.WithLabelValues(sys, string(st)).Set(v)
		}
		m.SourceDuration.WithLabelValues(sys).Set(src.Elapsed.Seconds())
	}

	if m.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.Registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", m.textfile)
	}
	zap.L().Debug("metrics textfile written", zap.String("component", "metrics"), zap.String("path", m.textfile))
	return nil
}
