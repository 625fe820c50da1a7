// Package metrics exports run results for node_exporter's textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lance0/HostHoover/internal/backup"
)

const namespace = "hosthoover"

// Run holds the gauges describing a single run. Each Run owns its registry
// so a textfile never carries Go runtime collectors.
type Run struct {
	registry *prometheus.Registry

	Hosts          *prometheus.GaugeVec // labels: status
	Targets        prometheus.Gauge
	Duration       prometheus.Gauge
	ArchiveSuccess prometheus.Gauge
	ArchiveFiles   prometheus.Gauge
	LastRun        prometheus.Gauge
}

func NewRun() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		registry: reg,
		Hosts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hosts",
			Help:      "Hosts of the last run by outcome status.",
		}, []string{"status"}),
		Targets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Usable addresses expanded from the subnet.",
		}),
		Duration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		ArchiveSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_success",
			Help:      "1 if the last run produced an archive, 0 otherwise.",
		}),
		ArchiveFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_files",
			Help:      "Backup files packed into the last archive.",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// Observe copies the summary into the gauges. Every status gets a series,
// including those with a zero count.
func (r *Run) Observe(s backup.Summary) {
	for _, st := range backup.Statuses {
		r.Hosts.WithLabelValues(string(st)).Set(float64(s.Count(st)))
	}
	r.Targets.Set(float64(s.Total))
	r.Duration.Set(s.Duration().Seconds())
	if s.ArchivePath != "" && s.ArchiveErr == nil {
		r.ArchiveSuccess.Set(1)
	} else {
		r.ArchiveSuccess.Set(0)
	}
	r.ArchiveFiles.Set(float64(s.ArchiveFiles))
	if !s.Finished.IsZero() {
		r.LastRun.Set(float64(s.Finished.Unix()))
	}
}

// WriteTextfile atomically replaces path with the current values.
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
