// Package metrics provides Prometheus metrics for filepool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all filepool metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Metrics holds all counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TrashOutcomes *prometheus.CounterVec // labels: outcome
	SweepRuns     *prometheus.CounterVec // labels: result
	SweepTrashed  prometheus.Counter
	SweepLiveSet  prometheus.Gauge
	Migrated      *prometheus.CounterVec // labels: result
	Jobs          *prometheus.CounterVec // labels: type, result
}

// New registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TrashOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filepool_trash_outcomes_total",
			Help: "Trash executor outcomes by result",
		}, []string{"outcome"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filepool_sweep_runs_total",
			Help: "Sweep runs by result",
		}, []string{"result"}),
		SweepTrashed: f.NewCounter(prometheus.CounterOpts{
			Name: "filepool_sweep_trashed_total",
			Help: "Files moved to trash by the sweep",
		}),
		SweepLiveSet: f.NewGauge(prometheus.GaugeOpts{
			Name: "filepool_sweep_live_hashes",
			Help: "Size of the combined live hash set in the last sweep",
		}),
		Migrated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filepool_migrated_files_total",
			Help: "Files migrated from the legacy root by result",
		}, []string{"result"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "filepool_jobs_total",
			Help: "Background jobs processed by type and result",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) TrashOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TrashOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepRun(result string, liveSet int, trashed int) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
	m.SweepLiveSet.Set(float64(liveSet))
	m.SweepTrashed.Add(float64(trashed))
}

func (m *Metrics) Migration(result string) {
	if m == nil {
		return
	}
	m.Migrated.WithLabelValues(result).Inc()
}

func (m *Metrics) Job(jobType, result string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(jobType, result).Inc()
}
