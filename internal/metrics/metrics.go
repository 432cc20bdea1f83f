// SPDX-License-Identifier: MPL-2.0

// Package metrics records build statistics in a Prometheus registry that is
// written to a node-exporter textfile after each run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultError   = "error"
	ResultNoop    = "noop"
	sourceCompile = "compile"
	sourceRemove  = "remove"
)

// Recorder owns the registry of one process. Counters accumulate across the
// runs of a watch session.
type Recorder struct {
	reg      *prometheus.Registry
	runs     *prometheus.CounterVec
	rounds   prometheus.Counter
	compile  *prometheus.HistogramVec
	skipped  prometheus.Counter
	sources  *prometheus.GaugeVec
	duration prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotpatch_runs_total",
				Help: "Number of build runs by result.",
			},
			[]string{"result"},
		),
		rounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpatch_rounds_total",
				Help: "Number of compilation rounds executed.",
			},
		),
		compile: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotpatch_compile_seconds",
				Help:    "Time taken to compile one round.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"strategy"},
		),
		skipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hotpatch_codegen_skipped_total",
				Help: "Number of rounds whose annotation processing was skipped because no injection shape changed.",
			},
		),
		sources: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hotpatch_sources",
				Help: "Number of sources compiled or removed by the last run.",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotpatch_last_run_seconds",
				Help: "Wall time of the last run.",
			},
		),
	}
	r.reg.MustRegister(r.runs, r.rounds, r.compile, r.skipped, r.sources, r.duration)
	return r
}

// ObserveRound records one compiled round.
func (r *Recorder) ObserveRound(strategy string, elapsed time.Duration, generationSkipped bool) {
	r.rounds.Inc()
	r.compile.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if generationSkipped {
		r.skipped.Inc()
	}
}

// SetSources records the size of the incremental diff.
func (r *Recorder) SetSources(compile, remove int) {
	r.sources.WithLabelValues(sourceCompile).Set(float64(compile))
	r.sources.WithLabelValues(sourceRemove).Set(float64(remove))
}

// RunFinished records the result and wall time of a run.
func (r *Recorder) RunFinished(result string, elapsed time.Duration) {
	r.runs.WithLabelValues(result).Inc()
	r.duration.Set(elapsed.Seconds())
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	return nil
}
