// Package telemetry exposes Prometheus metrics for the compiler and
// verifier, following the teacher's internal/escrow/metrics.go promauto
// pattern. Carried as an ambient concern regardless of spec.md's silence
// on observability (SPEC_FULL §4.5, §7.2).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the pipeline updates, each
// registered against its own Registry rather than the package-global
// prometheus.DefaultRegisterer. A process that builds more than one
// Metrics (every pipeline.Context, including one per test) would
// otherwise make promauto panic on "duplicate metrics collector
// registration attempted" the second time around.
type Metrics struct {
	Registry *prometheus.Registry

	CompileTotal   *prometheus.CounterVec
	VerifyTotal    *prometheus.CounterVec
	CompileSeconds prometheus.Histogram
	VerifySeconds  prometheus.Histogram

	LatentResyncTotal   prometheus.Counter
	ResidualResyncTotal prometheus.Counter
	LatentMissingTotal  prometheus.Counter
	ResidualMissingTotal prometheus.Counter
}

// NewMetrics creates a dedicated Registry and registers the pipeline's
// Prometheus instruments against it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CompileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashfreeze_compile_total",
				Help: "Total number of capsule compilations attempted",
			},
			[]string{"outcome"}, // outcome: ok, error
		),
		VerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashfreeze_verify_total",
				Help: "Total number of shard verifications attempted",
			},
			[]string{"outcome"},
		),
		CompileSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashfreeze_compile_duration_seconds",
			Help:    "Wall-clock duration of a capsule compilation",
			Buckets: prometheus.DefBuckets,
		}),
		VerifySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flashfreeze_verify_duration_seconds",
			Help:    "Wall-clock duration of a shard verification",
			Buckets: prometheus.DefBuckets,
		}),
		LatentResyncTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flashfreeze_latent_resync_total",
			Help: "Total number of resync events in cam_latents.bin across all runs",
		}),
		ResidualResyncTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flashfreeze_residual_resync_total",
			Help: "Total number of resync events in cam_residuals.bin across all runs",
		}),
		LatentMissingTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flashfreeze_latent_missing_total",
			Help: "Total number of synthesized missing latent rows across all runs",
		}),
		ResidualMissingTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "flashfreeze_residual_missing_total",
			Help: "Total number of missing residual rows observed inside a safety window",
		}),
	}
}

// RecordCompile records the outcome and duration of a compile run.
func (m *Metrics) RecordCompile(ok bool, seconds float64) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.CompileTotal.WithLabelValues(outcome).Inc()
	m.CompileSeconds.Observe(seconds)
}

// RecordVerify records the outcome and duration of a verify run.
func (m *Metrics) RecordVerify(ok bool, seconds float64) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.VerifyTotal.WithLabelValues(outcome).Inc()
	m.VerifySeconds.Observe(seconds)
}

// RecordJudgeReport folds a judge.Report's counters into this Metrics
// set's running totals.
func (m *Metrics) RecordJudgeReport(latentResync, residualResync, latentMissing, residualMissing int) {
	m.LatentResyncTotal.Add(float64(latentResync))
	m.ResidualResyncTotal.Add(float64(residualResync))
	m.LatentMissingTotal.Add(float64(latentMissing))
	m.ResidualMissingTotal.Add(float64(residualMissing))
}
