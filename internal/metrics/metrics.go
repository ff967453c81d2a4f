// Package metrics exposes prometheus collectors for pipeline stages, the
// core reconciler and classification.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	ReconcileRows *prometheus.CounterVec
	AssocRows     *prometheus.CounterVec
	UnknownTags   *prometheus.CounterVec
	Classify      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_stage_runs_total",
			Help: "Stage runs by pipeline, stage and outcome",
		}, []string{"pipeline", "stage", "outcome"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elt_stage_duration_seconds",
			Help:    "Wall time of a stage run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"pipeline", "stage"}),

		ReconcileRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_reconcile_rows_total",
			Help: "Core rows closed, inserted or touched by entity",
		}, []string{"entity", "action"}),

		AssocRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_assoc_rows_total",
			Help: "Association rows inserted or deleted by association",
		}, []string{"assoc", "action"}),

		UnknownTags: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_unknown_tags_total",
			Help: "Upstream tags with no master-table match",
		}, []string{"assoc"}),

		Classify: f.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_classify_total",
			Help: "Special-condition classifications by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveStage records one stage run.
func (m *Metrics) ObserveStage(pipeline, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageRuns.WithLabelValues(pipeline, stage, outcome).Inc()
	m.StageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

// AddReconcile counts core rows for an entity ("product", "option", "policy").
func (m *Metrics) AddReconcile(entity string, closed, inserted, touched int64) {
	if m == nil {
		return
	}
	m.ReconcileRows.WithLabelValues(entity, "closed").Add(float64(closed))
	m.ReconcileRows.WithLabelValues(entity, "inserted").Add(float64(inserted))
	m.ReconcileRows.WithLabelValues(entity, "touched").Add(float64(touched))
}

// AddAssoc counts association rows for one resync.
func (m *Metrics) AddAssoc(assoc string, inserted, deleted int64, unknown int) {
	if m == nil {
		return
	}
	m.AssocRows.WithLabelValues(assoc, "inserted").Add(float64(inserted))
	m.AssocRows.WithLabelValues(assoc, "deleted").Add(float64(deleted))
	if unknown > 0 {
		m.UnknownTags.WithLabelValues(assoc).Add(float64(unknown))
	}
}

// IncClassify counts one classification outcome ("ok", "placeholder",
// "error", "noop").
func (m *Metrics) IncClassify(outcome string) {
	if m == nil {
		return
	}
	m.Classify.WithLabelValues(outcome).Inc()
}
