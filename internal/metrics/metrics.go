package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's prometheus instruments. A nil *Metrics is a
// valid no-op receiver so library users without a registry pay nothing.
type Metrics struct {
	RunsTotal        prometheus.Counter
	RunErrors        prometheus.Counter
	StepDuration     *prometheus.HistogramVec
	EventsIngested   prometheus.Counter
	SignalsEmitted   prometheus.Counter
	FalseCatalysts   prometheus.Counter
	ThemesDetected   prometheus.Counter
	Opportunities    prometheus.Counter
	StateTransitions *prometheus.CounterVec
}

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_runs_total",
			Help: "Completed intelligence pipeline runs",
		}),
		RunErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_run_errors_total",
			Help: "Pipeline runs aborted with an error",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_step_duration_seconds",
			Help:    "Duration of each pipeline step",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"step"}),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_events_ingested_total",
			Help: "Events returned by the ingestion gateway",
		}),
		SignalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_signals_total",
			Help: "Catalyst signals produced",
		}),
		FalseCatalysts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_false_catalysts_total",
			Help: "Signals flagged as false catalysts",
		}),
		ThemesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_themes_total",
			Help: "Theme clusters detected",
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_opportunities_total",
			Help: "Opportunities ranked",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_state_transitions_total",
			Help: "Lifecycle transitions by target state",
		}, []string{"to"}),
	}
	reg.MustRegister(m.RunsTotal, m.RunErrors, m.StepDuration, m.EventsIngested,
		m.SignalsEmitted, m.FalseCatalysts, m.ThemesDetected, m.Opportunities,
		m.StateTransitions)
	return m
}

// ObserveStep records one step duration.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// AddCounts records the per-run collection sizes.
func (m *Metrics) AddCounts(events, signals, falseCatalysts, themes, opportunities int) {
	if m == nil {
		return
	}
	m.EventsIngested.Add(float64(events))
	m.SignalsEmitted.Add(float64(signals))
	m.FalseCatalysts.Add(float64(falseCatalysts))
	m.ThemesDetected.Add(float64(themes))
	m.Opportunities.Add(float64(opportunities))
}

// RunFinished marks a run complete or failed.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RunErrors.Inc()
		return
	}
	m.RunsTotal.Inc()
}

// StateTransition records one lifecycle transition.
func (m *Metrics) StateTransition(to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(to).Inc()
}
