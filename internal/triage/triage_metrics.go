package triage

import (
	"github.com/linnemanlabs/caseinv/internal/enrich"
	"github.com/linnemanlabs/caseinv/internal/governor"
	"github.com/linnemanlabs/caseinv/internal/rules"
	"github.com/linnemanlabs/caseinv/internal/submit"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the resolution engine.
type Metrics struct {
	FlowsTotal         *prometheus.CounterVec
	FlowDuration       *prometheus.HistogramVec
	RejectionsTotal    *prometheus.CounterVec
	ScansTotal         prometheus.Counter
	ScanDuration       prometheus.Histogram
	AlertsMatched      prometheus.Gauge
	Affordances        *prometheus.GaugeVec
	TransitionsTotal   *prometheus.CounterVec
	PollAttempts       *prometheus.HistogramVec
	PollTimeoutsTotal  *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	EnrichLookupsTotal *prometheus.CounterVec
	EnrichDuration     prometheus.Histogram
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseinv_flows_total",
			Help: "Total resolution flows by action and final status.",
		}, []string{"action", "status"}),
		FlowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseinv_flow_duration_seconds",
			Help:    "Duration of resolution flows in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"action"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseinv_flow_rejections_total",
			Help: "Triggers refused before a flow started, by action and reason.",
		}, []string{"action", "reason"}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseinv_scans_total",
			Help: "Total scans of the case page.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caseinv_scan_duration_seconds",
			Help:    "Duration of case page scans in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}),
		AlertsMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseinv_alerts_matched",
			Help: "Alerts matched against the rule registry in the latest scan.",
		}),
		Affordances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseinv_affordance_shown",
			Help: "Whether each operator affordance is currently offered (1) or not (0).",
		}, []string{"affordance"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseinv_submit_transitions_total",
			Help: "Submission state machine transitions by target state.",
		}, []string{"to"}),
		PollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseinv_submit_poll_attempts",
			Help:    "Probes needed before a polled affordance appeared or the wait gave up.",
			Buckets: prometheus.LinearBuckets(1, 1, 20), // 1 .. 20
		}, []string{"stage"}),
		PollTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseinv_submit_poll_timeouts_total",
			Help: "Polling loops that exhausted their attempts, by stage.",
		}, []string{"stage"}),
		SubmissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseinv_submission_duration_seconds",
			Help:    "Duration of submission machine runs by terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"state"}),
		EnrichLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseinv_enrich_lookups_total",
			Help: "Address enrichment lookups by outcome.",
		}, []string{"outcome"}),
		EnrichDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caseinv_enrich_duration_seconds",
			Help:    "Duration of address enrichment lookups in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
	}

	reg.MustRegister(
		m.FlowsTotal,
		m.FlowDuration,
		m.RejectionsTotal,
		m.ScansTotal,
		m.ScanDuration,
		m.AlertsMatched,
		m.Affordances,
		m.TransitionsTotal,
		m.PollAttempts,
		m.PollTimeoutsTotal,
		m.SubmissionDuration,
		m.EnrichLookupsTotal,
		m.EnrichDuration,
	)

	return m
}

// Hooks returns service Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnScan: func(matched int, duration float64) {
			m.ScansTotal.Inc()
			m.ScanDuration.Observe(duration)
			m.AlertsMatched.Set(float64(matched))
		},
		OnDecision: func(d governor.Decision) {
			m.Affordances.WithLabelValues("assign").Set(boolGauge(d.ShowAssign))
			m.Affordances.WithLabelValues("resolutions").Set(boolGauge(d.ShowResolutions))
			m.Affordances.WithLabelValues("actions_enabled").Set(boolGauge(d.ActionsEnabled))
		},
		OnRejected: func(action rules.Action, reason string) {
			m.RejectionsTotal.WithLabelValues(string(action), reason).Inc()
		},
		OnFlow: func(action rules.Action, status Status, duration float64) {
			m.FlowsTotal.WithLabelValues(string(action), string(status)).Inc()
			m.FlowDuration.WithLabelValues(string(action)).Observe(duration)
		},
	}
}

// SubmitHooks returns submission machine hooks that update the corresponding
// metrics.
func (m *Metrics) SubmitHooks() submit.Hooks {
	return submit.Hooks{
		OnTransition: func(_, to submit.State) {
			m.TransitionsTotal.WithLabelValues(string(to)).Inc()
		},
		OnPoll: func(stage submit.State, attempts int, found bool) {
			m.PollAttempts.WithLabelValues(string(stage)).Observe(float64(attempts))
			if !found {
				m.PollTimeoutsTotal.WithLabelValues(string(stage)).Inc()
			}
		},
		OnComplete: func(state submit.State, duration float64) {
			m.SubmissionDuration.WithLabelValues(string(state)).Observe(duration)
		},
	}
}

// EnrichHooks returns enrichment client hooks that update the corresponding
// metrics.
func (m *Metrics) EnrichHooks() enrich.Hooks {
	return enrich.Hooks{
		OnLookup: func(outcome enrich.Outcome, duration float64) {
			m.EnrichLookupsTotal.WithLabelValues(string(outcome)).Inc()
			m.EnrichDuration.Observe(duration)
		},
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
