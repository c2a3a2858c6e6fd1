package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

var _ driven.Telemetry = (*Telemetry)(nil)

// Telemetry records domain events as Prometheus metrics.
type Telemetry struct {
	SessionTransitions *prometheus.CounterVec
	Probes             *prometheus.CounterVec
	Relogins           *prometheus.CounterVec
	EditJobs           *prometheus.CounterVec
	EditDuration       *prometheus.HistogramVec
	Dropped            prometheus.Counter
	BreakerState       *prometheus.GaugeVec
}

// NewTelemetry creates and registers domain metrics on the given registry.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions, by from and to state.",
		}, []string{"from", "to"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "probes_total",
			Help:      "Liveness probes, by result and failure label.",
		}, []string{"result", "failure"}),
		Relogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Pinterest login attempts, by result.",
		}, []string{"result"}),
		EditJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "jobs_total",
			Help:      "Edit jobs, by outcome and failed stage.",
		}, []string{"outcome", "stage"}),
		EditDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "job_duration_seconds",
			Help:      "Wall time of edit jobs in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"outcome"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "edit",
			Name:      "progress_dropped_total",
			Help:      "Progress events dropped because the log buffer was full.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
	}

	reg.MustRegister(t.SessionTransitions, t.Probes, t.Relogins, t.EditJobs, t.EditDuration, t.Dropped, t.BreakerState)
	return t
}

func (t *Telemetry) SessionTransition(from, to model.SessionState) {
	t.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (t *Telemetry) ProbeCompleted(result model.ProbeResult) {
	t.Probes.WithLabelValues(resultLabel(result.Valid), string(result.Failure)).Inc()
}

func (t *Telemetry) ReloginCompleted(ok bool) {
	t.Relogins.WithLabelValues(resultLabel(ok)).Inc()
}

func (t *Telemetry) EditCompleted(outcome string, stage model.EditStage, elapsed time.Duration) {
	t.EditJobs.WithLabelValues(outcome, string(stage)).Inc()
	t.EditDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (t *Telemetry) ProgressDropped() {
	t.Dropped.Inc()
}

// BreakerChanged records a circuit breaker's new state.
func (t *Telemetry) BreakerChanged(component string, state gobreaker.State) {
	t.BreakerState.WithLabelValues(component).Set(float64(state))
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
