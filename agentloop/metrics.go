package agentloop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the loop. A nil *Metrics is valid
// and records nothing.
//
// Metrics:
//   - reasonloop_runs_total{status,reason} - completed runs by outcome
//   - reasonloop_run_duration_seconds - wall-clock time per run
//   - reasonloop_iterations - iterations used per run
//   - reasonloop_tool_calls_total{tool,outcome} - tool invocations
//   - reasonloop_repeats_total - repeated actions detected
//   - reasonloop_provider_switches_total{from,to} - fallback switches
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	Iterations       prometheus.Histogram
	ToolCallsTotal   *prometheus.CounterVec
	RepeatsTotal     prometheus.Counter
	ProviderSwitches *prometheus.CounterVec
}

// NewMetrics registers the loop collectors with reg. Pass a fresh
// prometheus.Registry per Controller in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasonloop_runs_total",
				Help: "Total number of loop runs by final status and termination reason",
			},
			[]string{"status", "reason"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reasonloop_run_duration_seconds",
				Help:    "Wall-clock duration of loop runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
		),
		Iterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reasonloop_iterations",
				Help:    "Reasoning iterations used per run",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
		),
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasonloop_tool_calls_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"}, // "ok", "error", "refused"
		),
		RepeatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reasonloop_repeats_total",
				Help: "Total number of repeated actions detected",
			},
		),
		ProviderSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasonloop_provider_switches_total",
				Help: "Total number of fallback provider switches",
			},
			[]string{"from", "to"},
		),
	}
}

func (m *Metrics) observeRun(status Status, reason string, d time.Duration, iterations int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(status), reason).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.Iterations.Observe(float64(iterations))
}

func (m *Metrics) observeTool(name, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) observeRepeat() {
	if m == nil {
		return
	}
	m.RepeatsTotal.Inc()
}

func (m *Metrics) observeSwitch(from, to string) {
	if m == nil {
		return
	}
	m.ProviderSwitches.WithLabelValues(from, to).Inc()
}
