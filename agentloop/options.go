package agentloop

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records Prometheus metrics for every run.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvents streams loop events to sink.
func WithEvents(sink EventSink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.events = sink
		}
	}
}

// WithSynthesizer rewords final answers before they are returned.
func WithSynthesizer(s ResponseSynthesizer) Option {
	return func(c *Controller) { c.synthesizer = s }
}

// WithPriorContextSupplier loads cross-turn memory for runs that carry a
// session ID but no explicit PriorContext.
func WithPriorContextSupplier(s PriorContextSupplier) Option {
	return func(c *Controller) { c.priorSupplier = s }
}

// WithInstructionSource sets where base instructions come from.
func WithInstructionSource(s InstructionSource) Option {
	return func(c *Controller) { c.instructions = s }
}

// WithPromptBuilder replaces the DefaultPromptBuilder.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(c *Controller) {
		if b != nil {
			c.prompt = b
		}
	}
}

// WithSelectionStrategy replaces the config-driven PolicyStrategy.
func WithSelectionStrategy(s SelectionStrategy) Option {
	return func(c *Controller) { c.strategy = s }
}

// WithTracer sets the OpenTelemetry tracer for run, iteration and tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock replaces time.Now. The execution budget and all timestamps use it.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}
