package agentloop

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome is the tagged result of one tool invocation.
type Outcome struct {
	OK    bool
	Value any
	Err   string
}

// Success returns an OK outcome carrying v.
func Success(v any) Outcome { return Outcome{OK: true, Value: v} }

// Failure returns a failed outcome carrying msg.
func Failure(msg string) Outcome { return Outcome{Err: msg} }

// ToolInvoker executes requested functions against a ToolRegistry. Errors and
// panics raised by a capability are captured in the Outcome and never escape.
type ToolInvoker struct {
	registry *ToolRegistry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewToolInvoker creates an invoker over registry.
func NewToolInvoker(registry *ToolRegistry, logger *zap.Logger, tracer trace.Tracer) *ToolInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolInvoker{registry: registry, logger: logger, tracer: tracer}
}

// Invoke runs name with params in domain context dc.
func (i *ToolInvoker) Invoke(ctx context.Context, name string, params map[string]any, dc DomainContext) (out Outcome) {
	if i.tracer != nil {
		var span trace.Span
		ctx, span = i.tracer.Start(ctx, "agentloop.tool",
			trace.WithAttributes(
				attribute.String("tool.name", name),
				attribute.String("domain.id", dc.DomainID),
			),
		)
		defer func() {
			span.SetAttributes(attribute.Bool("tool.success", out.OK))
			if !out.OK {
				span.SetStatus(codes.Error, out.Err)
			}
			span.End()
		}()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Failure(fmt.Sprintf("tool %s panicked: %v", name, r))
		}
		fields := []zap.Field{
			zap.String("tool", name),
			zap.String("run_id", dc.RunID),
			zap.Bool("success", out.OK),
			zap.Duration("duration", time.Since(start)),
		}
		if out.OK {
			i.logger.Debug("tool executed", fields...)
		} else {
			i.logger.Info("tool failed", append(fields, zap.String("error", out.Err))...)
		}
	}()

	tool := i.registry.Get(name)
	if tool == nil || tool.Func == nil {
		return Failure(fmt.Sprintf("unknown function: %s", name))
	}

	value, err := tool.Func(ctx, params, dc)
	if err != nil {
		return Failure(err.Error())
	}
	return Success(value)
}
