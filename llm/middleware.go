package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit returns middleware that waits on a token bucket before each call.
// One limiter is shared by every provider behind the client.
func RateLimit(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, newError(KindAborted, req.Provider, "rate limiter wait failed", err)
		}
		return next(ctx, req)
	}
}

// Logging returns middleware that logs every reasoning call.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Int("tools", len(req.ToolDefs)),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("model call failed", append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
			return nil, err
		}
		logger.Debug("model call completed", append(fields,
			zap.Int("tool_calls", len(resp.ToolCalls())),
			zap.String("finish_reason", resp.FinishReason.Reason),
			zap.Int("output_tokens", resp.Usage.OutputTokens),
		)...)
		return resp, nil
	}
}

// Tracing returns middleware that wraps each reasoning call in a span.
func Tracing(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		ctx, span := tracer.Start(ctx, "llm.complete",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("llm.provider", req.Provider),
				attribute.String("llm.model", req.Model),
				attribute.Int("llm.tools", len(req.ToolDefs)),
			),
		)
		defer span.End()

		resp, err := next(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetAttributes(
			attribute.Int("llm.tool_calls", len(resp.ToolCalls())),
			attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		)
		return resp, nil
	}
}

// Recover returns middleware that converts a panicking provider into a
// non-retryable internal error.
func Recover() Middleware {
	return func(ctx context.Context, req Request, next Handler) (resp *Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp = nil
				err = newError(KindInternal, req.Provider, fmt.Sprintf("provider panicked: %v", r), nil)
			}
		}()
		return next(ctx, req)
	}
}
