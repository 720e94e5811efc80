package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/martinemde/reasonloop/llm"
)

// Termination reasons reported in LoopResult.TerminationReason.
const (
	ReasonModelComplete   = "model-complete"
	ReasonTimeout         = "timeout"
	ReasonMaxIterations   = "max-iterations"
	ReasonSynthesisFailed = "synthesis-failed"
	ReasonProviderError   = "provider-error"
	ReasonRepeatLimit     = "repeat-limit"
	ReasonCancelled       = "cancelled"
	ReasonInternalError   = "internal-error"
)

const (
	degradedMessage = "Sorry, I'm having trouble reaching the reasoning service right now. Please try again shortly."

	errRelevanceRequired = "relevance justification required before further tool calls"
)

// PriorContextSupplier loads cross-turn memory for a session.
type PriorContextSupplier interface {
	PriorContext(ctx context.Context, sessionID string) (*PriorContext, error)
}

// RunInput is one query for the loop.
type RunInput struct {
	Query   string
	History []llm.Message
	User    Identity
	// DomainID scopes tool data access.
	DomainID string
	// ProviderOverride names the provider to use ahead of role and default
	// selection.
	ProviderOverride string
	// PriorContext, when nil, is loaded from the PriorContextSupplier using
	// SessionID.
	PriorContext *PriorContext
	SessionID    string
}

// LoopResult is returned by every Run, including total failures.
type LoopResult struct {
	RunID             string        `json:"run_id"`
	FinalText         string        `json:"final_text"`
	Scratchpad        *Scratchpad   `json:"scratchpad"`
	Status            Status        `json:"status"`
	IterationsUsed    int           `json:"iterations_used"`
	ExecutionTime     time.Duration `json:"execution_time"`
	TerminationReason string        `json:"termination_reason"`
	ProviderUsed      string        `json:"provider_used"`
	// ProvidersTried lists every provider attempted, in order.
	ProvidersTried   []string  `json:"providers_tried"`
	ProviderSwitches int       `json:"provider_switches"`
	Usage            llm.Usage `json:"usage"`
}

// ExecutionTimeMs returns the execution time in whole milliseconds.
func (r LoopResult) ExecutionTimeMs() int64 {
	return r.ExecutionTime.Milliseconds()
}

// RecentCalls converts the run's actions into entries suitable for the next
// turn's PriorContext.
func (r LoopResult) RecentCalls() []RecentCall {
	if r.Scratchpad == nil {
		return nil
	}
	actions := r.Scratchpad.Actions()
	out := make([]RecentCall, 0, len(actions))
	for _, a := range actions {
		out = append(out, RecentCall{FunctionName: a.FunctionName, Parameters: a.Parameters, At: a.Timestamp})
	}
	return out
}

// Controller drives the reason/act/observe loop. Its configuration is fixed
// at construction, and Run is safe to call concurrently.
type Controller struct {
	cfg           Config
	router        *Router
	strategy      SelectionStrategy
	tools         *ToolRegistry
	invoker       *ToolInvoker
	prompt        PromptBuilder
	instructions  InstructionSource
	priorSupplier PriorContextSupplier
	synthesizer   ResponseSynthesizer
	events        EventSink
	metrics       *Metrics
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewController creates a Controller. Zero config fields take their defaults.
func NewController(cfg Config, client *llm.Client, tools *ToolRegistry, opts ...Option) (*Controller, error) {
	if client == nil {
		return nil, errors.New("agentloop: llm client is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agentloop: invalid config: %w", err)
	}
	if tools == nil {
		tools = NewToolRegistry()
	}

	c := &Controller{
		cfg:    cfg,
		tools:  tools,
		prompt: DefaultPromptBuilder{},
		events: noopSink{},
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/martinemde/reasonloop/agentloop"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.strategy == nil {
		c.strategy = PolicyStrategy{Default: cfg.DefaultProvider, RoleOverrides: cfg.RoleProviderOverrides}
	}
	if len(cfg.EnabledFunctions) > 0 {
		c.tools = tools.Filter(cfg.EnabledFunctions)
		if c.tools.Count() < len(cfg.EnabledFunctions) {
			c.logger.Warn("enabled functions not registered",
				zap.Strings("enabled", cfg.EnabledFunctions),
				zap.Strings("registered", c.tools.Names()),
			)
		}
	}
	c.router = NewRouter(client, c.strategy, cfg.FallbackProvider, cfg.Models)
	c.invoker = NewToolInvoker(c.tools, c.logger, c.tracer)
	return c, nil
}

// Config returns the controller's effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Router exposes provider selection, e.g. for listing availability.
func (c *Controller) Router() *Router { return c.router }

// run holds the state of one Run call shared across provider attempts.
type run struct {
	c            *Controller
	in           RunInput
	id           string
	start        time.Time
	instructions string
	prior        *PriorContext
	dc           DomainContext
	usage        llm.Usage
	logger       *zap.Logger
}

// attempt is the outcome of running the query against one provider.
type attempt struct {
	provider string
	pad      *Scratchpad
	text     string
	reason   string
	err      error
	// early is set when the provider failed before any action was recorded,
	// which makes the whole query eligible for a fallback retry.
	early bool
}

// Run answers one query. It never returns an error and never panics: every
// failure is reported through the returned LoopResult.
func (c *Controller) Run(ctx context.Context, in RunInput) (result LoopResult) {
	r := &run{
		c:     c,
		in:    in,
		id:    uuid.NewString(),
		start: c.now(),
	}
	r.logger = c.logger.With(zap.String("run_id", r.id))

	ctx, span := c.tracer.Start(ctx, "agentloop.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("domain.id", in.DomainID),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("loop panicked", zap.Any("panic", p), zap.Stack("stack"))
			pad := result.Scratchpad
			if pad == nil {
				pad = NewScratchpad(in.Query, nil)
			}
			pad.finish(StatusFailed)
			result = r.result(attempt{pad: pad, text: degradedMessage, reason: ReasonInternalError}, result.ProvidersTried)
		}
		span.SetAttributes(
			attribute.String("run.status", string(result.Status)),
			attribute.String("run.termination_reason", result.TerminationReason),
			attribute.Int("run.iterations", result.IterationsUsed),
			attribute.String("run.provider", result.ProviderUsed),
		)
		if result.Status == StatusFailed {
			span.SetStatus(codes.Error, result.TerminationReason)
		}
		c.metrics.observeRun(result.Status, result.TerminationReason, result.ExecutionTime, result.IterationsUsed)
		c.emit(r.id, result.IterationsUsed, EventRunEnd, map[string]any{
			"status":             string(result.Status),
			"termination_reason": result.TerminationReason,
			"provider":           result.ProviderUsed,
			"iterations":         result.IterationsUsed,
		})
		r.logger.Info("run finished",
			zap.String("status", string(result.Status)),
			zap.String("reason", result.TerminationReason),
			zap.String("provider", result.ProviderUsed),
			zap.Int("iterations", result.IterationsUsed),
			zap.Duration("elapsed", result.ExecutionTime),
		)
	}()

	r.prepare(ctx)

	primary := c.router.Select(in.ProviderOverride, in.User.Role)
	tried := []string{primary}
	c.emit(r.id, 0, EventRunStart, map[string]any{"provider": primary, "query": in.Query})
	r.logger.Info("run started", zap.String("provider", primary), zap.String("domain", in.DomainID))

	res := r.attempt(ctx, primary)
	if res.err != nil && res.early && ctx.Err() == nil {
		if fallback, ok := c.router.Fallback(primary); ok {
			unavailable := llm.IsUnavailable(res.err)
			r.logger.Warn("switching provider",
				zap.String("from", primary),
				zap.String("to", fallback),
				zap.Bool("unavailable", unavailable),
				zap.Error(res.err),
			)
			c.metrics.observeSwitch(primary, fallback)
			c.emit(r.id, 0, EventProviderSwitch, map[string]any{
				"from":        primary,
				"to":          fallback,
				"unavailable": unavailable,
				"error":       res.err.Error(),
			})
			tried = append(tried, fallback)
			res = r.attempt(ctx, fallback)
		}
	}

	if res.err != nil {
		r.logger.Error("provider failed", zap.String("provider", res.provider), zap.Error(res.err))
		if res.reason == "" {
			res.reason = ReasonProviderError
		}
		if res.text == "" {
			res.text = degradedMessage
		}
	}
	return r.result(res, tried)
}

// prepare resolves the prior context, instructions and domain context.
func (r *run) prepare(ctx context.Context) {
	c := r.c
	r.prior = r.in.PriorContext
	if r.prior == nil && r.in.SessionID != "" && c.priorSupplier != nil {
		prior, err := c.priorSupplier.PriorContext(ctx, r.in.SessionID)
		if err != nil {
			r.logger.Warn("prior context unavailable", zap.String("session_id", r.in.SessionID), zap.Error(err))
		} else {
			r.prior = prior
		}
	}

	if c.instructions != nil {
		text, err := c.instructions.Instructions(ctx, r.in.User, r.in.DomainID)
		if err != nil {
			r.logger.Warn("instructions unavailable", zap.Error(err))
		} else {
			r.instructions = text
		}
	}

	sessionID := r.in.SessionID
	if sessionID == "" && r.prior != nil {
		sessionID = r.prior.SessionID
	}
	r.dc = DomainContext{
		DomainID:  r.in.DomainID,
		User:      r.in.User,
		SessionID: sessionID,
		RunID:     r.id,
	}
}

func (r *run) result(res attempt, tried []string) LoopResult {
	out := LoopResult{
		RunID:             r.id,
		FinalText:         res.text,
		Scratchpad:        res.pad,
		TerminationReason: res.reason,
		ProviderUsed:      res.provider,
		ProvidersTried:    tried,
		ExecutionTime:     r.c.now().Sub(r.start),
		Usage:             r.usage,
	}
	if len(tried) > 1 {
		out.ProviderSwitches = len(tried) - 1
	}
	if res.pad != nil {
		out.Status = res.pad.Status()
		out.IterationsUsed = res.pad.Iteration()
	}
	return out
}

// attempt runs the full loop against one provider with a fresh scratchpad.
// The execution budget is measured from the start of Run, not the attempt.
func (r *run) attempt(ctx context.Context, provider string) attempt {
	c := r.c
	cfg := c.cfg
	pad := NewScratchpad(r.in.Query, r.prior)
	var tr transcript

	base := windowHistory(r.in.History, cfg.HistoryWindow)
	base = append(base, llm.UserMessage(r.in.Query))
	tools := c.tools.Definitions()
	consecutiveRepeats := 0

	for {
		if ctx.Err() != nil {
			pad.finish(StatusFailed)
			return attempt{provider: provider, pad: pad, text: bestEffort(pad), reason: ReasonCancelled}
		}
		if elapsed := c.now().Sub(r.start); elapsed > cfg.MaxExecutionTime {
			r.logger.Info("execution budget exhausted", zap.Duration("elapsed", elapsed), zap.Int("iteration", pad.Iteration()))
			return r.forceSynthesis(ctx, provider, pad, &tr, base, StatusTimeout, ReasonTimeout)
		}
		if pad.Iteration() >= cfg.MaxIterations {
			r.logger.Info("iteration cap reached", zap.Int("iteration", pad.Iteration()))
			return r.forceSynthesis(ctx, provider, pad, &tr, base, StatusMaxIterations, ReasonMaxIterations)
		}

		if err := pad.advance(cfg.MaxIterations); err != nil {
			return r.forceSynthesis(ctx, provider, pad, &tr, base, StatusMaxIterations, ReasonMaxIterations)
		}
		iteration := pad.Iteration()
		c.emit(r.id, iteration, EventIterationStart, map[string]any{"provider": provider})
		r.logger.Debug("iteration started", zap.Int("iteration", iteration), zap.String("provider", provider))

		iterCtx, span := c.tracer.Start(ctx, "agentloop.iteration", trace.WithAttributes(
			attribute.Int("iteration", iteration),
			attribute.String("provider", provider),
		))

		messages := r.messages(provider, pad, base, &tr, "")
		resp, err := c.router.Reason(iterCtx, provider, messages, tools, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reasoning call failed")
			span.End()
			pad.finish(StatusFailed)
			if ctx.Err() != nil {
				return attempt{provider: provider, pad: pad, text: bestEffort(pad), reason: ReasonCancelled}
			}
			return attempt{
				provider: provider,
				pad:      pad,
				reason:   ReasonProviderError,
				err:      err,
				early:    len(pad.Actions()) == 0,
			}
		}
		r.usage = r.usage.Add(resp.Usage)

		text := strings.TrimSpace(resp.Text())
		calls := resp.ToolCalls()
		r.recordThought(pad, text, calls)

		if len(calls) == 0 {
			span.End()
			pad.finish(StatusCompleted)
			if text == "" {
				text = bestEffort(pad)
			}
			return attempt{provider: provider, pad: pad, text: r.reword(ctx, text), reason: ReasonModelComplete}
		}

		consecutiveRepeats = r.act(iterCtx, pad, &tr, text, calls, consecutiveRepeats)
		span.End()

		if cfg.RepeatPolicy == RepeatTerminate && consecutiveRepeats >= cfg.RepeatLimit {
			r.logger.Warn("repeat limit reached", zap.Int("repeats", consecutiveRepeats))
			return r.forceSynthesis(ctx, provider, pad, &tr, base, StatusCompleted, ReasonRepeatLimit)
		}
	}
}

// recordThought stores the model's text, or a synthetic summary when it only
// requested calls, and clears a pending relevance check once text arrives.
func (r *run) recordThought(pad *Scratchpad, text string, calls []llm.ToolCall) {
	switch {
	case text != "":
		_ = pad.addThought(text, false)
		r.c.emit(r.id, pad.Iteration(), EventThought, map[string]any{"text": text})
		if pad.RequiresRelevanceCheck() {
			_ = pad.setRelevanceCheck(false)
			r.c.emit(r.id, pad.Iteration(), EventRelevanceGate, map[string]any{"required": false})
			r.logger.Debug("relevance check satisfied", zap.Int("iteration", pad.Iteration()))
		}
	case len(calls) > 0:
		names := make([]string, len(calls))
		for i, call := range calls {
			names[i] = call.Name
		}
		synthetic := "Calling " + strings.Join(names, ", ") + "."
		_ = pad.addThought(synthetic, true)
		r.c.emit(r.id, pad.Iteration(), EventThought, map[string]any{"text": synthetic, "synthetic": true})
	}
}

// act executes the requested calls in order and returns the updated count of
// consecutive repeated actions.
func (r *run) act(ctx context.Context, pad *Scratchpad, tr *transcript, text string, calls []llm.ToolCall, repeats int) int {
	c := r.c
	cfg := c.cfg
	iteration := pad.Iteration()

	assistant := llm.Message{Role: llm.RoleAssistant}
	if text != "" {
		assistant.Content = append(assistant.Content, llm.TextPart(text))
	}
	ids := make([]string, len(calls))
	for i, call := range calls {
		ids[i] = call.ID
		if ids[i] == "" {
			ids[i] = "call_" + uuid.NewString()
		}
		assistant.Content = append(assistant.Content, llm.ToolCallPart(ids[i], call.Name, call.Arguments))
	}
	tr.addAssistant(assistant)

	blocked := cfg.gateBlocks(pad)
	if blocked {
		r.logger.Info("tool calls refused until results are justified", zap.Int("iteration", iteration), zap.Int("calls", len(calls)))
		c.emit(r.id, iteration, EventRelevanceGate, map[string]any{"required": true, "blocked": len(calls)})
	}

	for i, call := range calls {
		params, parseErr := ParseToolArguments(call.Arguments)
		if parseErr != nil {
			params = map[string]any{}
		}

		if IsRepeat(pad.RecentActions(repeatWindow), call.Name, params) {
			repeats++
			c.metrics.observeRepeat()
			c.emit(r.id, iteration, EventRepeatDetected, map[string]any{"function": call.Name, "consecutive": repeats})
			r.logger.Warn("repeated action", zap.String("tool", call.Name), zap.Int("consecutive", repeats))
		} else {
			repeats = 0
		}

		_ = pad.addAction(call.Name, params, c.now())
		c.emit(r.id, iteration, EventToolCallStart, map[string]any{"function": call.Name, "call_id": ids[i]})

		var out Outcome
		var label string
		switch {
		case parseErr != nil:
			out, label = Failure(parseErr.Error()), "error"
		case blocked:
			out, label = Failure(errRelevanceRequired), "refused"
		default:
			out = c.invoker.Invoke(ctx, call.Name, params, r.dc)
			label = "ok"
			if !out.OK {
				label = "error"
			}
		}
		toolLabel := call.Name
		if c.tools.Get(call.Name) == nil {
			toolLabel = "unknown"
		}
		c.metrics.observeTool(toolLabel, label)

		_ = pad.addObservation(call.Name, out, c.now())
		c.emit(r.id, iteration, EventToolCallEnd, map[string]any{
			"function": call.Name,
			"call_id":  ids[i],
			"success":  out.OK,
			"error":    out.Err,
		})
		tr.addToolResult(ids[i], call.Name, cfg.observationText(call.Name, out), !out.OK)

		if !blocked && cfg.gateTriggered(call.Name, out) && !pad.RequiresRelevanceCheck() {
			_ = pad.setRelevanceCheck(true)
			c.emit(r.id, iteration, EventRelevanceGate, map[string]any{"required": true, "function": call.Name})
			r.logger.Debug("relevance check required", zap.String("tool", call.Name), zap.Int("iteration", iteration))
		}
	}
	return repeats
}

// forceSynthesis closes the scratchpad with status and makes one tool-free
// call asking for an answer from what was already observed.
func (r *run) forceSynthesis(ctx context.Context, provider string, pad *Scratchpad, tr *transcript, base []llm.Message, status Status, reason string) attempt {
	c := r.c
	pad.finish(status)

	messages := r.messages(provider, pad, base, tr, synthesisInstruction)
	resp, err := c.router.Reason(ctx, provider, messages, nil, true)
	text := ""
	if err == nil {
		r.usage = r.usage.Add(resp.Usage)
		text = strings.TrimSpace(resp.Text())
		if n := len(resp.ToolCalls()); n > 0 {
			r.logger.Debug("ignoring tool calls from synthesis", zap.Int("calls", n))
		}
	}

	if text == "" {
		if err == nil {
			err = errors.New("empty synthesis response")
		}
		r.logger.Warn("synthesis failed", zap.String("provider", provider), zap.Error(err))
		c.emit(r.id, pad.Iteration(), EventSynthesis, map[string]any{"success": false, "error": err.Error()})
		return attempt{provider: provider, pad: pad, text: bestEffort(pad), reason: ReasonSynthesisFailed}
	}

	c.emit(r.id, pad.Iteration(), EventSynthesis, map[string]any{"success": true, "cause": reason})
	return attempt{provider: provider, pad: pad, text: r.reword(ctx, text), reason: reason}
}

// messages assembles the request: system prompt, windowed history, the
// query, then this run's calls and results.
func (r *run) messages(provider string, pad *Scratchpad, base []llm.Message, tr *transcript, extra string) []llm.Message {
	c := r.c
	system := c.prompt.Build(PromptInput{
		Instructions:     r.instructions,
		User:             r.in.User,
		DomainID:         r.in.DomainID,
		Provider:         provider,
		Model:            c.router.Model(provider),
		Scratchpad:       pad,
		MaxIterations:    c.cfg.MaxIterations,
		Now:              c.now(),
		Truncate:         c.cfg.truncateObservation,
	})
	if extra != "" {
		system += "\n\n" + extra
	}
	out := make([]llm.Message, 0, 1+len(base)+len(tr.all()))
	out = append(out, llm.SystemMessage(system))
	out = append(out, base...)
	out = append(out, tr.all()...)
	return out
}

// reword passes text through the synthesizer, keeping the original on error.
func (r *run) reword(ctx context.Context, text string) string {
	if r.c.synthesizer == nil {
		return text
	}
	out, err := r.c.synthesizer.Synthesize(ctx, text, r.in.Query)
	if err != nil || strings.TrimSpace(out) == "" {
		r.logger.Warn("response synthesizer failed; keeping original text", zap.Error(err))
		return text
	}
	return out
}

func (c *Controller) emit(runID string, iteration int, kind EventKind, data map[string]any) {
	c.events.Emit(LoopEvent{
		Kind:      kind,
		Timestamp: c.now(),
		RunID:     runID,
		Iteration: iteration,
		Data:      data,
	})
}

// observationText renders an outcome of name as a tool result message.
func (c Config) observationText(name string, out Outcome) string {
	if !out.OK {
		return "error: " + out.Err
	}
	return c.truncateObservation(name, renderValue(out.Value))
}

// bestEffort builds a fallback answer from the last recorded thought.
func bestEffort(pad *Scratchpad) string {
	t, ok := pad.LastThought()
	switch {
	case ok && t.Text != "" && t.Synthetic:
		return "I wasn't able to finish working on this. My last step was: " + t.Text
	case ok && t.Text != "":
		return "I wasn't able to finish working on this. Here is where I got to: " + t.Text
	}
	return "I wasn't able to finish working on this request. Please try again or narrow the question."
}
