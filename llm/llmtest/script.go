// Package llmtest provides a scripted llm.Provider for deterministic tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/reasonloop/llm"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Text  string
	Calls []llm.ToolCall
	Err   error
}

// Reply returns a Step carrying text and no tool calls.
func Reply(text string) Step {
	return Step{Text: text}
}

// Calls returns a Step requesting the given tool calls, with optional text.
func Calls(text string, calls ...llm.ToolCall) Step {
	return Step{Text: text, Calls: calls}
}

// Fail returns a Step that fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call builds a tool call whose arguments are args marshalled to JSON.
func Call(name string, args map[string]any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal args for %s: %v", name, err))
	}
	return llm.ToolCall{Name: name, Arguments: raw}
}

// Script is an llm.Provider that replays a fixed sequence of steps. Once the
// sequence is exhausted the last step repeats, so a single tool-call step
// models a provider that always requests a tool.
type Script struct {
	name      string
	model     string
	available bool
	steps     []Step
	synthesis *Step

	mu       sync.Mutex
	idx      int
	requests []llm.Request
}

// NewScript creates an available scripted provider.
func NewScript(name string, steps ...Step) *Script {
	return &Script{name: name, available: true, steps: steps}
}

// Unavailable marks the provider as lacking credentials.
func (s *Script) Unavailable() *Script {
	s.available = false
	return s
}

// WithModel sets the model the provider reports as configured.
func (s *Script) WithModel(model string) *Script {
	s.model = model
	return s
}

// WhenToolsDisabled sets the step returned for requests that disable tools,
// such as a forced synthesis call. It does not consume a scripted step.
func (s *Script) WhenToolsDisabled(step Step) *Script {
	s.synthesis = &step
	return s
}

// Name returns the provider name.
func (s *Script) Name() string { return s.name }

// Model returns the model set by WithModel.
func (s *Script) Model() string { return s.model }

// Available reports whether the provider is marked available.
func (s *Script) Available() bool { return s.available }

// Complete returns the next scripted step. Tool calls are returned even when
// the request disables tools, as a misbehaving model might.
func (s *Script) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	var step Step
	switch {
	case req.ToolsDisabled() && s.synthesis != nil:
		step = *s.synthesis
	case len(s.steps) == 0:
		return nil, fmt.Errorf("llmtest: provider %s has no scripted steps", s.name)
	default:
		step = s.steps[min(s.idx, len(s.steps)-1)]
		s.idx++
	}

	if step.Err != nil {
		return nil, step.Err
	}

	var content []llm.ContentPart
	if step.Text != "" {
		content = append(content, llm.TextPart(step.Text))
	}
	finish := llm.FinishReason{Reason: "stop"}
	for i, c := range step.Calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", s.idx, i)
		}
		content = append(content, llm.ToolCallPart(id, c.Name, c.Arguments))
	}
	if len(step.Calls) > 0 {
		finish = llm.FinishReason{Reason: "tool_calls"}
	}

	return &llm.Response{
		ID:           fmt.Sprintf("resp_%d", s.idx),
		Model:        "scripted",
		Provider:     s.name,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		FinishReason: finish,
		Usage:        llm.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2},
	}, nil
}

// Requests returns a copy of every request received so far.
func (s *Script) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Complete was invoked.
func (s *Script) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
