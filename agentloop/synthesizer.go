package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/reasonloop/llm"
)

// ResponseSynthesizer rewords a final answer, for example to adjust tone.
// Failures are not fatal: the loop keeps the original text.
type ResponseSynthesizer interface {
	Synthesize(ctx context.Context, text, query string) (string, error)
}

// SynthesizerFunc adapts a function to ResponseSynthesizer.
type SynthesizerFunc func(ctx context.Context, text, query string) (string, error)

// Synthesize implements ResponseSynthesizer.
func (f SynthesizerFunc) Synthesize(ctx context.Context, text, query string) (string, error) {
	return f(ctx, text, query)
}

// LLMSynthesizer rewrites answers with a single tool-free model call.
type LLMSynthesizer struct {
	Client   *llm.Client
	Provider string
	Model    string
	// Style is the rewording instruction, e.g. "Use a warm, concise tone."
	Style string
}

// Synthesize implements ResponseSynthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, text, query string) (string, error) {
	if s.Client == nil {
		return "", fmt.Errorf("llm synthesizer has no client")
	}
	style := s.Style
	if style == "" {
		style = "Keep every fact. Make the answer clear and friendly."
	}
	resp, err := s.Client.Complete(ctx, llm.Request{
		Provider:   s.Provider,
		Model:      s.Model,
		ToolChoice: llm.ToolChoiceNone,
		Messages: []llm.Message{
			llm.SystemMessage("Reword the draft answer to the user's question. " + style +
				" Reply with the reworded answer only."),
			llm.UserMessage(fmt.Sprintf("Question:\n%s\n\nDraft answer:\n%s", query, text)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("reword answer: %w", err)
	}
	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", fmt.Errorf("reword answer: empty response")
	}
	return out, nil
}
