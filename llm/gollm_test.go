package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGollmProvider_NoKeyIsUnavailable(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	p, err := NewGollmProvider("mistral")
	require.NoError(t, err)
	assert.False(t, p.Available())
	assert.Equal(t, "mistral", p.Name())
	assert.Equal(t, "mistral-large-latest", p.Model())

	_, err = p.Complete(context.Background(), Request{})
	assert.True(t, IsUnavailable(err))
}

func TestParseToolCalls_Wrapped(t *testing.T) {
	text := `Let me look that up.
{"tool_calls":[{"name":"search_files","arguments":{"pattern":"revenue"}},{"name":"list_directory"}]}`
	calls := parseToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "search_files", calls[0].Name)
	assert.JSONEq(t, `{"pattern":"revenue"}`, string(calls[0].Arguments))
	assert.JSONEq(t, `{}`, string(calls[1].Arguments))
	assert.NotEqual(t, calls[0].ID, calls[1].ID)

	assert.Equal(t, "Let me look that up.", stripToolCallJSON(text, calls))
}

func TestParseToolCalls_BareArray(t *testing.T) {
	calls := parseToolCalls(`[{"name":"read_file","arguments":{"path":"a.md"}}]`)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
}

func TestParseToolCalls_PlainText(t *testing.T) {
	assert.Empty(t, parseToolCalls("The answer is 42."))
	assert.Empty(t, parseToolCalls(`{"tool_calls": [not json`))
}

func TestBuildResponse_ToolsDisabledKeepsText(t *testing.T) {
	p := &GollmProvider{provider: "openai", model: "gpt-4o"}
	text := `{"tool_calls":[{"name":"search_files","arguments":{}}]}`
	resp := p.buildResponse(Request{ToolChoice: ToolChoiceNone}, text)
	assert.Empty(t, resp.ToolCalls())
	assert.Equal(t, "stop", resp.FinishReason.Reason)

	resp = p.buildResponse(Request{}, text)
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "tool_calls", resp.FinishReason.Reason)
	assert.Empty(t, resp.Text())
}

func TestTranslateError(t *testing.T) {
	p := &GollmProvider{provider: "anthropic"}
	tests := []struct {
		msg       string
		kind      Kind
		retryable bool
	}{
		{"401 unauthorized", KindAuthentication, false},
		{"rate limit exceeded", KindRateLimit, true},
		{"503 service unavailable", KindServer, true},
		{"maximum context length exceeded", KindContextLength, false},
		{"context deadline exceeded", KindTimeout, true},
		{"blocked by safety settings", KindContentFilter, false},
		{"something odd", KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			cause := errors.New(tt.msg)
			err := p.translateError(cause)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestTranslateError_StatusAndRetryAfter(t *testing.T) {
	p := &GollmProvider{provider: "anthropic"}

	cause := errors.New("API error (status 429): Retry-After: 12")
	err := p.translateError(cause)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindRateLimit, e.Kind)
	assert.Equal(t, 429, e.StatusCode)
	assert.Equal(t, 12*time.Second, e.RetryAfter)
	assert.ErrorIs(t, err, cause)

	err = p.translateError(errors.New("request failed (502)"))
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindServer, e.Kind)
	assert.Equal(t, 502, e.StatusCode)
	assert.Zero(t, e.RetryAfter)

	err = p.translateError(errors.New("context window of 8192 tokens exceeded: too many tokens"))
	assert.Equal(t, KindContextLength, KindOf(err), "numbers that are not statuses fall through to keywords")
}

func TestTranslateRequest_RendersTranscript(t *testing.T) {
	p := &GollmProvider{provider: "openai"}
	req := Request{
		Messages: []Message{
			SystemMessage("be brief"),
			UserMessage("find revenue"),
			{Role: RoleAssistant, Content: []ContentPart{ToolCallPart("c1", "search_files", []byte(`{"pattern":"revenue"}`))}},
			ToolResultMessage("c1", "search_files", "notes.md:1", false),
		},
	}
	prompt := p.translateRequest(req)
	require.NotNil(t, prompt)
	assert.Contains(t, prompt.Input, "find revenue")
	assert.Contains(t, prompt.Input, "[Assistant called search_files]")
	assert.Contains(t, prompt.Input, "[Tool Result search_files]: notes.md:1")
	assert.Equal(t, "be brief", prompt.SystemPrompt)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 10, estimateTokens(Request{}))
	assert.Equal(t, 2, estimateTokens(Request{Messages: []Message{UserMessage("12345678")}}))
}
