package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider implements Provider on top of a gollm.LLM. Hosted backends
// supported by gollm (OpenAI, Anthropic, Groq, Mistral, ...) are selected by
// provider name. The provider is available only when an API key is present.
//
// gollm options are mutable on the shared LLM value, so calls through one
// GollmProvider are serialized.
type GollmProvider struct {
	provider string
	model    string
	llm      gollm.LLM

	mu sync.Mutex
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. When unset, the provider's conventional
// environment variable is consulted (see APIKeyEnv).
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmProvider creates a provider for the named gollm backend. Missing
// credentials are not an error: the provider is returned unavailable.
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.apiKey == "" {
		if env := APIKeyEnv(provider); env != "" {
			cfg.apiKey = os.Getenv(env)
		}
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel(provider)
	}

	p := &GollmProvider{provider: provider, model: model}
	if cfg.apiKey == "" {
		return p, nil
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by the Retry middleware
		gollm.SetLogLevel(gollm.LogLevelWarn),
		gollm.SetAPIKey(cfg.apiKey),
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", provider, err)
	}
	p.llm = llm
	return p, nil
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string { return p.provider }

// Model returns the default model identifier.
func (p *GollmProvider) Model() string { return p.model }

// Available reports whether credentials were found and the backend built.
func (p *GollmProvider) Available() bool { return p.llm != nil }

// Complete sends a blocking request and returns the full response.
func (p *GollmProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if p.llm == nil {
		return nil, NewUnavailableError(p.provider)
	}

	prompt := p.translateRequest(req)

	p.mu.Lock()
	p.applyRequestOptions(req)
	text, err := p.llm.Generate(ctx, prompt)
	p.mu.Unlock()
	if err != nil {
		return nil, p.translateError(err)
	}

	return p.buildResponse(req, text), nil
}

// translateRequest flattens the conversation into a gollm Prompt. gollm takes
// a single user prompt plus a system prompt, so prior turns are rendered as
// labelled transcript lines.
func (p *GollmProvider) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt strings.Builder
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt.WriteString(msg.TextContent())
			systemPrompt.WriteString("\n")
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				parts = append(parts, "[Assistant]: "+text)
			}
			for _, tc := range msg.ToolCalls() {
				parts = append(parts, fmt.Sprintf("[Assistant called %s]: %s", tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				prefix := "[Tool Result"
				if part.ToolResult.IsError {
					prefix = "[Tool Error"
				}
				if part.ToolResult.Name != "" {
					prefix += " " + part.ToolResult.Name
				}
				parts = append(parts, prefix+"]: "+part.ToolResult.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if sp := strings.TrimSpace(systemPrompt.String()); sp != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(sp, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 && !req.ToolsDisabled() {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		if req.ToolChoice != nil {
			promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
		}
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (p *GollmProvider) applyRequestOptions(req Request) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model != "" {
		p.llm.SetOption("model", model)
	}
	if req.Temperature != nil {
		p.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		p.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

func (p *GollmProvider) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var calls []ToolCallData
	if !req.ToolsDisabled() {
		calls = parseToolCalls(text)
	}

	var content []ContentPart
	if cleaned := stripToolCallJSON(text, calls); cleaned != "" {
		content = append(content, TextPart(cleaned))
	}
	for i := range calls {
		content = append(content, ContentPart{Kind: ContentToolCall, ToolCall: &calls[i]})
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	// gollm does not expose usage; estimate from text length.
	in := estimateTokens(req)
	out := len(text) / 4
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     p.provider,
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

// parseToolCalls extracts tool calls that gollm returns embedded in the
// response text, either as {"tool_calls":[...]} or as a bare array.
func parseToolCalls(text string) []ToolCallData {
	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raw []rawCall
	if idx := strings.Index(text, toolCallMarkers[0]); idx != -1 {
		var wrapped struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := json.NewDecoder(strings.NewReader(text[idx:])).Decode(&wrapped); err == nil {
			raw = wrapped.ToolCalls
		}
	} else if idx := strings.Index(text, toolCallMarkers[1]); idx != -1 {
		_ = json.NewDecoder(strings.NewReader(text[idx:])).Decode(&raw)
	}

	calls := make([]ToolCallData, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		args := rc.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      rc.Name,
			Arguments: args,
		})
	}
	return calls
}

// stripToolCallJSON removes the embedded tool call JSON, keeping any text that
// preceded it.
func stripToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return strings.TrimSpace(text)
	}
	result := text
	for _, marker := range toolCallMarkers {
		if idx := strings.Index(result, marker); idx != -1 {
			result = result[:idx]
		}
	}
	return strings.TrimSpace(result)
}

// errorSignals classifies gollm failures, which arrive as plain strings.
// Order matters: the first matching entry wins.
var errorSignals = []struct {
	kind    Kind
	status  int
	needles []string
}{
	{KindAuthentication, 401, []string{"401", "unauthorized", "invalid api key"}},
	{KindAccessDenied, 403, []string{"403", "forbidden"}},
	{KindNotFound, 404, []string{"404", "not found"}},
	{KindRateLimit, 429, []string{"429", "rate limit"}},
	{KindContextLength, 413, []string{"context length", "too many tokens"}},
	{KindServer, 500, []string{"500", "502", "503", "internal server"}},
	{KindTimeout, 0, []string{"timeout", "deadline exceeded"}},
	{KindContentFilter, 0, []string{"content filter", "safety"}},
}

var (
	statusPattern     = regexp.MustCompile(`(?:^|status(?: code)?:?\s*|\()([45]\d\d)\b`)
	retryAfterPattern = regexp.MustCompile(`retry[- ]after:?\s*(\d+)`)
)

// translateError classifies a gollm error by its message. An HTTP status in
// the message wins over keyword matching.
func (p *GollmProvider) translateError(err error) error {
	lower := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		status, _ := strconv.Atoi(m[1])
		var retryAfter time.Duration
		if ra := retryAfterPattern.FindStringSubmatch(lower); ra != nil {
			secs, _ := strconv.Atoi(ra[1])
			retryAfter = time.Duration(secs) * time.Second
		}
		e := ErrorFromStatusCode(status, "", p.provider, retryAfter)
		e.Err = err
		return e
	}
	for _, sig := range errorSignals {
		for _, needle := range sig.needles {
			if strings.Contains(lower, needle) {
				e := newError(sig.kind, p.provider, "", err)
				e.StatusCode = sig.status
				return e
			}
		}
	}
	return newError(KindUnknown, p.provider, "", err)
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += len(part.Text) / 4
			case ContentToolResult:
				if part.ToolResult != nil {
					total += len(part.ToolResult.Content) / 4
				}
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
