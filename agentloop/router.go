package agentloop

import (
	"context"
	"fmt"

	"github.com/martinemde/reasonloop/llm"
)

// ProviderSelection reports one configured backend and whether it has the
// credentials it needs.
type ProviderSelection struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// SelectionStrategy picks the primary provider for a query.
type SelectionStrategy interface {
	// Select returns the provider name for the given explicit override and
	// user role. It may return "" to defer to the client's default.
	Select(override, role string) string
}

// PolicyStrategy selects the explicit override, then a role-based provider,
// then the global default.
type PolicyStrategy struct {
	Default       string
	RoleOverrides map[string]string
}

// Select implements SelectionStrategy.
func (s PolicyStrategy) Select(override, role string) string {
	if override != "" {
		return override
	}
	if name, ok := s.RoleOverrides[role]; ok && name != "" {
		return name
	}
	return s.Default
}

// Router selects between the providers registered on an llm.Client and
// decides on fallbacks.
type Router struct {
	client    *llm.Client
	strategy  SelectionStrategy
	preferred string
	models    map[string]string
}

// NewRouter creates a Router over client. preferred, when non-empty, names the
// provider tried first on fallback.
func NewRouter(client *llm.Client, strategy SelectionStrategy, preferred string, models map[string]string) *Router {
	if strategy == nil {
		strategy = PolicyStrategy{}
	}
	return &Router{client: client, strategy: strategy, preferred: preferred, models: models}
}

// Selections lists every registered provider with its availability.
func (r *Router) Selections() []ProviderSelection {
	names := r.client.Names()
	out := make([]ProviderSelection, 0, len(names))
	for _, name := range names {
		out = append(out, ProviderSelection{Name: name, Available: r.client.Available(name)})
	}
	return out
}

// Select returns the primary provider name for a query.
func (r *Router) Select(override, role string) string {
	if name := r.strategy.Select(override, role); name != "" {
		return name
	}
	return r.client.DefaultProvider()
}

// Fallback returns the provider to retry on after failed. The preferred
// fallback wins when it is available; otherwise there must be exactly one
// other available provider.
func (r *Router) Fallback(failed string) (string, bool) {
	if r.preferred != "" && r.preferred != failed && r.client.Available(r.preferred) {
		return r.preferred, true
	}
	var candidate string
	count := 0
	for _, sel := range r.Selections() {
		if sel.Name == failed || !sel.Available {
			continue
		}
		candidate = sel.Name
		count++
	}
	if count != 1 {
		return "", false
	}
	return candidate, true
}

// Model returns the model requested from provider: the router's own
// override, then the model the provider was built with, then the catalog
// default.
func (r *Router) Model(provider string) string {
	if m := r.models[provider]; m != "" {
		return m
	}
	if p, ok := r.client.Provider(provider).(llm.ModelReporter); ok {
		if m := p.Model(); m != "" {
			return m
		}
	}
	return llm.DefaultModel(provider)
}

// Available reports whether provider is registered and has credentials.
func (r *Router) Available(provider string) bool {
	return r.client.Available(provider)
}

// Reason performs one reasoning call against provider. Passing nil tools
// together with disableTools produces a tool-free synthesis call.
func (r *Router) Reason(ctx context.Context, provider string, messages []llm.Message, tools []llm.ToolDefinition, disableTools bool) (*llm.Response, error) {
	if provider == "" {
		return nil, &llm.Error{Kind: llm.KindConfiguration, Message: "no provider selected"}
	}
	req := llm.Request{
		Provider: provider,
		Model:    r.Model(provider),
		Messages: messages,
		ToolDefs: tools,
	}
	if disableTools {
		req.ToolDefs = nil
		req.ToolChoice = llm.ToolChoiceNone
	}
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reason with %s: %w", provider, err)
	}
	return resp, nil
}
