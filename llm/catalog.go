package llm

// ModelInfo describes a known model.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in catalog, newest first within each provider.
var Models = []ModelInfo{
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"haiku", "claude-haiku"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsTools: true,
	},
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B (Groq)",
		ContextWindow: 128000, SupportsTools: true,
	},
	{
		ID: "mistral-large-latest", Provider: "mistral", DisplayName: "Mistral Large",
		ContextWindow: 128000, SupportsTools: true,
	},
}

// apiKeyEnv maps provider names to the environment variable holding their
// credentials.
var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"cohere":    "COHERE_API_KEY",
}

// APIKeyEnv returns the environment variable conventionally holding the API
// key for provider, or "" if the provider is unknown.
func APIKeyEnv(provider string) string {
	return apiKeyEnv[provider]
}

// GetModelInfo returns the catalog entry for a model or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	if modelID == "" {
		return nil
	}
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// DefaultModel returns the preferred tool-capable model for provider, or ""
// if the catalog has none.
func DefaultModel(provider string) string {
	for i := range Models {
		if Models[i].Provider == provider && Models[i].SupportsTools {
			return Models[i].ID
		}
	}
	return ""
}
