package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/reasonloop/llm"
)

// Identity describes the user on whose behalf a query runs.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// DomainContext scopes which data a tool call may access.
type DomainContext struct {
	DomainID  string
	User      Identity
	SessionID string
	RunID     string
}

// ToolFunc executes one capability. Its result must be JSON-serializable.
type ToolFunc func(ctx context.Context, args map[string]any, dc DomainContext) (any, error)

// Tool pairs a function schema with its implementation.
type Tool struct {
	Definition llm.ToolDefinition
	Func       ToolFunc
}

// ToolRegistry is the capability registry consulted by the ToolInvoker. It is
// safe for concurrent use.
type ToolRegistry struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*Tool),
	}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// RegisterFunc is shorthand for registering fn under name.
func (r *ToolRegistry) RegisterFunc(name, description string, parameters map[string]any, fn ToolFunc) {
	r.Register(Tool{
		Definition: llm.ToolDefinition{Name: name, Description: description, Parameters: parameters},
		Func:       fn,
	})
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool schemas sorted by name.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Filter returns a registry holding only the named tools that exist here.
func (r *ToolRegistry) Filter(names []string) *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewToolRegistry()
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			cloned := *tool
			out.tools[name] = &cloned
		}
	}
	return out
}

// ParseToolArguments decodes raw call arguments into a map. Empty input is an
// empty map.
func ParseToolArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// GetStringArg extracts a string argument.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument.
func GetIntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument.
func GetBoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
