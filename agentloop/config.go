package agentloop

import (
	"errors"
	"fmt"
	"time"
)

// RelevanceGateMode decides what happens when the model owes a justification
// for search results it has not yet discussed.
type RelevanceGateMode string

const (
	// GateAdvisory renders the justification banner and logs, but never blocks.
	GateAdvisory RelevanceGateMode = "advisory"
	// GateEnforce refuses tool calls until the model produces explanatory text.
	GateEnforce RelevanceGateMode = "enforce"
)

// RepeatPolicy decides what happens when the model repeats a recent action.
type RepeatPolicy string

const (
	// RepeatWarn logs and emits an event; the call still runs.
	RepeatWarn RepeatPolicy = "warn"
	// RepeatTerminate ends the loop with forced synthesis once RepeatLimit
	// consecutive repeats have been seen.
	RepeatTerminate RepeatPolicy = "terminate"
)

// Config is the read-only loop configuration, established once and shared by
// every Run of a Controller.
type Config struct {
	MaxIterations    int           `json:"max_iterations" koanf:"max_iterations"`
	MaxExecutionTime time.Duration `json:"max_execution_time" koanf:"max_execution_time"`
	// HistoryWindow is how many caller history messages are sent. Zero sends
	// none; DefaultConfig sends 20.
	HistoryWindow int `json:"history_window" koanf:"history_window"`

	// SearchClassFunctions are function names whose non-empty results set the
	// relevance gate.
	SearchClassFunctions []string `json:"search_class_functions" koanf:"search_class_functions"`

	DefaultProvider string `json:"default_provider" koanf:"default_provider"`
	// RoleProviderOverrides maps a user role to a provider name.
	RoleProviderOverrides map[string]string `json:"role_provider_overrides,omitempty" koanf:"role_provider_overrides"`
	// FallbackProvider, when set, is preferred over the single-alternative rule.
	FallbackProvider string `json:"fallback_provider,omitempty" koanf:"fallback_provider"`
	// Models maps a provider name to the model requested from it.
	Models map[string]string `json:"models,omitempty" koanf:"models"`

	RelevanceGate RelevanceGateMode `json:"relevance_gate" koanf:"relevance_gate"`
	RepeatPolicy  RepeatPolicy      `json:"repeat_policy" koanf:"repeat_policy"`
	RepeatLimit   int               `json:"repeat_limit" koanf:"repeat_limit"`

	// ObservationCharLimits caps, per function, the characters of a result fed
	// back to the model. DefaultObservationChars applies to the rest.
	ObservationCharLimits   map[string]int `json:"observation_char_limits,omitempty" koanf:"observation_char_limits"`
	DefaultObservationChars int            `json:"default_observation_chars" koanf:"default_observation_chars"`
	// ObservationModes picks, per function, which part of an oversized result
	// survives. Unlisted functions keep head and tail.
	ObservationModes map[string]TruncationMode `json:"observation_modes,omitempty" koanf:"observation_modes"`

	// EnabledFunctions, when non-empty, restricts the registry to these names.
	EnabledFunctions []string `json:"enabled_functions,omitempty" koanf:"enabled_functions"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:           15,
		MaxExecutionTime:        60 * time.Second,
		HistoryWindow:           20,
		RelevanceGate:           GateAdvisory,
		RepeatPolicy:            RepeatWarn,
		RepeatLimit:             3,
		DefaultObservationChars: 20000,
	}
}

// withDefaults fills zero values from DefaultConfig. HistoryWindow is left
// alone because zero is meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	if c.RelevanceGate == "" {
		c.RelevanceGate = d.RelevanceGate
	}
	if c.RepeatPolicy == "" {
		c.RepeatPolicy = d.RepeatPolicy
	}
	if c.RepeatLimit == 0 {
		c.RepeatLimit = d.RepeatLimit
	}
	if c.DefaultObservationChars == 0 {
		c.DefaultObservationChars = d.DefaultObservationChars
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations))
	}
	if c.MaxExecutionTime <= 0 {
		errs = append(errs, fmt.Errorf("max_execution_time must be positive, got %s", c.MaxExecutionTime))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("history_window must not be negative, got %d", c.HistoryWindow))
	}
	switch c.RelevanceGate {
	case GateAdvisory, GateEnforce:
	default:
		errs = append(errs, fmt.Errorf("unknown relevance_gate %q", c.RelevanceGate))
	}
	switch c.RepeatPolicy {
	case RepeatWarn, RepeatTerminate:
	default:
		errs = append(errs, fmt.Errorf("unknown repeat_policy %q", c.RepeatPolicy))
	}
	for name, mode := range c.ObservationModes {
		switch mode {
		case TruncateHeadTail, TruncateHead:
		default:
			errs = append(errs, fmt.Errorf("unknown observation mode %q for %s", mode, name))
		}
	}
	if c.RepeatLimit < 1 {
		errs = append(errs, fmt.Errorf("repeat_limit must be at least 1, got %d", c.RepeatLimit))
	}
	return errors.Join(errs...)
}

// isSearchClass reports whether name is a search-class function.
func (c Config) isSearchClass(name string) bool {
	for _, n := range c.SearchClassFunctions {
		if n == name {
			return true
		}
	}
	return false
}

// observationLimit returns the character cap for name's results.
func (c Config) observationLimit(name string) int {
	if limit, ok := c.ObservationCharLimits[name]; ok {
		return limit
	}
	return c.DefaultObservationChars
}

// truncateObservation caps a rendered result of name for the model.
func (c Config) truncateObservation(name, text string) string {
	mode, ok := c.ObservationModes[name]
	if !ok {
		mode = TruncateHeadTail
	}
	return TruncateOutput(text, c.observationLimit(name), mode)
}
