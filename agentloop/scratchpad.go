package agentloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state recorded on a Scratchpad.
type Status string

const (
	StatusReasoning     Status = "reasoning"
	StatusCompleted     Status = "completed"
	StatusTimeout       Status = "timeout"
	StatusMaxIterations Status = "maxIterations"
	StatusFailed        Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s != StatusReasoning
}

// ErrScratchpadClosed is returned by writes after a terminal status was set.
var ErrScratchpadClosed = errors.New("scratchpad is closed")

// Thought is one unit of recorded model reasoning.
type Thought struct {
	Iteration int    `json:"iteration"`
	Text      string `json:"text"`
	// Synthetic marks a thought generated because the model requested tool
	// calls without explanatory text.
	Synthetic bool   `json:"synthetic"`
}

// Action is a tool call about to be executed.
type Action struct {
	Iteration    int            `json:"iteration"`
	FunctionName string         `json:"function_name"`
	Parameters   map[string]any `json:"parameters"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Observation is the outcome of an executed Action.
type Observation struct {
	Iteration    int       `json:"iteration"`
	FunctionName string    `json:"function_name"`
	Success      bool      `json:"success"`
	Result       any       `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecentCall is a tool call remembered from an earlier turn of the session.
type RecentCall struct {
	FunctionName string         `json:"function_name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	At           time.Time      `json:"at"`
}

// PriorContext is caller-supplied cross-turn memory. The loop only reads it.
type PriorContext struct {
	RecentCalls  []RecentCall `json:"recent_calls,omitempty"`
	ActiveSkills []string     `json:"active_skills,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
}

// Clone returns a deep copy so the loop never holds a live reference into
// caller state.
func (p *PriorContext) Clone() *PriorContext {
	if p == nil {
		return nil
	}
	out := &PriorContext{
		SessionID:    p.SessionID,
		ActiveSkills: append([]string(nil), p.ActiveSkills...),
	}
	if p.RecentCalls != nil {
		out.RecentCalls = make([]RecentCall, len(p.RecentCalls))
		for i, c := range p.RecentCalls {
			out.RecentCalls[i] = RecentCall{
				FunctionName: c.FunctionName,
				Parameters:   cloneParams(c.Parameters),
				At:           c.At,
			}
		}
	}
	return out
}

// Scratchpad is the working memory of a single query. It is owned by one Run
// and is not safe for concurrent use.
type Scratchpad struct {
	userQuery              string
	status                 Status
	iteration              int
	thoughts               []Thought
	actions                []Action
	observations           []Observation
	requiresRelevanceCheck bool
	priorContext           *PriorContext
}

// NewScratchpad creates a scratchpad for query. prior is copied.
func NewScratchpad(query string, prior *PriorContext) *Scratchpad {
	return &Scratchpad{
		userQuery:    query,
		status:       StatusReasoning,
		priorContext: prior.Clone(),
	}
}

func (s *Scratchpad) UserQuery() string { return s.userQuery }
func (s *Scratchpad) Status() Status { return s.status }
func (s *Scratchpad) Iteration() int { return s.iteration }
func (s *Scratchpad) RequiresRelevanceCheck() bool { return s.requiresRelevanceCheck }

// PriorContext returns a copy of the prior context, or nil.
func (s *Scratchpad) PriorContext() *PriorContext { return s.priorContext.Clone() }

// Thoughts returns a copy of the recorded thoughts.
func (s *Scratchpad) Thoughts() []Thought {
	return append([]Thought(nil), s.thoughts...)
}

// Actions returns a copy of the recorded actions.
func (s *Scratchpad) Actions() []Action {
	return append([]Action(nil), s.actions...)
}

// Observations returns a copy of the recorded observations.
func (s *Scratchpad) Observations() []Observation {
	return append([]Observation(nil), s.observations...)
}

// RecentActions returns up to the last n actions, oldest first.
func (s *Scratchpad) RecentActions(n int) []Action {
	if n <= 0 {
		return nil
	}
	start := len(s.actions) - n
	if start < 0 {
		start = 0
	}
	return append([]Action(nil), s.actions[start:]...)
}

// LastThought returns the most recent thought, preferring model-written text
// over synthetic entries.
func (s *Scratchpad) LastThought() (Thought, bool) {
	for i := len(s.thoughts) - 1; i >= 0; i-- {
		if !s.thoughts[i].Synthetic {
			return s.thoughts[i], true
		}
	}
	if len(s.thoughts) > 0 {
		return s.thoughts[len(s.thoughts)-1], true
	}
	return Thought{}, false
}

func (s *Scratchpad) writable() error {
	if s.status.Terminal() {
		return ErrScratchpadClosed
	}
	return nil
}

// advance increments the iteration counter, refusing to pass limit.
func (s *Scratchpad) advance(limit int) error {
	if err := s.writable(); err != nil {
		return err
	}
	if s.iteration >= limit {
		return fmt.Errorf("iteration cap %d reached", limit)
	}
	s.iteration++
	return nil
}

func (s *Scratchpad) addThought(text string, synthetic bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.thoughts = append(s.thoughts, Thought{Iteration: s.iteration, Text: text, Synthetic: synthetic})
	return nil
}

func (s *Scratchpad) addAction(name string, params map[string]any, at time.Time) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.actions = append(s.actions, Action{
		Iteration:    s.iteration,
		FunctionName: name,
		Parameters:   cloneParams(params),
		Timestamp:    at,
	})
	return nil
}

func (s *Scratchpad) addObservation(name string, out Outcome, at time.Time) error {
	if err := s.writable(); err != nil {
		return err
	}
	obs := Observation{
		Iteration:    s.iteration,
		FunctionName: name,
		Success:      out.OK,
		Timestamp:    at,
	}
	if out.OK {
		obs.Result = out.Value
	} else {
		obs.Error = out.Err
	}
	s.observations = append(s.observations, obs)
	return nil
}

func (s *Scratchpad) setRelevanceCheck(v bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.requiresRelevanceCheck = v
	return nil
}

// finish moves the scratchpad to a terminal status. Later calls are ignored.
func (s *Scratchpad) finish(status Status) bool {
	if s.status.Terminal() || !status.Terminal() {
		return false
	}
	s.status = status
	return true
}

// Render formats the scratchpad as a working-memory block for the prompt.
// Observation results pass through truncate when it is non-nil.
func (s *Scratchpad) Render(maxIterations int, truncate func(name, text string) string) string {
	var sb strings.Builder
	sb.WriteString("<working_memory>\n")
	fmt.Fprintf(&sb, "Query: %s\n", s.userQuery)
	fmt.Fprintf(&sb, "Iteration: %d of %d\n", s.iteration, maxIterations)

	if len(s.thoughts) > 0 {
		sb.WriteString("\nThoughts:\n")
		for _, t := range s.thoughts {
			marker := ""
			if t.Synthetic {
				marker = " (auto)"
			}
			fmt.Fprintf(&sb, "- [%d]%s %s\n", t.Iteration, marker, t.Text)
		}
	}

	if len(s.actions) > 0 {
		sb.WriteString("\nActions and observations:\n")
		for i, a := range s.actions {
			fmt.Fprintf(&sb, "- [%d] %s(%s)\n", a.Iteration, a.FunctionName, formatParams(a.Parameters))
			if i < len(s.observations) {
				o := s.observations[i]
				if o.Success {
					text := renderValue(o.Result)
					if truncate != nil {
						text = truncate(o.FunctionName, text)
					}
					fmt.Fprintf(&sb, "  -> ok: %s\n", text)
				} else {
					fmt.Fprintf(&sb, "  -> error: %s\n", o.Error)
				}
			}
		}
	}
	sb.WriteString("</working_memory>")
	return sb.String()
}

// MarshalJSON exposes the scratchpad state for callers and logs.
func (s *Scratchpad) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserQuery              string        `json:"user_query"`
		Status                 Status        `json:"status"`
		Iteration              int           `json:"iteration"`
		Thoughts               []Thought     `json:"thoughts"`
		Actions                []Action      `json:"actions"`
		Observations           []Observation `json:"observations"`
		RequiresRelevanceCheck bool          `json:"requires_relevance_check"`
		PriorContext           *PriorContext `json:"prior_context,omitempty"`
	}{
		UserQuery:              s.userQuery,
		Status:                 s.status,
		Iteration:              s.iteration,
		Thoughts:               s.thoughts,
		Actions:                s.actions,
		Observations:           s.observations,
		RequiresRelevanceCheck: s.requiresRelevanceCheck,
		PriorContext:           s.priorContext,
	})
}

func formatParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(raw)
}

// renderValue turns a tool result into text for the model.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// cloneParams deep-copies a decoded JSON parameter map.
func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
