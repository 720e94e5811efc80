package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InstructionSource supplies the base instruction text for a user and domain.
// The loop treats the text as opaque.
type InstructionSource interface {
	Instructions(ctx context.Context, user Identity, domainID string) (string, error)
}

// StaticInstructions is an InstructionSource that always returns its own text.
type StaticInstructions string

// Instructions implements InstructionSource.
func (s StaticInstructions) Instructions(context.Context, Identity, string) (string, error) {
	return string(s), nil
}

// InstructionFunc adapts a function to InstructionSource.
type InstructionFunc func(ctx context.Context, user Identity, domainID string) (string, error)

// Instructions implements InstructionSource.
func (f InstructionFunc) Instructions(ctx context.Context, user Identity, domainID string) (string, error) {
	return f(ctx, user, domainID)
}

// PromptInput is everything a PromptBuilder may draw on for one iteration.
type PromptInput struct {
	Instructions  string
	User          Identity
	DomainID      string
	Provider      string
	Model         string
	Scratchpad    *Scratchpad
	MaxIterations int
	Now           time.Time
	// Truncate caps a rendered result of the named function. Nil keeps it whole.
	Truncate func(name, text string) string
}

// PromptBuilder renders the system prompt for one reasoning step.
type PromptBuilder interface {
	Build(in PromptInput) string
}

// DefaultPromptBuilder layers instructions, environment, prior context and
// working memory, in that order.
type DefaultPromptBuilder struct{}

// Build implements PromptBuilder.
func (DefaultPromptBuilder) Build(in PromptInput) string {
	var parts []string
	if s := strings.TrimSpace(in.Instructions); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, environmentBlock(in))
	if pad := in.Scratchpad; pad != nil {
		if prior := renderPriorContext(pad.PriorContext()); prior != "" {
			parts = append(parts, prior)
		}
		parts = append(parts, pad.Render(in.MaxIterations, in.Truncate))
		if pad.RequiresRelevanceCheck() {
			parts = append(parts, relevanceBanner)
		}
	}
	return strings.Join(parts, "\n\n")
}

func environmentBlock(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	if in.DomainID != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", in.DomainID)
	}
	if in.User.ID != "" {
		fmt.Fprintf(&sb, "User: %s\n", in.User.ID)
	}
	if in.User.Role != "" {
		fmt.Fprintf(&sb, "Role: %s\n", in.User.Role)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", now.Format("2006-01-02"))
	if in.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", in.Model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

func renderPriorContext(p *PriorContext) string {
	if p == nil || (len(p.RecentCalls) == 0 && len(p.ActiveSkills) == 0) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<prior_context>\n")
	if len(p.ActiveSkills) > 0 {
		fmt.Fprintf(&sb, "Active capabilities: %s\n", strings.Join(p.ActiveSkills, ", "))
	}
	if len(p.RecentCalls) > 0 {
		sb.WriteString("Recent calls in this session:\n")
		for _, c := range p.RecentCalls {
			fmt.Fprintf(&sb, "- %s(%s)\n", c.FunctionName, formatParams(c.Parameters))
		}
	}
	sb.WriteString("</prior_context>")
	return sb.String()
}

// synthesisInstruction is appended to the final tool-disabled call.
const synthesisInstruction = `You have run out of time or steps for this request. Do not call any
functions. Answer the original query using only the observations already
gathered in working memory. If they are insufficient, say what is missing.`
