package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("checking "),
			ToolCallPart("c1", "search", json.RawMessage(`{"q":"march"}`)),
			TextPart("both"),
			ToolCallPart("c2", "lookup", json.RawMessage(`{"id":7}`)),
		},
	}
	assert.Equal(t, "checking both", msg.TextContent())

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "search", calls[0].Name)
	assert.Equal(t, "c2", calls[1].ID)
	assert.JSONEq(t, `{"id":7}`, string(calls[1].Arguments))
}

func TestAssistantMessage_EmptyHasNoParts(t *testing.T) {
	assert.Empty(t, AssistantMessage("").Content)
	assert.Len(t, AssistantMessage("hi").Content, 1)
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("c1", "search", "no rows", true)
	assert.Equal(t, RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	require.Len(t, msg.Content, 1)
	require.NotNil(t, msg.Content[0].ToolResult)
	assert.True(t, msg.Content[0].ToolResult.IsError)
	assert.Equal(t, "search", msg.Content[0].ToolResult.Name)
}

func TestRequestToolsDisabled(t *testing.T) {
	assert.False(t, Request{}.ToolsDisabled())
	assert.False(t, Request{ToolChoice: &ToolChoice{Mode: "auto"}}.ToolsDisabled())
	assert.True(t, Request{ToolChoice: ToolChoiceNone}.ToolsDisabled())
}

func TestResponseReasoningAndUsage(t *testing.T) {
	resp := Response{Message: Message{Role: RoleAssistant, Content: []ContentPart{
		ThinkingPart("step one. "),
		TextPart("answer"),
		ThinkingPart("step two."),
	}}}
	assert.Equal(t, "step one. step two.", resp.Reasoning())
	assert.Equal(t, "answer", resp.Text())

	total := Usage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}.Add(Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2})
	assert.Equal(t, Usage{InputTokens: 4, OutputTokens: 5, TotalTokens: 9}, total)
}
