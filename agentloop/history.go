package agentloop

import (
	"github.com/martinemde/reasonloop/llm"
)

// windowHistory returns the last n messages of history, dropping system
// messages, which belong to the prompt builder. A non-positive n keeps none.
func windowHistory(history []llm.Message, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	kept := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	// A window that opens on a tool result has lost its call.
	for len(kept) > 0 && kept[0].Role == llm.RoleTool {
		kept = kept[1:]
	}
	return kept
}

// transcript accumulates the assistant and tool messages produced during one
// run so that each reasoning call sees the calls it made and their results.
type transcript struct {
	messages []llm.Message
}

func (t *transcript) addAssistant(msg llm.Message) {
	t.messages = append(t.messages, msg)
}

func (t *transcript) addToolResult(callID, name, content string, isError bool) {
	t.messages = append(t.messages, llm.ToolResultMessage(callID, name, content, isError))
}

func (t *transcript) all() []llm.Message {
	return t.messages
}
