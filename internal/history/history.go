// Package history reads prior conversation turns from YAML files.
//
// The file is a list of turns:
//
//	- role: user
//	  content: Which invoices are overdue?
//	- role: assistant
//	  content: Three invoices are overdue.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/reasonloop/llm"
)

// Turn is one message in a history file.
type Turn struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Decode reads turns from r and converts them to messages. Only user and
// assistant turns are accepted.
func Decode(r io.Reader) ([]llm.Message, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var turns []Turn
	if err := dec.Decode(&turns); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode history: %w", err)
	}

	msgs := make([]llm.Message, 0, len(turns))
	for i, t := range turns {
		switch strings.ToLower(strings.TrimSpace(t.Role)) {
		case "user":
			msgs = append(msgs, llm.UserMessage(t.Content))
		case "assistant":
			msgs = append(msgs, llm.AssistantMessage(t.Content))
		default:
			return nil, fmt.Errorf("history turn %d: unsupported role %q", i+1, t.Role)
		}
	}
	return msgs, nil
}

// LoadFile reads a history file.
func LoadFile(path string) ([]llm.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes messages back out in the same format. Messages without text,
// such as tool results, are skipped.
func Encode(w io.Writer, msgs []llm.Message) error {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		text := m.TextContent()
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Role: string(m.Role), Content: text})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(turns); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return enc.Close()
}
