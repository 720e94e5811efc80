package history

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/reasonloop/llm"
)

const sample = `
- role: user
  content: Which invoices are overdue?
- role: assistant
  content: Three invoices are overdue.
`

func TestDecode(t *testing.T) {
	msgs, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "Which invoices are overdue?", msgs[0].TextContent())
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
}

func TestDecode_Empty(t *testing.T) {
	msgs, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode(strings.NewReader("- role: system\n  content: hi\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported role")

	_, err = Decode(strings.NewReader("- role: user\n  text: hi\n"))
	require.Error(t, err, "unknown fields are rejected")
}

func TestLoadFile_AndEncode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	msgs, err := LoadFile(path)
	require.NoError(t, err)

	withTool := append(msgs, llm.ToolResultMessage("c1", "lookup", "{}", false))
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, withTool))

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
