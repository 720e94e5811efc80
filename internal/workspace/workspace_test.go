package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/reasonloop/agentloop"
)

func setupWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("acme/notes.md", "Q3 revenue grew 12%.\nHeadcount flat.\n")
	write("acme/reports/q3.md", "# Q3\nRevenue: 4.2M\n")
	write("acme/.hidden/secret.md", "revenue secret\n")
	write("globex/notes.md", "Globex revenue is private.\n")

	ws, err := New(root)
	require.NoError(t, err)
	return ws
}

func TestSearch_ScopedToDomain(t *testing.T) {
	ws := setupWorkspace(t)

	matches, err := ws.Search(context.Background(), "acme", "revenue", SearchOptions{CaseInsensitive: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Path: "notes.md", Line: 1, Text: "Q3 revenue grew 12%."}, matches[0])
	assert.Equal(t, "reports/q3.md", matches[1].Path)
	assert.Equal(t, 2, matches[1].Line)
}

func TestSearch_GlobAndLimit(t *testing.T) {
	ws := setupWorkspace(t)

	matches, err := ws.Search(context.Background(), "acme", "Q3", SearchOptions{Glob: "q3.md"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "reports/q3.md", matches[0].Path)

	matches, err = ws.Search(context.Background(), "acme", ".", SearchOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSearch_NoMatchesIsEmpty(t *testing.T) {
	ws := setupWorkspace(t)
	matches, err := ws.Search(context.Background(), "acme", "nonexistent-term", SearchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestSearch_InvalidPattern(t *testing.T) {
	ws := setupWorkspace(t)
	_, err := ws.Search(context.Background(), "acme", "(", SearchOptions{})
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	ws := setupWorkspace(t)

	out, err := ws.ReadFile("acme", "reports/q3.md", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "2 | Revenue: 4.2M\n", out)
}

func TestResolve_RejectsEscapes(t *testing.T) {
	ws := setupWorkspace(t)

	_, err := ws.ReadFile("acme", "../globex/notes.md", 0, 0)
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = ws.ReadFile("acme", "/etc/passwd", 0, 0)
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = ws.DomainDir("../globex")
	require.Error(t, err)
}

func TestResolve_RejectsSymlinkEscapes(t *testing.T) {
	ws := setupWorkspace(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("TOP-SECRET revenue\n"), 0o644))

	acme := filepath.Join(ws.Root, "acme")
	require.NoError(t, os.Symlink(outside, filepath.Join(acme, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(ws.Root, "globex", "notes.md"), filepath.Join(acme, "sibling.md")))
	require.NoError(t, os.Symlink(filepath.Join(acme, "notes.md"), filepath.Join(acme, "alias.md")))
	require.NoError(t, os.Symlink(filepath.Dir(outside), filepath.Join(ws.Root, "initech")))

	_, err := ws.ReadFile("acme", "link.txt", 0, 10)
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = ws.ReadFile("acme", "sibling.md", 0, 10)
	require.ErrorIs(t, err, ErrOutsideRoot, "another domain is outside this one")

	out, err := ws.ReadFile("acme", "alias.md", 1, 1)
	require.NoError(t, err, "links that stay inside the domain are followed")
	assert.Equal(t, "1 | Q3 revenue grew 12%.\n", out)

	_, err = ws.ReadFile("initech", "secret.txt", 0, 0)
	require.ErrorIs(t, err, ErrOutsideRoot, "a linked domain directory must stay under the root")

	_, err = ws.Search(context.Background(), "initech", "revenue", SearchOptions{})
	require.ErrorIs(t, err, ErrOutsideRoot)

	matches, err := ws.Search(context.Background(), "acme", "SECRET|Globex", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches, "search does not read through symlinks")
}

func TestListDirectory(t *testing.T) {
	ws := setupWorkspace(t)
	entries, err := ws.ListDirectory("acme", ".")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = e.IsDir
	}
	assert.Equal(t, false, names["notes.md"])
	assert.Equal(t, true, names["reports"])
}

func TestRegister_ToolsUseDomainContext(t *testing.T) {
	ws := setupWorkspace(t)
	reg := agentloop.NewToolRegistry()
	Register(reg, ws)

	assert.Equal(t, []string{"list_directory", "read_file", "search_files"}, reg.Names())

	search := reg.Get(SearchFunction)
	require.NotNil(t, search)
	out, err := search.Func(context.Background(), map[string]any{"pattern": "revenue"}, agentloop.DomainContext{DomainID: "globex"})
	require.NoError(t, err)
	matches := out.([]Match)
	require.Len(t, matches, 1)
	assert.Equal(t, "notes.md", matches[0].Path)

	_, err = search.Func(context.Background(), map[string]any{}, agentloop.DomainContext{DomainID: "globex"})
	require.Error(t, err)
}
