package workspace

import (
	"context"
	"fmt"

	"github.com/martinemde/reasonloop/agentloop"
)

// SearchFunction is the search-class function name registered by Register.
const SearchFunction = "search_files"

// Register adds the workspace capabilities to reg. Every call is scoped to
// the directory of the caller's domain.
func Register(reg *agentloop.ToolRegistry, ws *Workspace) {
	registerSearchFiles(reg, ws)
	registerReadFile(reg, ws)
	registerListDirectory(reg, ws)
}

func registerSearchFiles(reg *agentloop.ToolRegistry, ws *Workspace) {
	reg.RegisterFunc(SearchFunction,
		"Search file contents in the workspace with a regular expression. Returns matching lines with paths and line numbers.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression to search for.",
				},
				"glob": map[string]any{
					"type":        "string",
					"description": "Only search files whose name matches this pattern, e.g. \"*.md\".",
				},
				"case_insensitive": map[string]any{
					"type":        "boolean",
					"description": "Ignore case. Default: false.",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum matches to return. Default: 100.",
				},
			},
			"required": []string{"pattern"},
		},
		func(ctx context.Context, args map[string]any, dc agentloop.DomainContext) (any, error) {
			pattern, ok := agentloop.GetStringArg(args, "pattern")
			if !ok || pattern == "" {
				return nil, fmt.Errorf("pattern is required")
			}
			glob, _ := agentloop.GetStringArg(args, "glob")
			ci, _ := agentloop.GetBoolArg(args, "case_insensitive")
			maxResults, _ := agentloop.GetIntArg(args, "max_results")
			return ws.Search(ctx, dc.DomainID, pattern, SearchOptions{
				Glob:            glob,
				CaseInsensitive: ci,
				MaxResults:      maxResults,
			})
		},
	)
}

func registerReadFile(reg *agentloop.ToolRegistry, ws *Workspace) {
	reg.RegisterFunc("read_file",
		"Read a workspace file. Returns line-numbered content.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the workspace.",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "1-based line to start from.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum lines to read. Default: 500.",
				},
			},
			"required": []string{"path"},
		},
		func(_ context.Context, args map[string]any, dc agentloop.DomainContext) (any, error) {
			path, ok := agentloop.GetStringArg(args, "path")
			if !ok || path == "" {
				return nil, fmt.Errorf("path is required")
			}
			offset, _ := agentloop.GetIntArg(args, "offset")
			limit, _ := agentloop.GetIntArg(args, "limit")
			if limit <= 0 {
				limit = 500
			}
			return ws.ReadFile(dc.DomainID, path, offset, limit)
		},
	)
}

func registerListDirectory(reg *agentloop.ToolRegistry, ws *Workspace) {
	reg.RegisterFunc("list_directory",
		"List the files and directories at a workspace path.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory relative to the workspace. Default: the workspace itself.",
				},
			},
		},
		func(_ context.Context, args map[string]any, dc agentloop.DomainContext) (any, error) {
			path, _ := agentloop.GetStringArg(args, "path")
			if path == "" {
				path = "."
			}
			return ws.ListDirectory(dc.DomainID, path)
		},
	)
}
