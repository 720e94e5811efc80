package workspace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

var errSearchLimit = errors.New("search result limit reached")

// Match is one search hit.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Glob filters file base names, e.g. "*.md".
	Glob            string
	CaseInsensitive bool
	MaxResults      int
}

// Search finds lines matching pattern in the domain directory. Hidden files
// and directories are skipped. Results are in walk order, which is lexical.
func (w *Workspace) Search(ctx context.Context, domainID, pattern string, opts SearchOptions) ([]Match, error) {
	base, err := w.resolve(domainID, ".")
	if err != nil {
		return nil, err
	}
	if opts.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("search_files: invalid pattern: %w", err)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}

	matches := []Match{}
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if path != base && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if opts.Glob != "" {
			if ok, _ := filepath.Match(opts.Glob, name); !ok {
				return nil
			}
		}
		data, err := w.readCapped(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		line := 0
		for scanner.Scan() {
			line++
			if re.Match(scanner.Bytes()) {
				matches = append(matches, Match{Path: filepath.ToSlash(rel), Line: line, Text: strings.TrimSpace(scanner.Text())})
				if len(matches) >= opts.MaxResults {
					return errSearchLimit
				}
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errSearchLimit) {
		return nil, fmt.Errorf("search_files: %w", walkErr)
	}
	return matches, nil
}
