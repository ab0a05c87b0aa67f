// Package suggest scans the workspace for missing documentation files.
// The scan is expensive (one chat backend round trip), so concurrent
// triggers are coalesced through a single-flight computation and failures
// degrade to the last good result.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quill/internal/flight"
	"quill/internal/llm"
	"quill/internal/logging"
)

// flightKey identifies the one shared missing-docs computation.
const flightKey = "missing-docs"

// maxListedFiles bounds the file inventory embedded in the prompt.
const maxListedFiles = 400

// defaultSuggestions is returned when no scan has ever succeeded.
// Never empty, so callers always have something to render.
var defaultSuggestions = []string{"README.md"}

// FileLister enumerates workspace files for the scan prompt.
// Injected at construction so tests can substitute a stub.
type FileLister interface {
	ListFiles(root string) ([]string, error)
}

// Scanner asks the chat backend which standard documentation files the
// project is missing.
type Scanner struct {
	client llm.Completer
	lister FileLister
	root   string
	comp   *flight.Computation[[]string]
}

// NewScanner creates a scanner over the given backend and file lister.
func NewScanner(client llm.Completer, lister FileLister, root string) *Scanner {
	return &Scanner{
		client: client,
		lister: lister,
		root:   root,
		comp: flight.New(defaultSuggestions, func(s []string) bool {
			return len(s) == 0
		}),
	}
}

// MissingDocs returns suggested documentation files to add. Concurrent
// callers share one in-flight scan; on failure the last good result (or
// the fixed default) is returned, never an empty list.
func (s *Scanner) MissingDocs(ctx context.Context) []string {
	return s.comp.Invoke(ctx, flightKey, s.compute)
}

// ScanCount returns how many scans have been requested. Diagnostics only.
func (s *Scanner) ScanCount() int64 {
	return s.comp.Calls()
}

func (s *Scanner) compute(ctx context.Context) ([]string, error) {
	timer := logging.StartTimer(logging.CategorySuggest, "suggest.compute")
	defer timer.Stop()

	files, err := s.lister.ListFiles(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace files: %w", err)
	}
	if len(files) > maxListedFiles {
		files = files[:maxListedFiles]
	}

	prompt := fmt.Sprintf(
		`A project contains the following files:

%s

Which standard documentation files (for example README.md, CONTRIBUTING.md,
CHANGELOG.md, docs/ guides) are missing and worth adding? Respond with a
JSON array of file names only, no commentary.`,
		strings.Join(files, "\n"))

	raw, err := s.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("suggestion scan failed: %w", err)
	}

	suggestions, err := parseSuggestions(raw)
	if err != nil {
		logging.Get(logging.CategorySuggest).Warn("Malformed suggestion output: %v", err)
		return nil, err
	}
	logging.Suggest("Scan produced %d suggestions", len(suggestions))
	return suggestions, nil
}

// parseSuggestions extracts a file list from the model output. A JSON
// array is preferred; bullet or plain lines are accepted as a fallback.
func parseSuggestions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return cleanSuggestions(parsed), nil
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" || strings.ContainsAny(line, " \t") {
			continue
		}
		lines = append(lines, line)
	}
	cleaned := cleanSuggestions(lines)
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no file names found in output")
	}
	return cleaned, nil
}

func cleanSuggestions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WalkLister lists workspace files by walking the tree, skipping
// dot-directories.
type WalkLister struct{}

// ListFiles returns relative paths of regular files under root.
func (WalkLister) ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
