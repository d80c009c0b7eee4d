// Package collector gathers workspace evidence for stop decisions: git
// change-state fingerprints and diffs, the session baseline, the agent's
// last transcript message, and a file watcher that records fingerprints as
// the workspace changes.
package collector

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// alwaysIgnored never produce watch events worth fingerprinting.
var alwaysIgnored = []string{".git", ".stopgate"}

// ignoreSet matches paths against glob patterns relative to a root.
type ignoreSet struct {
	root     string
	patterns []string
}

// loadIgnoreSet merges the configured patterns with those from .gitignore
// and .stopgateignore files found in root.
func loadIgnoreSet(root string, configured []string) (*ignoreSet, error) {
	patterns := append(append([]string{}, alwaysIgnored...), configured...)
	for _, name := range []string{".gitignore", ".stopgateignore"} {
		extra, err := readPatternFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &ignoreSet{root: root, patterns: patterns}, err
		}
		patterns = append(patterns, extra...)
	}
	return &ignoreSet{root: root, patterns: patterns}, nil
}

// match reports whether path, or any directory above it inside root,
// matches a pattern.
func (s *ignoreSet) match(path string) bool {
	rel := path
	if r, err := filepath.Rel(s.root, path); err == nil {
		rel = r
	}
	if rel == "." {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if s.matchName(seg) {
			return true
		}
	}
	return s.matchName(filepath.ToSlash(rel))
}

func (s *ignoreSet) matchName(name string) bool {
	for _, pattern := range s.patterns {
		p := strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

// readPatternFile reads a gitignore-style file and returns non-empty, non-comment lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
