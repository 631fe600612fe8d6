package scanner

import "path/filepath"

// DefaultExcludedPatterns mirrors original_source/server/FileScanner.cpp's
// DEFAULT_EXCLUDED_DIRS.
var DefaultExcludedPatterns = []string{
	".git", ".svn", ".hg", ".idea", ".vscode", "__pycache__", "node_modules", ".repo", ".cache",
}

// isExcluded reports whether dirName matches one of patterns, either by
// exact equality or, for patterns containing a wildcard, by shell-glob
// rules (path/filepath.Match plays the role of the original's fnmatch).
// Exclusion only ever applies to directory basenames, never files.
func isExcluded(dirName string, patterns []string) bool {
	for _, p := range patterns {
		if p == dirName {
			return true
		}
		if containsWildcard(p) {
			if ok, err := filepath.Match(p, dirName); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// containsWildcard matches original_source/server/FileScanner.cpp:52,81,
// which only routes a pattern through fnmatch when it contains '*'.
func containsWildcard(pattern string) bool {
	for _, r := range pattern {
		if r == '*' {
			return true
		}
	}
	return false
}

// ancestorExcluded walks every component of path's parent chain, applying
// the same equality-or-glob rule as isExcluded. Grounded on
// is_path_contains_excluded_directory in FileScanner.cpp.
func ancestorExcluded(path string, patterns []string) bool {
	dir := filepath.Dir(path)
	for {
		base := filepath.Base(dir)
		if base == "" || base == "." || base == string(filepath.Separator) {
			return false
		}
		if isExcluded(base, patterns) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
