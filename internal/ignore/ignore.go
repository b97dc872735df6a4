// Package ignore decides which paths the indexer skips, using gitignore
// pattern semantics. Rules come from built-in defaults, the project's
// .gitignore files (root and first-level directories), and an optional
// .indexignore with the highest precedence.
package ignore

import (
	"bufio"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// IndexIgnoreFile is the project-local override file. Its rules are
// applied after all .gitignore rules.
const IndexIgnoreFile = ".indexignore"

// DefaultPatterns are always active, before any project file.
var DefaultPatterns = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"target/",
	"__pycache__/",
	".venv/",
	"venv/",
	".idea/",
	".vscode/",
	".DS_Store",
	"*.min.js",
	"*.min.css",
	"*.lock",
	"*.log",
}

type rule struct {
	pattern  string
	segments []string
	negate   bool
	dirOnly  bool
	anchored bool
	// base restricts the rule to paths under this directory (for
	// .gitignore files found below the root). Empty means root.
	base string
}

// Matcher evaluates ignore rules for one project root. Reload swaps the
// rule set atomically, so a Matcher can be shared across walker and
// watcher goroutines.
type Matcher struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules []rule
}

// NewMatcher builds a matcher for root and loads its rule files.
func NewMatcher(root string, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Matcher{root: root, logger: logger}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads all rule files and swaps the active rule set.
func (m *Matcher) Reload() error {
	rules := make([]rule, 0, len(DefaultPatterns))
	for _, p := range DefaultPatterns {
		if r, ok := compile(p, ""); ok {
			rules = append(rules, r)
		}
	}

	rules = append(rules, m.loadFile(filepath.Join(m.root, ".gitignore"), "")...)

	// First-level directory .gitignore files scope to their directory.
	entries, err := os.ReadDir(m.root)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			sub := filepath.Join(m.root, e.Name(), ".gitignore")
			rules = append(rules, m.loadFile(sub, e.Name())...)
		}
	}

	rules = append(rules, m.loadFile(filepath.Join(m.root, IndexIgnoreFile), "")...)

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
	return nil
}

// RuleFiles returns the rule file paths (relative to root) whose changes
// should trigger a reload.
func (m *Matcher) RuleFiles() []string {
	files := []string{".gitignore", IndexIgnoreFile}
	entries, err := os.ReadDir(m.root)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				files = append(files, path.Join(e.Name(), ".gitignore"))
			}
		}
	}
	return files
}

// IsRuleFile reports whether relPath is one of the matcher's rule files.
func (m *Matcher) IsRuleFile(relPath string) bool {
	base := path.Base(relPath)
	if base != ".gitignore" && base != IndexIgnoreFile {
		return false
	}
	// Only root and first-level .gitignore files are honored.
	return strings.Count(relPath, "/") <= 1
}

func (m *Matcher) loadFile(filePath, base string) []rule {
	f, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var rules []rule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if r, ok := compile(scanner.Text(), base); ok {
			rules = append(rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warn("failed to read ignore file",
			slog.String("path", filePath), slog.String("error", err.Error()))
	}
	return rules
}

func compile(line, base string) (rule, bool) {
	line = strings.TrimRight(strings.TrimLeft(line, " \t"), " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	r := rule{base: base}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}
	r.pattern = line
	r.segments = strings.Split(line, "/")
	return r, true
}

// Matches reports whether relPath (slash-separated, relative to root)
// is ignored. A path is ignored when the last matching rule is not a
// negation, or when any ancestor directory is ignored.
func (m *Matcher) Matches(relPath string, isDir bool) bool {
	relPath = strings.Trim(path.Clean(relPath), "/")
	if relPath == "." || relPath == "" {
		return false
	}

	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()

	if matched, ignored := evaluate(rules, relPath, isDir); matched {
		return ignored
	}

	// A file inside an ignored directory is ignored.
	for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if matched, ignored := evaluate(rules, dir, true); matched && ignored {
			return true
		}
	}
	return false
}

func evaluate(rules []rule, relPath string, isDir bool) (matched, ignored bool) {
	for _, r := range rules {
		if r.matches(relPath, isDir) {
			matched = true
			ignored = !r.negate
		}
	}
	return matched, ignored
}

func (r rule) matches(relPath string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if r.base != "" {
		prefix := r.base + "/"
		if !strings.HasPrefix(relPath, prefix) {
			return false
		}
		relPath = strings.TrimPrefix(relPath, prefix)
	}

	if !r.anchored {
		// Bare pattern: match the basename at any depth.
		ok, err := path.Match(r.pattern, path.Base(relPath))
		return err == nil && ok
	}
	return matchSegments(r.segments, strings.Split(relPath, "/"))
}

// matchSegments matches pattern segments against path segments.
// "**" spans zero or more path segments; other segments use fnmatch
// without crossing slashes.
func matchSegments(pat, pathSegs []string) bool {
	if len(pat) == 0 {
		return len(pathSegs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(pathSegs); i++ {
			if matchSegments(pat[1:], pathSegs[i:]) {
				return true
			}
		}
		return false
	}
	if len(pathSegs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], pathSegs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], pathSegs[1:])
}
