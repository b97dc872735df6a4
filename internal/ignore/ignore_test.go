package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newMatcher(t *testing.T, root string) *Matcher {
	t.Helper()
	m, err := NewMatcher(root, nil)
	require.NoError(t, err)
	return m
}

func TestDefaultsIgnoreWellKnownDirs(t *testing.T) {
	m := newMatcher(t, t.TempDir())

	assert.True(t, m.Matches(".git", true))
	assert.True(t, m.Matches("node_modules", true))
	assert.True(t, m.Matches("node_modules/react/index.js", false))
	assert.True(t, m.Matches("sub/vendor/lib.go", false))
	assert.False(t, m.Matches("main.go", false))
	assert.False(t, m.Matches("internal/server/server.go", false))
}

func TestGitignorePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", `
# generated output
*.gen.go
/secrets.yaml
docs/**/*.html
tmp/
`)
	m := newMatcher(t, root)

	assert.True(t, m.Matches("api.gen.go", false))
	assert.True(t, m.Matches("deep/nested/types.gen.go", false))
	assert.True(t, m.Matches("secrets.yaml", false))
	assert.False(t, m.Matches("config/secrets.yaml", false), "leading slash anchors to root")
	assert.True(t, m.Matches("docs/site/index.html", false))
	assert.True(t, m.Matches("tmp", true))
	assert.True(t, m.Matches("tmp/scratch.txt", false))
	assert.False(t, m.Matches("tmp.go", false))
}

func TestNegationLastMatchWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", `
*.yaml
!keep.yaml
`)
	m := newMatcher(t, root)

	assert.True(t, m.Matches("config.yaml", false))
	assert.False(t, m.Matches("keep.yaml", false))
}

func TestDirOnlyPatternSkipsFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "cache/\n")
	m := newMatcher(t, root)

	assert.True(t, m.Matches("cache", true))
	assert.False(t, m.Matches("cache", false), "dir-only pattern must not match a plain file")
}

func TestFirstLevelGitignoreIsScoped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "service/.gitignore", "*.out\n")
	m := newMatcher(t, root)

	assert.True(t, m.Matches("service/trace.out", false))
	assert.False(t, m.Matches("other/trace.out", false))
}

func TestIndexignoreOverridesGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "fixtures/\n")
	writeFile(t, root, IndexIgnoreFile, "!fixtures/\n*.sql\n")
	m := newMatcher(t, root)

	assert.False(t, m.Matches("fixtures", true), ".indexignore re-includes")
	assert.True(t, m.Matches("schema.sql", false))
}

func TestReloadPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	m := newMatcher(t, root)
	assert.False(t, m.Matches("notes.txt", false))

	writeFile(t, root, ".gitignore", "notes.txt\n")
	require.NoError(t, m.Reload())
	assert.True(t, m.Matches("notes.txt", false))
}

func TestIsRuleFile(t *testing.T) {
	m := newMatcher(t, t.TempDir())

	assert.True(t, m.IsRuleFile(".gitignore"))
	assert.True(t, m.IsRuleFile(".indexignore"))
	assert.True(t, m.IsRuleFile("pkg/.gitignore"))
	assert.False(t, m.IsRuleFile("a/b/.gitignore"), "only root and first-level files are honored")
	assert.False(t, m.IsRuleFile("main.go"))
}
