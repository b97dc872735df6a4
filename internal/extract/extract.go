// Package extract pulls a lightweight structural skeleton out of
// source files: top-level symbols and import relations, matched with
// per-language patterns. It is intentionally not a parser; the graph
// only needs enough structure to answer "what's in this file" and
// "what does it depend on".
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/semcode/semcode/internal/graphstore"
)

type langRules struct {
	symbols []*regexp.Regexp
	imports []*regexp.Regexp
}

// Submatch 1 of every pattern is the captured name.
var rulesByLanguage = map[string]langRules{
	"go": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^func\s+(?:\([^)]+\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
			regexp.MustCompile(`(?m)^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[A-Za-z_.]+\s+)?"([^"]+)"`),
		},
	},
	"python": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
			regexp.MustCompile(`(?m)^class\s+([A-Za-z_][A-Za-z0-9_]*)\s*[(:]`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^import\s+([A-Za-z_][A-Za-z0-9_.]*)`),
			regexp.MustCompile(`(?m)^from\s+([A-Za-z_.][A-Za-z0-9_.]*)\s+import\b`),
		},
	},
	"javascript": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`),
			regexp.MustCompile(`(?m)^(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)\b`),
			regexp.MustCompile(`(?m)^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?\(`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^import\s+.*?from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		},
	},
	"rust": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(?:pub\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)\s*[(<]`),
			regexp.MustCompile(`(?m)^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)\b`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^use\s+([A-Za-z_][A-Za-z0-9_:]*)`),
		},
	},
	"java": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(?:public|private|protected)?\s*(?:abstract\s+|final\s+)?(?:class|interface|enum)\s+([A-Za-z_][A-Za-z0-9_]*)\b`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^import\s+(?:static\s+)?([A-Za-z_][A-Za-z0-9_.]*)\s*;`),
		},
	},
	"ruby": {
		symbols: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*def\s+([A-Za-z_][A-Za-z0-9_?!]*)`),
			regexp.MustCompile(`(?m)^\s*(?:class|module)\s+([A-Z][A-Za-z0-9_]*)`),
		},
		imports: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^require(?:_relative)?\s+['"]([^'"]+)['"]`),
		},
	},
}

func init() {
	rulesByLanguage["typescript"] = rulesByLanguage["javascript"]
}

// FileNodeID derives the stable node ID for a file.
func FileNodeID(projectID, relPath string) string {
	return nodeID(projectID, relPath, "file", "")
}

// SymbolNodeID derives the stable node ID for a symbol within a file.
func SymbolNodeID(projectID, relPath, symbol string) string {
	return nodeID(projectID, relPath, "symbol", symbol)
}

// ModuleNodeID derives the stable node ID for an imported module.
// Modules are project-scoped but not file-scoped: two files importing
// "fmt" share one node.
func ModuleNodeID(projectID, module string) string {
	return nodeID(projectID, "", "module", module)
}

func nodeID(projectID, relPath, kind, name string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", projectID, relPath, kind, name)))
	return hex.EncodeToString(sum[:])[:32]
}

// Extract returns the file's graph contribution: the file node itself,
// one symbol node per detected top-level definition (with a contains
// edge), and one module node per import (with an imports edge).
// Unknown languages yield just the file node.
func Extract(projectID, relPath, language, content string) ([]graphstore.Node, []graphstore.Edge) {
	fileID := FileNodeID(projectID, relPath)
	nodes := []graphstore.Node{{
		ID:       fileID,
		Kind:     graphstore.NodeFile,
		Name:     relPath,
		RelPath:  relPath,
		Language: language,
	}}
	var edges []graphstore.Edge

	rules, ok := rulesByLanguage[language]
	if !ok {
		return nodes, edges
	}

	seenSymbols := make(map[string]struct{})
	for _, re := range rules.symbols {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			name := m[1]
			if _, dup := seenSymbols[name]; dup {
				continue
			}
			seenSymbols[name] = struct{}{}
			symID := SymbolNodeID(projectID, relPath, name)
			nodes = append(nodes, graphstore.Node{
				ID:       symID,
				Kind:     graphstore.NodeSymbol,
				Name:     name,
				RelPath:  relPath,
				Language: language,
			})
			edges = append(edges, graphstore.Edge{From: fileID, To: symID, Kind: graphstore.EdgeContains})
		}
	}

	seenImports := make(map[string]struct{})
	for _, re := range rules.imports {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			module := strings.TrimSpace(m[1])
			if module == "" {
				continue
			}
			if _, dup := seenImports[module]; dup {
				continue
			}
			seenImports[module] = struct{}{}
			modID := ModuleNodeID(projectID, module)
			nodes = append(nodes, graphstore.Node{
				ID:      modID,
				Kind:    graphstore.NodeModule,
				Name:    module,
				RelPath: "",
			})
			edges = append(edges, graphstore.Edge{From: fileID, To: modID, Kind: graphstore.EdgeImports})
		}
	}
	return nodes, edges
}
