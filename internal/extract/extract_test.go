package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semcode/semcode/internal/graphstore"
)

func names(nodes []graphstore.Node, kind string) []string {
	var out []string
	for _, n := range nodes {
		if n.Kind == kind {
			out = append(out, n.Name)
		}
	}
	return out
}

func TestExtractGo(t *testing.T) {
	src := `package server

import (
	"fmt"
	"net/http"
)

type Server struct {
	addr string
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Start() error {
	fmt.Println("starting")
	return http.ListenAndServe(s.addr, nil)
}
`
	nodes, edges := Extract("proj", "server.go", "go", src)

	assert.ElementsMatch(t, []string{"Server", "NewServer", "Start"}, names(nodes, graphstore.NodeSymbol))
	assert.ElementsMatch(t, []string{"fmt", "net/http"}, names(nodes, graphstore.NodeModule))

	var contains, imports int
	for _, e := range edges {
		switch e.Kind {
		case graphstore.EdgeContains:
			contains++
		case graphstore.EdgeImports:
			imports++
		}
	}
	assert.Equal(t, 3, contains)
	assert.Equal(t, 2, imports)
}

func TestExtractPython(t *testing.T) {
	src := `import os
from collections import defaultdict

class Indexer:
    def run(self):
        pass

async def main():
    pass
`
	nodes, _ := Extract("proj", "indexer.py", "python", src)

	syms := names(nodes, graphstore.NodeSymbol)
	assert.Contains(t, syms, "Indexer")
	assert.Contains(t, syms, "main")
	assert.ElementsMatch(t, []string{"os", "collections"}, names(nodes, graphstore.NodeModule))
}

func TestExtractTypeScript(t *testing.T) {
	src := `import { render } from "react-dom";
const api = require("./api");

export function App() {}
export const handler = async (req) => {};
class Store {}
`
	nodes, _ := Extract("proj", "app.tsx", "typescript", src)

	syms := names(nodes, graphstore.NodeSymbol)
	assert.Contains(t, syms, "App")
	assert.Contains(t, syms, "Store")
	assert.ElementsMatch(t, []string{"react-dom", "./api"}, names(nodes, graphstore.NodeModule))
}

func TestExtractUnknownLanguageYieldsFileNode(t *testing.T) {
	nodes, edges := Extract("proj", "notes.txt", "text", "just words")

	require.Len(t, nodes, 1)
	assert.Equal(t, graphstore.NodeFile, nodes[0].Kind)
	assert.Empty(t, edges)
}

func TestNodeIDsAreStableAndScoped(t *testing.T) {
	assert.Equal(t, FileNodeID("p", "a.go"), FileNodeID("p", "a.go"))
	assert.NotEqual(t, FileNodeID("p", "a.go"), FileNodeID("q", "a.go"))
	assert.NotEqual(t, FileNodeID("p", "a.go"), SymbolNodeID("p", "a.go", "a"))

	// Shared module node across files of the same project.
	n1, _ := Extract("p", "a.go", "go", "import (\n\t\"fmt\"\n)\n")
	n2, _ := Extract("p", "b.go", "go", "import (\n\t\"fmt\"\n)\n")
	assert.Equal(t, names(n1, graphstore.NodeModule), names(n2, graphstore.NodeModule))

	var id1, id2 string
	for _, n := range n1 {
		if n.Kind == graphstore.NodeModule {
			id1 = n.ID
		}
	}
	for _, n := range n2 {
		if n.Kind == graphstore.NodeModule {
			id2 = n.ID
		}
	}
	assert.Equal(t, id1, id2)
}

func TestExtractDeduplicatesSymbols(t *testing.T) {
	src := "func run() {}\nfunc run() {}\n"
	nodes, _ := Extract("p", "dup.go", "go", src)
	assert.Len(t, names(nodes, graphstore.NodeSymbol), 1)
}
