package graphstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"

	cerr "github.com/semcode/semcode/internal/errors"
)

// queryCtx bounds a traversal with the configured query timeout.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

// Neighbor is a node reached by traversal, with its distance from the
// start node.
type Neighbor struct {
	Node  Node `json:"node"`
	Depth int  `json:"depth"`
}

// Neighbors returns every node reachable from start within maxDepth
// hops, following edges in both directions. Results are sorted by
// depth, then node ID.
func (s *Store) Neighbors(ctx context.Context, space, start string, maxDepth int) ([]Neighbor, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var out []Neighbor
	err := s.withSession(space, func() error {
		nodes, g, err := s.loadGraph(ctx, space)
		if err != nil {
			return err
		}
		if _, ok := nodes[start]; !ok {
			return cerr.Newf(cerr.KindNotFound, "node %q not found in space %q", start, space)
		}

		adj, err := g.AdjacencyMap()
		if err != nil {
			return fmt.Errorf("failed to build adjacency map: %w", err)
		}
		pred, err := g.PredecessorMap()
		if err != nil {
			return fmt.Errorf("failed to build predecessor map: %w", err)
		}

		visited := map[string]int{start: 0}
		frontier := []string{start}
		for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				for succ := range adj[id] {
					if _, seen := visited[succ]; !seen {
						visited[succ] = depth
						next = append(next, succ)
					}
				}
				for prev := range pred[id] {
					if _, seen := visited[prev]; !seen {
						visited[prev] = depth
						next = append(next, prev)
					}
				}
			}
			frontier = next
		}

		for id, depth := range visited {
			if id == start {
				continue
			}
			out = append(out, Neighbor{Node: nodes[id], Depth: depth})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Depth != out[j].Depth {
				return out[i].Depth < out[j].Depth
			}
			return out[i].Node.ID < out[j].Node.ID
		})
		return nil
	})
	return out, err
}

// PathBetween returns the shortest directed path from one node to
// another, inclusive of both endpoints.
func (s *Store) PathBetween(ctx context.Context, space, from, to string) ([]Node, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var out []Node
	err := s.withSession(space, func() error {
		nodes, g, err := s.loadGraph(ctx, space)
		if err != nil {
			return err
		}
		for _, id := range []string{from, to} {
			if _, ok := nodes[id]; !ok {
				return cerr.Newf(cerr.KindNotFound, "node %q not found in space %q", id, space)
			}
		}

		path, err := graph.ShortestPath(g, from, to)
		if err != nil {
			if errors.Is(err, graph.ErrTargetNotReachable) {
				return cerr.Newf(cerr.KindNotFound, "no path from %q to %q", from, to)
			}
			return fmt.Errorf("shortest path failed: %w", err)
		}
		for _, id := range path {
			out = append(out, nodes[id])
		}
		return nil
	})
	return out, err
}

// NodesByFile returns the nodes extracted from one file.
func (s *Store) NodesByFile(ctx context.Context, space, relPath string) ([]Node, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, rel_path, language FROM nodes
		WHERE space = ? AND rel_path = ? ORDER BY id`, space, relPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Kind, &n.Name, &n.RelPath, &n.Language); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// loadGraph materializes the space into a directed graph for
// traversal. Edges whose endpoints have not been written yet are
// skipped.
func (s *Store) loadGraph(ctx context.Context, space string) (map[string]Node, graph.Graph[string, string], error) {
	nodes := make(map[string]Node)
	g := graph.New(graph.StringHash, graph.Directed())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, rel_path, language FROM nodes WHERE space = ?`, space)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Kind, &n.Name, &n.RelPath, &n.Language); err != nil {
			return nil, nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes[n.ID] = n
		if err := g.AddVertex(n.ID); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, nil, fmt.Errorf("failed to add vertex: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `SELECT src, dst FROM edges WHERE space = ?`, space)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var src, dst string
		if err := edgeRows.Scan(&src, &dst); err != nil {
			return nil, nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if err := g.AddEdge(src, dst); err != nil &&
			!errors.Is(err, graph.ErrEdgeAlreadyExists) &&
			!errors.Is(err, graph.ErrVertexNotFound) {
			return nil, nil, fmt.Errorf("failed to add edge: %w", err)
		}
	}
	return nodes, g, edgeRows.Err()
}
