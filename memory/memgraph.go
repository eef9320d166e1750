package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-bridge/core"
)

// MemGraph is the in-process GraphStore fallback. Paths are found with a
// breadth-first search over undirected adjacency.
type MemGraph struct {
	opts options

	mu    sync.RWMutex
	nodes map[string]Node
	rels  map[relKey]Relationship
	order []relKey
}

type relKey struct {
	from, to, typ string
}

// NewMemGraph creates an empty graph.
func NewMemGraph(opts ...Option) *MemGraph {
	return &MemGraph{
		opts:  buildOptions("memory.memgraph", opts),
		nodes: make(map[string]Node),
		rels:  make(map[relKey]Relationship),
	}
}

func (g *MemGraph) Name() string {
	return BackendInMemory
}

func (g *MemGraph) UpsertNode(_ context.Context, n Node) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[n.ID]; ok {
		existing.Properties = mergeProps(existing.Properties, n.Properties)
		if n.Type != "" {
			existing.Type = n.Type
		}
		g.nodes[n.ID] = existing
		return cloneNode(existing), nil
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = g.opts.clock.Now()
	}
	n.Properties = mergeProps(nil, n.Properties)
	g.nodes[n.ID] = n
	return cloneNode(n), nil
}

func (g *MemGraph) UpsertRelationship(_ context.Context, r Relationship) (Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := relKey{r.From, r.To, r.Type}
	if existing, ok := g.rels[key]; ok {
		existing.Properties = mergeProps(existing.Properties, r.Properties)
		g.rels[key] = existing
		return cloneRel(existing), nil
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = g.opts.clock.Now()
	}
	r.Properties = mergeProps(nil, r.Properties)
	g.rels[key] = r
	g.order = append(g.order, key)
	return cloneRel(r), nil
}

func (g *MemGraph) Node(_ context.Context, id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	return cloneNode(n), nil
}

func (g *MemGraph) Neighbors(_ context.Context, id string) ([]Neighbor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Neighbor, 0)
	for _, key := range g.order {
		switch id {
		case key.from:
			out = append(out, Neighbor{NodeID: key.to, RelType: key.typ, Direction: DirectionOut})
		case key.to:
			out = append(out, Neighbor{NodeID: key.from, RelType: key.typ, Direction: DirectionIn})
		}
	}
	return out, nil
}

// ShortestPath runs a BFS from start, skipping any path already longer than
// maxHops nodes past the start.
func (g *MemGraph) ShortestPath(_ context.Context, start, end string, maxHops int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[start]; !ok {
		return nil, nil
	}
	if _, ok := g.nodes[end]; !ok {
		return nil, nil
	}
	if start == end {
		return []string{start}, nil
	}

	adj := g.adjacency()
	visited := map[string]bool{start: true}
	queue := [][]string{{start}}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		// path holds len(path)-1 edges; extending it adds one more.
		if len(path) > maxHops {
			continue
		}

		current := path[len(path)-1]
		for _, next := range adj[current] {
			if visited[next] {
				continue
			}
			extended := append(append([]string(nil), path...), next)
			if next == end {
				return extended, nil
			}
			visited[next] = true
			queue = append(queue, extended)
		}
	}
	return nil, nil
}

// adjacency builds a sorted undirected neighbor list. Caller holds g.mu.
func (g *MemGraph) adjacency() map[string][]string {
	seen := make(map[string]map[string]bool)
	link := func(a, b string) {
		if seen[a] == nil {
			seen[a] = make(map[string]bool)
		}
		seen[a][b] = true
	}
	for key := range g.rels {
		link(key.from, key.to)
		link(key.to, key.from)
	}

	adj := make(map[string][]string, len(seen))
	for n, set := range seen {
		list := make([]string, 0, len(set))
		for m := range set {
			list = append(list, m)
		}
		sort.Strings(list)
		adj[n] = list
	}
	return adj
}

func (g *MemGraph) Counts(_ context.Context) (int, int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.rels), nil
}

func (g *MemGraph) Close() error {
	return nil
}

func cloneNode(n Node) Node {
	n.Properties = mergeProps(nil, n.Properties)
	return n
}

func cloneRel(r Relationship) Relationship {
	r.Properties = mergeProps(nil, r.Properties)
	return r
}
