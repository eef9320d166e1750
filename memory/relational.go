package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/nim-bridge/core"
)

// DefaultMaxHops bounds FindPath when called with maxHops <= 0.
const DefaultMaxHops = 3

// MaxHopsLimit is the largest hop bound a caller may request.
const MaxHopsLimit = 16

// Node is a typed vertex in the relational graph.
type Node struct {
	ID         string                 `json:"node_id"`
	Type       string                 `json:"node_type"`
	Properties map[string]interface{} `json:"properties"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Relationship is a typed edge. It is keyed by (From, To, Type).
type Relationship struct {
	From       string                 `json:"from_node"`
	To         string                 `json:"to_node"`
	Type       string                 `json:"rel_type"`
	Properties map[string]interface{} `json:"properties"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Neighbor is a node adjacent to a queried node.
type Neighbor struct {
	NodeID    string `json:"node_id"`
	RelType   string `json:"rel_type"`
	Direction string `json:"direction"` // "out" or "in"
}

// Edge directions reported by Neighbors.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// RelationalGraph holds typed nodes and relationships.
//
// With a primary GraphStore, writes go to the primary and the stored value
// is mirrored into the in-process graph. A write the primary rejects lands
// in the in-process graph only and is queued; the queue is replayed, in
// order, before the next primary operation. Reads prefer the primary.
type RelationalGraph struct {
	primary  GraphStore
	fallback *MemGraph
	opts     options

	// writeMu orders primary writes behind queued replays.
	writeMu sync.Mutex
	pending []graphWrite
}

// graphWrite is a write the primary has not accepted yet.
type graphWrite struct {
	node *Node
	rel  *Relationship
}

// NewRelationalGraph creates a relational tier. primary may be nil.
func NewRelationalGraph(primary GraphStore, opts ...Option) *RelationalGraph {
	o := buildOptions("memory.relational", opts)
	return &RelationalGraph{
		primary:  primary,
		fallback: NewMemGraph(WithClock(o.clock)),
		opts:     o,
	}
}

// Backend names the configured backend.
func (g *RelationalGraph) Backend() string {
	if g.primary != nil {
		return g.primary.Name()
	}
	return g.fallback.Name()
}

// Production reports whether a real backend is configured.
func (g *RelationalGraph) Production() bool {
	return g.primary != nil
}

// Pending returns the number of writes waiting for the primary.
func (g *RelationalGraph) Pending() int {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return len(g.pending)
}

// replayLocked pushes queued writes to the primary and reports whether the
// queue drained. Caller holds writeMu.
func (g *RelationalGraph) replayLocked(ctx context.Context) bool {
	for len(g.pending) > 0 {
		w := g.pending[0]
		var err error
		if w.node != nil {
			_, err = g.primary.UpsertNode(ctx, *w.node)
		} else {
			_, err = g.primary.UpsertRelationship(ctx, *w.rel)
		}
		if err != nil {
			g.opts.logger.Debug("replay still failing", "backend", g.primary.Name(), "pending", len(g.pending), "error", err)
			return false
		}
		g.pending = g.pending[1:]
		if len(g.pending) == 0 {
			g.opts.logger.Info("queued graph writes replayed", "backend", g.primary.Name())
		}
	}
	return true
}

// catchUp replays queued writes before a primary read and reports whether
// the queue drained.
func (g *RelationalGraph) catchUp(ctx context.Context) bool {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.replayLocked(ctx)
}

// CreateNode creates a node or merges properties into an existing one.
func (g *RelationalGraph) CreateNode(ctx context.Context, id, nodeType string, props map[string]interface{}) (Node, Outcome, error) {
	if strings.TrimSpace(id) == "" {
		return Node{}, Outcome{}, core.Invalidf("node id is required")
	}
	n := Node{ID: id, Type: nodeType, Properties: props}

	if g.primary == nil {
		stored, err := g.fallback.UpsertNode(ctx, n)
		if err != nil {
			return Node{}, Outcome{}, fmt.Errorf("upsert node: %w", err)
		}
		return stored, Outcome{Backend: g.fallback.Name()}, nil
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.replayLocked(ctx) {
		stored, err := g.primary.UpsertNode(ctx, n)
		if err == nil {
			if _, err := g.fallback.UpsertNode(ctx, stored); err != nil {
				g.opts.logger.Warn("node mirror failed", "node_id", id, "error", err)
			}
			return stored, Outcome{Backend: g.primary.Name()}, nil
		}
		g.opts.logger.Warn("node write failed, using fallback", "backend", g.primary.Name(), "node_id", id, "error", err)
	}

	stored, err := g.fallback.UpsertNode(ctx, n)
	if err != nil {
		return Node{}, Outcome{}, fmt.Errorf("upsert node: %w", err)
	}
	n.CreatedAt = stored.CreatedAt
	g.pending = append(g.pending, graphWrite{node: &n})
	return stored, Outcome{Backend: g.fallback.Name(), Degraded: true}, nil
}

// CreateRelationship creates an edge or merges properties into an existing
// one. Endpoints need not exist yet.
func (g *RelationalGraph) CreateRelationship(ctx context.Context, from, to, relType string, props map[string]interface{}) (Relationship, Outcome, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return Relationship{}, Outcome{}, core.Invalidf("from_node and to_node are required")
	}
	if strings.TrimSpace(relType) == "" {
		return Relationship{}, Outcome{}, core.Invalidf("rel_type is required")
	}
	r := Relationship{From: from, To: to, Type: relType, Properties: props}

	if g.primary == nil {
		stored, err := g.fallback.UpsertRelationship(ctx, r)
		if err != nil {
			return Relationship{}, Outcome{}, fmt.Errorf("upsert relationship: %w", err)
		}
		return stored, Outcome{Backend: g.fallback.Name()}, nil
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.replayLocked(ctx) {
		stored, err := g.primary.UpsertRelationship(ctx, r)
		if err == nil {
			if _, err := g.fallback.UpsertRelationship(ctx, stored); err != nil {
				g.opts.logger.Warn("relationship mirror failed", "from", from, "to", to, "error", err)
			}
			return stored, Outcome{Backend: g.primary.Name()}, nil
		}
		g.opts.logger.Warn("relationship write failed, using fallback", "backend", g.primary.Name(), "from", from, "to", to, "error", err)
	}

	stored, err := g.fallback.UpsertRelationship(ctx, r)
	if err != nil {
		return Relationship{}, Outcome{}, fmt.Errorf("upsert relationship: %w", err)
	}
	r.CreatedAt = stored.CreatedAt
	g.pending = append(g.pending, graphWrite{rel: &r})
	return stored, Outcome{Backend: g.fallback.Name(), Degraded: true}, nil
}

// FindPath returns the node ids of a shortest undirected path from start to
// end using at most maxHops edges. It returns nil when either node is
// missing or no such path exists.
func (g *RelationalGraph) FindPath(ctx context.Context, start, end string, maxHops int) ([]string, Outcome) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	if g.primary != nil {
		drained := g.catchUp(ctx)
		path, err := g.primary.ShortestPath(ctx, start, end, maxHops)
		switch {
		case err != nil:
			g.opts.logger.Warn("path query failed, using fallback", "backend", g.primary.Name(), "start", start, "end", end, "error", err)
		case path == nil && !drained:
			// The missing link may still be queued.
		default:
			return path, Outcome{Backend: g.primary.Name()}
		}
		path, _ = g.fallback.ShortestPath(ctx, start, end, maxHops)
		return path, Outcome{Backend: g.fallback.Name(), Degraded: true}
	}

	path, _ := g.fallback.ShortestPath(ctx, start, end, maxHops)
	return path, Outcome{Backend: g.fallback.Name()}
}

// Node returns a node, or core.ErrNodeNotFound.
func (g *RelationalGraph) Node(ctx context.Context, id string) (Node, Outcome, error) {
	if g.primary != nil {
		drained := g.catchUp(ctx)
		n, err := g.primary.Node(ctx, id)
		if err == nil {
			return n, Outcome{Backend: g.primary.Name()}, nil
		}
		notFound := core.KindOf(err) == core.KindNotFound
		if notFound && drained {
			return Node{}, Outcome{Backend: g.primary.Name()}, err
		}
		if !notFound {
			g.opts.logger.Warn("node read failed, using fallback", "backend", g.primary.Name(), "node_id", id, "error", err)
		}
		n, err = g.fallback.Node(ctx, id)
		return n, Outcome{Backend: g.fallback.Name(), Degraded: true}, err
	}

	n, err := g.fallback.Node(ctx, id)
	return n, Outcome{Backend: g.fallback.Name()}, err
}

// Neighbors lists nodes adjacent to id in either direction.
func (g *RelationalGraph) Neighbors(ctx context.Context, id string) ([]Neighbor, Outcome) {
	if g.primary != nil {
		if g.catchUp(ctx) {
			ns, err := g.primary.Neighbors(ctx, id)
			if err == nil {
				return ns, Outcome{Backend: g.primary.Name()}
			}
			g.opts.logger.Warn("neighbor query failed, using fallback", "backend", g.primary.Name(), "node_id", id, "error", err)
		}
		ns, _ := g.fallback.Neighbors(ctx, id)
		return ns, Outcome{Backend: g.fallback.Name(), Degraded: true}
	}

	ns, _ := g.fallback.Neighbors(ctx, id)
	return ns, Outcome{Backend: g.fallback.Name()}
}

// Counts returns the number of nodes and relationships.
func (g *RelationalGraph) Counts(ctx context.Context) (int, int, Outcome) {
	if g.primary != nil {
		nodes, rels, err := g.primary.Counts(ctx)
		if err == nil {
			return nodes, rels, Outcome{Backend: g.primary.Name()}
		}
		g.opts.logger.Warn("count query failed, using fallback", "backend", g.primary.Name(), "error", err)
		nodes, rels, _ = g.fallback.Counts(ctx)
		return nodes, rels, Outcome{Backend: g.fallback.Name(), Degraded: true}
	}

	nodes, rels, _ := g.fallback.Counts(ctx)
	return nodes, rels, Outcome{Backend: g.fallback.Name()}
}

// Close releases the primary backend.
func (g *RelationalGraph) Close() error {
	if g.primary != nil {
		return g.primary.Close()
	}
	return nil
}

// mergeProps copies src over dst into a new map.
func mergeProps(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
