package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/becomeliminal/nim-bridge/core"
)

// BackendInMemory names the in-process fallback implementations.
const BackendInMemory = "in-memory"

// Outcome reports which backend served a tier call.
// Degraded is set when the configured backend failed and the in-process
// fallback answered instead.
type Outcome struct {
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// KVStore is the session tier backend.
// Implementations: ristretto.Store (production), MapKV (fallback).
type KVStore interface {
	// Name identifies the backend in status reports.
	Name() string

	// Set stores value under key. A positive ttl expires the key on
	// backends that support it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// VectorHit is a raw similarity match from a VectorStore.
type VectorHit struct {
	VectorID string
	Score    float64
}

// VectorStore is the semantic tier backend.
// Implementations: chromem.Store. The fallback is keyword scoring inside
// SemanticIndex, so there is no in-memory VectorStore.
type VectorStore interface {
	Name() string

	// Add stores a document. The embedding must be set.
	Add(ctx context.Context, doc Document, embedding []float32) error

	// Query returns up to limit hits ordered by similarity (highest first).
	Query(ctx context.Context, embedding []float32, limit int) ([]VectorHit, error)

	// Delete removes a document by vector id.
	Delete(ctx context.Context, vectorID string) error

	// Count returns the number of stored documents.
	Count() int

	// Documents returns every stored document, for reloading a persisted
	// index. dims is the embedding size the documents were stored with.
	Documents(ctx context.Context, dims int) ([]Document, error)

	Close() error
}

// GraphStore is the relational tier backend.
// Implementations: sqlite.Store (production), MemGraph (fallback).
type GraphStore interface {
	Name() string

	// UpsertNode creates the node or merges properties into an existing one
	// and returns the stored node.
	UpsertNode(ctx context.Context, node Node) (Node, error)

	// UpsertRelationship creates the edge keyed by (from, to, type) or
	// merges properties into an existing one.
	UpsertRelationship(ctx context.Context, rel Relationship) (Relationship, error)

	// Node returns a node, or core.ErrNodeNotFound.
	Node(ctx context.Context, id string) (Node, error)

	// Neighbors lists nodes adjacent to id in either direction.
	Neighbors(ctx context.Context, id string) ([]Neighbor, error)

	// ShortestPath returns node ids from start to end using at most maxHops
	// undirected edges, or nil when no such path exists.
	ShortestPath(ctx context.Context, start, end string, maxHops int) ([]string, error)

	// Counts returns the number of nodes and relationships.
	Counts(ctx context.Context) (nodes int, relationships int, err error)

	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (deterministic hash vectors).
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

type options struct {
	logger *slog.Logger
	clock  core.Clock
}

// Option configures a memory tier.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c core.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		logger: slog.Default(),
		clock:  core.SystemClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}
