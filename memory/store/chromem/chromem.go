// Package chromem implements memory.VectorStore on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-bridge/memory"
)

// DefaultCollection names the collection documents are stored in.
const DefaultCollection = "semantic_memory"

// Metadata keys stored alongside each chromem document.
const (
	metaDocID     = "doc_id"
	metaIndexedAt = "indexed_at"
	metaMetadata  = "metadata"
)

// Store wraps a chromem-go collection.
type Store struct {
	db     *chromem.DB
	col    *chromem.Collection
	logger *slog.Logger

	// Guards count-then-query: chromem rejects queries asking for more
	// results than the collection holds.
	mu sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an in-memory store.
func New(opts ...Option) (*Store, error) {
	return newStore(chromem.NewDB(), opts)
}

// NewPersistent creates a store persisted under dir.
func NewPersistent(dir string, opts ...Option) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return newStore(db, opts)
}

func newStore(db *chromem.DB, opts []Option) (*Store, error) {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store.chromem")

	// No embedding func: embeddings are always supplied by the caller.
	// Default distance is cosine.
	col, err := db.GetOrCreateCollection(DefaultCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.col = col
	return s, nil
}

func (s *Store) Name() string {
	return "chromem"
}

// Add stores the document under its vector id.
func (s *Store) Add(ctx context.Context, doc memory.Document, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("add document %s: empty embedding", doc.VectorID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	err = s.col.AddDocument(ctx, chromem.Document{
		ID:        doc.VectorID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			metaDocID:     doc.DocID,
			metaIndexedAt: doc.IndexedAt.UTC().Format(time.RFC3339Nano),
			metaMetadata:  string(meta),
		},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.logger.Debug("stored document", "vector_id", doc.VectorID, "doc_id", doc.DocID)
	return nil
}

// Query returns up to limit hits by cosine similarity.
func (s *Store) Query(ctx context.Context, embedding []float32, limit int) ([]memory.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if n == 0 || limit <= 0 {
		return []memory.VectorHit{}, nil
	}
	if limit > n {
		limit = n
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.VectorHit{VectorID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Delete removes a document by vector id.
func (s *Store) Delete(ctx context.Context, vectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.col.Delete(ctx, nil, nil, vectorID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Documents returns every stored document. chromem has no scan, so this
// queries with a unit vector of size dims for the whole collection.
func (s *Store) Documents(ctx context.Context, dims int) ([]memory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if dims <= 0 {
		return nil, fmt.Errorf("list documents: invalid dimensions %d", dims)
	}
	probe := make([]float32, dims)
	probe[0] = 1

	results, err := s.col.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	docs := make([]memory.Document, 0, len(results))
	for _, r := range results {
		doc := memory.Document{
			VectorID: r.ID,
			DocID:    r.Metadata[metaDocID],
			Content:  r.Content,
			Metadata: map[string]interface{}{},
			Embedded: true,
		}
		if raw := r.Metadata[metaMetadata]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &doc.Metadata); err != nil {
				s.logger.Warn("bad stored metadata", "vector_id", r.ID, "error", err)
			}
		}
		doc.IndexedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata[metaIndexedAt])
		docs = append(docs, doc)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count()
}

// Close releases resources. Persistent databases write on every change,
// so there is nothing to flush.
func (s *Store) Close() error {
	return nil
}
