package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/memory/embedder/mock"
)

// DefaultTopK is the number of hits returned when Search gets topK <= 0.
const DefaultTopK = 5

// Document is an indexed piece of content.
type Document struct {
	VectorID  string                 `json:"vector_id"`
	DocID     string                 `json:"doc_id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	IndexedAt time.Time              `json:"indexed_at"`

	// Embedded reports whether the document reached the vector backend.
	Embedded bool `json:"embedded"`
}

// Hit is a ranked search result. Both backends produce the same shape.
type Hit struct {
	DocID     string                 `json:"doc_id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Score     float64                `json:"score"`
	VectorID  string                 `json:"vector_id"`
	IndexedAt time.Time              `json:"indexed_at"`
}

// SemanticIndex stores documents for similarity retrieval.
//
// Documents are always kept in process, keyed by vector id. With a
// VectorStore configured, they are also embedded and indexed there, and
// Search ranks by vector similarity. Without one (or when it fails),
// Search ranks by keyword overlap. Documents that missed the store while
// it was failing are added again before the next vector search.
type SemanticIndex struct {
	store    VectorStore
	embedder Embedder
	opts     options

	mu    sync.RWMutex
	next  int
	docs  map[string]Document
	order []string
}

// NewSemanticIndex creates a semantic tier. store may be nil; a nil
// embedder uses deterministic hash embeddings.
func NewSemanticIndex(store VectorStore, embedder Embedder, opts ...Option) *SemanticIndex {
	if embedder == nil {
		embedder = mock.New()
	}
	s := &SemanticIndex{
		store:    store,
		embedder: embedder,
		opts:     buildOptions("memory.semantic", opts),
		docs:     make(map[string]Document),
	}
	if store != nil {
		s.restore(context.Background())
	}
	return s
}

// restore loads documents already held by a persistent store and moves the
// vector id counter past them.
func (s *SemanticIndex) restore(ctx context.Context) {
	docs, err := s.store.Documents(ctx, s.embedder.Dimensions())
	if err != nil {
		s.opts.logger.Warn("loading stored documents failed", "backend", s.store.Name(), "error", err)
		return
	}

	sort.Slice(docs, func(i, j int) bool {
		return vectorSeq(docs[i].VectorID) < vectorSeq(docs[j].VectorID)
	})
	for _, doc := range docs {
		doc.Embedded = true
		s.docs[doc.VectorID] = doc
		s.order = append(s.order, doc.VectorID)
		if n := vectorSeq(doc.VectorID); n >= s.next {
			s.next = n + 1
		}
	}
	if len(docs) > 0 {
		s.opts.logger.Info("restored documents", "backend", s.store.Name(), "count", len(docs), "next", s.next)
	}
}

// vectorSeq parses the N of "vec_N", or -1.
func vectorSeq(vectorID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(vectorID, "vec_"))
	if err != nil || !strings.HasPrefix(vectorID, "vec_") {
		return -1
	}
	return n
}

// Backend names the configured backend.
func (s *SemanticIndex) Backend() string {
	if s.store != nil {
		return s.store.Name()
	}
	return BackendInMemory
}

// Production reports whether a real backend is configured.
func (s *SemanticIndex) Production() bool {
	return s.store != nil
}

// Index stores a document and returns its vector id ("vec_N", monotonic).
func (s *SemanticIndex) Index(ctx context.Context, docID, content string, metadata map[string]interface{}) (string, Outcome) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	s.mu.Lock()
	vectorID := fmt.Sprintf("vec_%d", s.next)
	s.next++
	s.mu.Unlock()

	doc := Document{
		VectorID:  vectorID,
		DocID:     docID,
		Content:   content,
		Metadata:  metadata,
		IndexedAt: s.opts.clock.Now(),
	}

	out := Outcome{Backend: BackendInMemory}
	if s.store != nil {
		if err := s.addToStore(ctx, doc); err != nil {
			s.opts.logger.Warn("vector insert failed, using fallback", "backend", s.store.Name(), "vector_id", vectorID, "error", err)
			out.Degraded = true
		} else {
			doc.Embedded = true
			out.Backend = s.store.Name()
		}
	}

	s.mu.Lock()
	s.docs[vectorID] = doc
	s.order = append(s.order, vectorID)
	s.mu.Unlock()

	return vectorID, out
}

func (s *SemanticIndex) addToStore(ctx context.Context, doc Document) error {
	embedding, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	return s.store.Add(ctx, doc, embedding)
}

// Search returns up to topK documents ranked by relevance to query.
func (s *SemanticIndex) Search(ctx context.Context, query string, topK int) ([]Hit, Outcome) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	if s.store != nil {
		s.flushPending(ctx)
		hits, err := s.vectorSearch(ctx, query, topK)
		if err == nil {
			return hits, Outcome{Backend: s.store.Name()}
		}
		s.opts.logger.Warn("vector search failed, using keyword fallback", "backend", s.store.Name(), "error", err)
		return s.keywordSearch(query, topK), Outcome{Backend: BackendInMemory, Degraded: true}
	}
	return s.keywordSearch(query, topK), Outcome{Backend: BackendInMemory}
}

// flushPending adds documents that missed the store. It stops at the first
// failure; the rest wait for the next call.
func (s *SemanticIndex) flushPending(ctx context.Context) {
	s.mu.RLock()
	var pending []Document
	for _, id := range s.order {
		if doc := s.docs[id]; !doc.Embedded {
			pending = append(pending, doc)
		}
	}
	s.mu.RUnlock()

	for _, doc := range pending {
		if err := s.addToStore(ctx, doc); err != nil {
			s.opts.logger.Debug("pending document still not stored", "vector_id", doc.VectorID, "error", err)
			return
		}

		s.mu.Lock()
		cur, ok := s.docs[doc.VectorID]
		if ok {
			cur.Embedded = true
			s.docs[doc.VectorID] = cur
		}
		s.mu.Unlock()

		if !ok {
			// Deleted while being stored.
			_ = s.store.Delete(ctx, doc.VectorID)
			continue
		}
		s.opts.logger.Info("stored pending document", "backend", s.store.Name(), "vector_id", doc.VectorID)
	}
}

func (s *SemanticIndex) vectorSearch(ctx context.Context, query string, topK int) ([]Hit, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	raw, err := s.store.Query(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		doc, ok := s.docs[r.VectorID]
		if !ok {
			continue
		}
		hits = append(hits, toHit(doc, r.Score))
	}
	return hits, nil
}

// keywordSearch scores each document by the fraction of distinct query
// words it contains. Documents with no overlap are dropped.
func (s *SemanticIndex) keywordSearch(query string, topK int) []Hit {
	queryWords := wordSet(query)
	if len(queryWords) == 0 {
		return []Hit{}
	}

	s.mu.RLock()
	hits := make([]Hit, 0)
	for _, id := range s.order {
		doc := s.docs[id]
		contentWords := wordSet(doc.Content)
		overlap := 0
		for w := range queryWords {
			if _, ok := contentWords[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hits = append(hits, toHit(doc, float64(overlap)/float64(len(queryWords))))
	}
	s.mu.RUnlock()

	// Stable: ties keep indexing order.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Get returns the document with the given vector id.
func (s *SemanticIndex) Get(vectorID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[vectorID]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, vectorID)
	}
	return doc, nil
}

// Delete removes a document and reports whether it existed.
func (s *SemanticIndex) Delete(ctx context.Context, vectorID string) (bool, Outcome) {
	out := Outcome{Backend: s.Backend()}

	s.mu.Lock()
	doc, ok := s.docs[vectorID]
	if ok {
		delete(s.docs, vectorID)
		for i, id := range s.order {
			if id == vectorID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.store != nil && (!ok || doc.Embedded) {
		if err := s.store.Delete(ctx, vectorID); err != nil {
			s.opts.logger.Warn("vector delete failed", "backend", s.store.Name(), "vector_id", vectorID, "error", err)
			out = Outcome{Backend: BackendInMemory, Degraded: true}
		}
	}
	return ok, out
}

// Len returns the number of indexed documents.
func (s *SemanticIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close releases the vector backend.
func (s *SemanticIndex) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func toHit(doc Document, score float64) Hit {
	return Hit{
		DocID:     doc.DocID,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Score:     score,
		VectorID:  doc.VectorID,
		IndexedAt: doc.IndexedAt,
	}
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
