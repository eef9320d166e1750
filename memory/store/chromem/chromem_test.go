package chromem

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-bridge/memory"
	"github.com/becomeliminal/nim-bridge/memory/embedder/mock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreQueryRanksIdenticalFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	emb := mock.NewWithDimensions(32)

	for i, text := range []string{"alpha", "beta", "gamma"} {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		doc := memory.Document{VectorID: []string{"vec_0", "vec_1", "vec_2"}[i], DocID: text, Content: text}
		require.NoError(t, s.Add(ctx, doc, v))
	}
	assert.Equal(t, 3, s.Count())

	q, err := emb.Embed(ctx, "beta")
	require.NoError(t, err)

	// Limit above the collection size is clamped.
	hits, err := s.Query(ctx, q, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "vec_1", hits[0].VectorID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestStoreEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	v, err := mock.NewWithDimensions(8).Embed(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, memory.Document{VectorID: "vec_0", Content: "x"}, v))
	require.NoError(t, s.Delete(ctx, "vec_0"))
	assert.Equal(t, 0, s.Count())
}

func TestStoreRejectsEmptyEmbedding(t *testing.T) {
	s := newTestStore(t)
	err := s.Add(context.Background(), memory.Document{VectorID: "vec_0"}, nil)
	assert.Error(t, err)
}

func TestPersistentStoreRestoresIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emb := mock.NewWithDimensions(32)

	store, err := NewPersistent(dir, WithLogger(logger))
	require.NoError(t, err)
	idx := memory.NewSemanticIndex(store, emb, memory.WithLogger(logger))
	for _, text := range []string{"alpha", "beta", "gamma"} {
		idx.Index(ctx, text, text, map[string]interface{}{"source": "seed"})
	}
	require.NoError(t, idx.Close())

	reopened, err := NewPersistent(dir, WithLogger(logger))
	require.NoError(t, err)
	idx = memory.NewSemanticIndex(reopened, emb, memory.WithLogger(logger))
	defer idx.Close()

	require.Equal(t, 3, idx.Len())
	doc, err := idx.Get("vec_2")
	require.NoError(t, err)
	assert.Equal(t, "gamma", doc.DocID)
	assert.Equal(t, "seed", doc.Metadata["source"])

	id, _ := idx.Index(ctx, "delta", "delta", nil)
	assert.Equal(t, "vec_3", id)
	assert.Equal(t, 4, reopened.Count())

	hits, out := idx.Search(ctx, "alpha beta", 2)
	assert.False(t, out.Degraded)
	assert.Len(t, hits, 2)
}
