package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-bridge/core"
)

func chain(t *testing.T, g *RelationalGraph, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		_, _, err := g.CreateNode(ctx, id, "step", nil)
		require.NoError(t, err)
	}
	for i := 0; i+1 < len(ids); i++ {
		_, _, err := g.CreateRelationship(ctx, ids[i], ids[i+1], "NEXT", nil)
		require.NoError(t, err)
	}
}

func TestFindPathHopBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewRelationalGraph(nil, testOpts()...)
	chain(t, g, "A", "B", "C", "D")

	path, _ := g.FindPath(ctx, "A", "D", 2)
	assert.Nil(t, path)

	path, out := g.FindPath(ctx, "A", "D", 3)
	assert.Equal(t, []string{"A", "B", "C", "D"}, path)
	assert.Equal(t, BackendInMemory, out.Backend)

	// Default bound is 3.
	path, _ = g.FindPath(ctx, "A", "D", 0)
	assert.Equal(t, []string{"A", "B", "C", "D"}, path)

	// Traversal ignores edge direction.
	path, _ = g.FindPath(ctx, "D", "A", 3)
	assert.Equal(t, []string{"D", "C", "B", "A"}, path)
}

func TestFindPathMissingNodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewRelationalGraph(nil, testOpts()...)
	chain(t, g, "A", "B")

	// Edge to a node that was never created.
	_, _, err := g.CreateRelationship(ctx, "B", "ghost", "NEXT", nil)
	require.NoError(t, err)

	path, _ := g.FindPath(ctx, "A", "ghost", 3)
	assert.Nil(t, path)
	path, _ = g.FindPath(ctx, "nope", "A", 3)
	assert.Nil(t, path)
	path, _ = g.FindPath(ctx, "A", "A", 3)
	assert.Equal(t, []string{"A"}, path)
}

func TestCreateNodeMerges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewRelationalGraph(nil, append(testOpts(), WithClock(steppingClock()))...)

	first, _, err := g.CreateNode(ctx, "n1", "agent", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	second, _, err := g.CreateNode(ctx, "n1", "agent", map[string]interface{}{"b": 2})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, second.Properties)

	_, _, err = g.CreateRelationship(ctx, "n1", "n2", "KNOWS", nil)
	require.NoError(t, err)
	_, _, err = g.CreateRelationship(ctx, "n1", "n2", "KNOWS", map[string]interface{}{"w": 1})
	require.NoError(t, err)

	nodes, rels, _ := g.Counts(ctx)
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 1, rels)
}

func TestRelationalValidationAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewRelationalGraph(nil, testOpts()...)

	_, _, err := g.CreateNode(ctx, "", "x", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, _, err = g.CreateRelationship(ctx, "a", "b", "", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, _, err = g.Node(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNodeNotFound)

	chain(t, g, "A", "B", "C")
	ns, _ := g.Neighbors(ctx, "B")
	assert.ElementsMatch(t, []Neighbor{
		{NodeID: "A", RelType: "NEXT", Direction: DirectionIn},
		{NodeID: "C", RelType: "NEXT", Direction: DirectionOut},
	}, ns)
}

// failingGraph fails every read and write.
type failingGraph struct{}

func (failingGraph) Name() string { return "failing" }
func (failingGraph) UpsertNode(context.Context, Node) (Node, error) {
	return Node{}, errBackendDown
}
func (failingGraph) UpsertRelationship(context.Context, Relationship) (Relationship, error) {
	return Relationship{}, errBackendDown
}
func (failingGraph) Node(context.Context, string) (Node, error) { return Node{}, errBackendDown }
func (failingGraph) Neighbors(context.Context, string) ([]Neighbor, error) {
	return nil, errBackendDown
}
func (failingGraph) ShortestPath(context.Context, string, string, int) ([]string, error) {
	return nil, errBackendDown
}
func (failingGraph) Counts(context.Context) (int, int, error) { return 0, 0, errBackendDown }
func (failingGraph) Close() error                             { return nil }

func TestRelationalDegradesOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewRelationalGraph(failingGraph{}, testOpts()...)

	_, out, err := g.CreateNode(ctx, "A", "x", nil)
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	g.CreateNode(ctx, "B", "x", nil)
	g.CreateRelationship(ctx, "A", "B", "R", nil)

	path, out := g.FindPath(ctx, "A", "B", 1)
	assert.True(t, out.Degraded)
	assert.Equal(t, []string{"A", "B"}, path)

	n, out, err := g.Node(ctx, "A")
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, "A", n.ID)
}

// toggleGraph is a MemGraph that can be switched off.
type toggleGraph struct {
	*MemGraph
	fail bool
}

func (g *toggleGraph) Name() string { return "toggle" }

func (g *toggleGraph) UpsertNode(ctx context.Context, n Node) (Node, error) {
	if g.fail {
		return Node{}, errBackendDown
	}
	return g.MemGraph.UpsertNode(ctx, n)
}

func (g *toggleGraph) UpsertRelationship(ctx context.Context, r Relationship) (Relationship, error) {
	if g.fail {
		return Relationship{}, errBackendDown
	}
	return g.MemGraph.UpsertRelationship(ctx, r)
}

func (g *toggleGraph) ShortestPath(ctx context.Context, start, end string, maxHops int) ([]string, error) {
	if g.fail {
		return nil, errBackendDown
	}
	return g.MemGraph.ShortestPath(ctx, start, end, maxHops)
}

func (g *toggleGraph) Node(ctx context.Context, id string) (Node, error) {
	if g.fail {
		return Node{}, errBackendDown
	}
	return g.MemGraph.Node(ctx, id)
}

func TestCreateNodeReturnsPrimaryValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &toggleGraph{MemGraph: NewMemGraph()}
	_, err := primary.MemGraph.UpsertNode(ctx, Node{ID: "a", Type: "agent", Properties: map[string]interface{}{"x": 1}})
	require.NoError(t, err)

	g := NewRelationalGraph(primary, testOpts()...)
	n, out, err := g.CreateNode(ctx, "a", "", map[string]interface{}{"y": 2})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Backend: "toggle"}, out)
	assert.Equal(t, "agent", n.Type)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 2}, n.Properties)
}

func TestQueuedWritesReplayAfterRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &toggleGraph{MemGraph: NewMemGraph(), fail: true}
	g := NewRelationalGraph(primary, testOpts()...)

	chain(t, g, "A", "B")
	assert.Equal(t, 3, g.Pending())

	primary.fail = false
	_, err := primary.MemGraph.Node(ctx, "A")
	require.ErrorIs(t, err, core.ErrNodeNotFound)

	path, out := g.FindPath(ctx, "A", "B", 1)
	assert.Equal(t, []string{"A", "B"}, path)
	assert.Equal(t, Outcome{Backend: "toggle"}, out)
	assert.Zero(t, g.Pending())

	n, out, err := g.Node(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "toggle", out.Backend)
	assert.Equal(t, "step", n.Type)
}

func TestNodeMissOnPrimaryConsultsQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := &toggleGraph{MemGraph: NewMemGraph(), fail: true}
	g := NewRelationalGraph(primary, testOpts()...)

	_, _, err := g.CreateNode(ctx, "A", "step", nil)
	require.NoError(t, err)

	// Reads work again but writes still fail: the queued node is served
	// from the fallback.
	readOnly := &readOnlyGraph{toggleGraph: primary}
	primary.fail = false
	g.primary = readOnly

	n, out, err := g.Node(ctx, "A")
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, "A", n.ID)
	assert.Equal(t, 1, g.Pending())
}

// readOnlyGraph rejects writes but serves reads.
type readOnlyGraph struct {
	*toggleGraph
}

func (readOnlyGraph) UpsertNode(context.Context, Node) (Node, error) {
	return Node{}, errBackendDown
}

func (readOnlyGraph) UpsertRelationship(context.Context, Relationship) (Relationship, error) {
	return Relationship{}, errBackendDown
}
