// Package sqlite implements memory.GraphStore on SQLite (modernc.org/sqlite,
// pure Go). Shortest paths are found breadth-first, one query per level.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/memory"
)

// Store is a graph persisted in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("graph: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("graph: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			id         TEXT PRIMARY KEY,
			node_type  TEXT NOT NULL DEFAULT '',
			properties TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS relationships (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node  TEXT NOT NULL,
			to_node    TEXT NOT NULL,
			rel_type   TEXT NOT NULL,
			properties TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE (from_node, to_node, rel_type)
		);

		CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_node);
		CREATE INDEX IF NOT EXISTS idx_rel_to   ON relationships(to_node);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Name() string {
	return "sqlite"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertNode inserts the node or merges its properties into the stored one.
func (s *Store) UpsertNode(ctx context.Context, n memory.Node) (memory.Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Node{}, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanNode(tx.QueryRowContext(ctx,
		`SELECT id, node_type, properties, created_at FROM nodes WHERE id = ?`, n.ID))
	switch {
	case err == nil:
		existing.Properties = merge(existing.Properties, n.Properties)
		if n.Type != "" {
			existing.Type = n.Type
		}
		n = existing
	case errors.Is(err, sql.ErrNoRows):
		if n.CreatedAt.IsZero() {
			n.CreatedAt = s.now()
		}
		n.Properties = merge(nil, n.Properties)
	default:
		return memory.Node{}, fmt.Errorf("graph: read node: %w", err)
	}

	props, err := json.Marshal(n.Properties)
	if err != nil {
		return memory.Node{}, fmt.Errorf("graph: marshal properties: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, properties, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET node_type = excluded.node_type, properties = excluded.properties`,
		n.ID, n.Type, string(props), n.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return memory.Node{}, fmt.Errorf("graph: write node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return memory.Node{}, fmt.Errorf("graph: commit: %w", err)
	}
	return n, nil
}

// UpsertRelationship inserts the edge or merges its properties into the
// stored edge with the same (from, to, type).
func (s *Store) UpsertRelationship(ctx context.Context, r memory.Relationship) (memory.Relationship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Relationship{}, fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback()

	var rawProps, rawCreated string
	err = tx.QueryRowContext(ctx,
		`SELECT properties, created_at FROM relationships WHERE from_node = ? AND to_node = ? AND rel_type = ?`,
		r.From, r.To, r.Type).Scan(&rawProps, &rawCreated)
	switch {
	case err == nil:
		var stored map[string]interface{}
		if err := json.Unmarshal([]byte(rawProps), &stored); err != nil {
			return memory.Relationship{}, fmt.Errorf("graph: decode properties: %w", err)
		}
		r.Properties = merge(stored, r.Properties)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, rawCreated)
	case errors.Is(err, sql.ErrNoRows):
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		r.Properties = merge(nil, r.Properties)
	default:
		return memory.Relationship{}, fmt.Errorf("graph: read relationship: %w", err)
	}

	props, err := json.Marshal(r.Properties)
	if err != nil {
		return memory.Relationship{}, fmt.Errorf("graph: marshal properties: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships (from_node, to_node, rel_type, properties, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_node, to_node, rel_type) DO UPDATE SET properties = excluded.properties`,
		r.From, r.To, r.Type, string(props), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return memory.Relationship{}, fmt.Errorf("graph: write relationship: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return memory.Relationship{}, fmt.Errorf("graph: commit: %w", err)
	}
	return r, nil
}

// Node returns a node, or core.ErrNodeNotFound.
func (s *Store) Node(ctx context.Context, id string) (memory.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT id, node_type, properties, created_at FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Node{}, fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	if err != nil {
		return memory.Node{}, fmt.Errorf("graph: read node: %w", err)
	}
	return n, nil
}

// Neighbors lists edges touching id in insertion order.
func (s *Store) Neighbors(ctx context.Context, id string) ([]memory.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN from_node = ?1 THEN to_node ELSE from_node END,
		       rel_type,
		       CASE WHEN from_node = ?1 THEN 'out' ELSE 'in' END
		FROM relationships
		WHERE from_node = ?1 OR to_node = ?1
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("graph: query neighbors: %w", err)
	}
	defer rows.Close()

	out := make([]memory.Neighbor, 0)
	for rows.Next() {
		var n memory.Neighbor
		if err := rows.Scan(&n.NodeID, &n.RelType, &n.Direction); err != nil {
			return nil, fmt.Errorf("graph: scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ShortestPath runs a level-by-level breadth-first search over undirected
// edges. Each level costs one query over the edges touching the frontier,
// and a node is expanded at most once, at its minimum depth. Neighbors are
// visited in id order, matching memory.MemGraph.
func (s *Store) ShortestPath(ctx context.Context, start, end string, maxHops int) ([]string, error) {
	var present int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE id IN (?, ?)`, start, end).Scan(&present)
	if err != nil {
		return nil, fmt.Errorf("graph: check endpoints: %w", err)
	}
	want := 2
	if start == end {
		want = 1
	}
	if present < want {
		return nil, nil
	}
	if start == end {
		return []string{start}, nil
	}

	parent := map[string]string{start: ""}
	frontier := []string{start}
	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		adj, err := s.frontierNeighbors(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("graph: shortest path: %w", err)
		}

		var next []string
		for _, node := range frontier {
			for _, nb := range adj[node] {
				if _, seen := parent[nb]; seen {
					continue
				}
				parent[nb] = node
				if nb == end {
					return tracePath(parent, end), nil
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil, nil
}

// frontierNeighbors returns the sorted undirected neighbors of every node in
// frontier.
func (s *Store) frontierNeighbors(ctx context.Context, frontier []string) (map[string][]string, error) {
	ids, err := json.Marshal(frontier)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.value, r.to_node
		FROM json_each(?1) f JOIN relationships r ON r.from_node = f.value
		UNION
		SELECT f.value, r.from_node
		FROM json_each(?1) f JOIN relationships r ON r.to_node = f.value
		ORDER BY 1, 2`, string(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adj := make(map[string][]string, len(frontier))
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}

func tracePath(parent map[string]string, end string) []string {
	var path []string
	for node := end; node != ""; node = parent[node] {
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Counts returns the number of nodes and relationships.
func (s *Store) Counts(ctx context.Context) (int, int, error) {
	var nodes, rels int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM relationships)`).Scan(&nodes, &rels)
	if err != nil {
		return 0, 0, fmt.Errorf("graph: count: %w", err)
	}
	return nodes, rels, nil
}

func scanNode(row *sql.Row) (memory.Node, error) {
	var (
		n                  memory.Node
		rawProps, rawStamp string
	)
	if err := row.Scan(&n.ID, &n.Type, &rawProps, &rawStamp); err != nil {
		return memory.Node{}, err
	}
	if err := json.Unmarshal([]byte(rawProps), &n.Properties); err != nil {
		return memory.Node{}, fmt.Errorf("decode properties: %w", err)
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, rawStamp)
	return n, nil
}

func merge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
