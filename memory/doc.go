// Package memory provides the four-tier memory hierarchy used by the bridge.
//
// Tiers:
//   - WorkingMemory: bounded recent-context buffer, always in process
//   - SessionStore: key/JSON store with TTL (KVStore backend)
//   - SemanticIndex: similarity retrieval (VectorStore backend)
//   - RelationalGraph: typed nodes and edges with path queries (GraphStore backend)
//
// Each tier takes its backend at construction. A nil backend means the
// in-process fallback is used for every call. A configured backend that
// fails is logged and the call falls back, reported through Outcome.Degraded;
// callers never branch on the backend type.
//
// Backends shipped with the module:
//   - store/ristretto: TTL cache for sessions
//   - store/chromem: chromem-go embedded vector database
//   - store/sqlite: SQLite graph with recursive shortest-path queries
//   - embedder/mock: deterministic hash-based embeddings
package memory
