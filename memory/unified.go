package memory

import (
	"context"
	"errors"
	"time"
)

// Backends selects the production backend for each tier. Nil fields use
// the in-process fallback.
type Backends struct {
	KV       KVStore
	Vectors  VectorStore
	Graph    GraphStore
	Embedder Embedder
}

// Config holds tier sizing.
type Config struct {
	// WorkingBudget is the working memory capacity.
	WorkingBudget int

	// SessionTTL is the default session lifetime.
	SessionTTL time.Duration
}

// DefaultConfig returns the default tier sizing.
func DefaultConfig() Config {
	return Config{
		WorkingBudget: DefaultWorkingBudget,
		SessionTTL:    DefaultSessionTTL,
	}
}

// Unified composes the four memory tiers.
type Unified struct {
	cfg Config

	working    *WorkingMemory
	session    *SessionStore
	semantic   *SemanticIndex
	relational *RelationalGraph
}

// NewUnified builds every tier from cfg and the given backends.
func NewUnified(cfg Config, backends Backends, opts ...Option) *Unified {
	if cfg.WorkingBudget <= 0 {
		cfg.WorkingBudget = DefaultWorkingBudget
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	u := &Unified{
		cfg:        cfg,
		working:    NewWorkingMemory(cfg.WorkingBudget, opts...),
		session:    NewSessionStore(backends.KV, opts...),
		semantic:   NewSemanticIndex(backends.Vectors, backends.Embedder, opts...),
		relational: NewRelationalGraph(backends.Graph, opts...),
	}

	o := buildOptions("memory", opts)
	o.logger.Info("memory initialized",
		"working_budget", cfg.WorkingBudget,
		"session", u.session.Backend(),
		"semantic", u.semantic.Backend(),
		"relational", u.relational.Backend())
	return u
}

func (u *Unified) Working() *WorkingMemory      { return u.working }
func (u *Unified) Session() *SessionStore       { return u.session }
func (u *Unified) Semantic() *SemanticIndex     { return u.semantic }
func (u *Unified) Relational() *RelationalGraph { return u.relational }
func (u *Unified) SessionTTL() time.Duration    { return u.cfg.SessionTTL }

// TierStatus describes one tier's backend.
type TierStatus struct {
	Backend    string `json:"backend"`
	Production bool   `json:"production"`
	Degraded   bool   `json:"degraded,omitempty"`
}

// WorkingStatus describes the working tier.
type WorkingStatus struct {
	Entries int  `json:"entries"`
	Budget  int  `json:"budget"`
	Full    bool `json:"full"`
}

// SessionStatus describes the session tier.
type SessionStatus struct {
	TierStatus
	Sessions int `json:"sessions"`
}

// SemanticStatus describes the semantic tier.
type SemanticStatus struct {
	TierStatus
	Documents int `json:"documents"`
}

// RelationalStatus describes the relational tier.
type RelationalStatus struct {
	TierStatus
	Nodes         int `json:"nodes"`
	Relationships int `json:"relationships"`
}

// Status is a health snapshot of every tier.
type Status struct {
	Working    WorkingStatus    `json:"working_memory"`
	Session    SessionStatus    `json:"session_memory"`
	Semantic   SemanticStatus   `json:"semantic_memory"`
	Relational RelationalStatus `json:"relational_memory"`
}

// Status reports backend identity and counts per tier.
func (u *Unified) Status(ctx context.Context) Status {
	ids, sessOut := u.session.IDs(ctx)
	nodes, rels, relOut := u.relational.Counts(ctx)

	return Status{
		Working: WorkingStatus{
			Entries: u.working.Len(),
			Budget:  u.working.Budget(),
			Full:    u.working.Full(),
		},
		Session: SessionStatus{
			TierStatus: TierStatus{
				Backend:    u.session.Backend(),
				Production: u.session.Production(),
				Degraded:   sessOut.Degraded,
			},
			Sessions: len(ids),
		},
		Semantic: SemanticStatus{
			TierStatus: TierStatus{
				Backend:    u.semantic.Backend(),
				Production: u.semantic.Production(),
			},
			Documents: u.semantic.Len(),
		},
		Relational: RelationalStatus{
			TierStatus: TierStatus{
				Backend:    u.relational.Backend(),
				Production: u.relational.Production(),
				Degraded:   relOut.Degraded,
			},
			Nodes:         nodes,
			Relationships: rels,
		},
	}
}

// Close releases every tier backend.
func (u *Unified) Close() error {
	return errors.Join(
		u.session.Close(),
		u.semantic.Close(),
		u.relational.Close(),
	)
}
