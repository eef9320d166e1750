// Package consensus implements the DCBFT quorum gate used to approve
// high-impact actions before they run.
//
// The engine is a single-process quorum counter. It tolerates up to f
// faulty agents (configured at construction) and therefore requires at
// least 3f+1 voters per decision. A decision is approved when at least
// ceil(2N/3) of its N voters approve; anything else that reaches quorum
// is rejected, including splits where rejections also fall short.
package consensus

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/nim-bridge/core"
)

// Vote is a single agent's ballot.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

// ParseVote converts a case-insensitive string into a Vote.
func ParseVote(s string) (Vote, error) {
	switch v := Vote(strings.ToLower(strings.TrimSpace(s))); v {
	case VoteApprove, VoteReject, VoteAbstain:
		return v, nil
	default:
		return "", core.Invalidf("unknown vote %q (want approve, reject or abstain)", s)
	}
}

// Status is the lifecycle state of a vote session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
)

// Decision is the outcome reported by Tally.
type Decision string

const (
	DecisionApproved          Decision = "approved"
	DecisionRejected          Decision = "rejected"
	DecisionInsufficientVotes Decision = "insufficient_votes"
)

// VoteRecord is one recorded ballot.
type VoteRecord struct {
	Vote          Vote      `json:"vote"`
	Justification string    `json:"justification,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Session tracks one decision from initiation to finalization.
type Session struct {
	DecisionID     string                `json:"decision_id"`
	Description    string                `json:"description"`
	RequiredAgents []string              `json:"required_agents"`
	Votes          map[string]VoteRecord `json:"votes"`
	QuorumRequired int                   `json:"quorum_required"`
	Status         Status                `json:"status"`
	InitiatedAt    time.Time             `json:"initiated_at"`
	FinalizedAt    *time.Time            `json:"finalized_at,omitempty"`
	Result         *Result               `json:"final_decision,omitempty"`
}

// Receipt acknowledges a recorded vote.
type Receipt struct {
	DecisionID     string `json:"decision_id"`
	AgentID        string `json:"agent_id"`
	Vote           Vote   `json:"vote_recorded"`
	TotalVotes     int    `json:"total_votes"`
	QuorumRequired int    `json:"quorum_required"`
}

// Breakdown counts ballots by type.
type Breakdown struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Abstain int `json:"abstain"`
	Total   int `json:"total"`
}

// Result is the outcome of a tally.
type Result struct {
	DecisionID          string     `json:"decision_id"`
	Decision            Decision   `json:"decision"`
	Breakdown           Breakdown  `json:"vote_breakdown"`
	VotesCast           int        `json:"votes_cast"`
	QuorumRequired      int        `json:"quorum_required"`
	QuorumMet           bool       `json:"quorum_met"`
	ConsensusPercentage float64    `json:"consensus_percentage"`
	FinalizedAt         *time.Time `json:"finalized_at,omitempty"`
	Message             string     `json:"message,omitempty"`
}

// Info describes the engine's fault-tolerance parameters.
type Info struct {
	MaxFaulty   int     `json:"max_faulty_agents"`
	MinAgents   int     `json:"min_required_agents"`
	Formula     string  `json:"formula"`
	QuorumRatio float64 `json:"quorum_ratio"`
}

// Option configures the engine.
type Option func(*Engine)

// WithClock sets the clock used for vote and finalization timestamps.
func WithClock(c core.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine manages vote sessions. It is safe for concurrent use.
type Engine struct {
	maxFaulty int
	clock     core.Clock
	logger    *slog.Logger

	mu        sync.RWMutex
	pending   map[string]*Session
	finalized map[string]*Session
}

// NewEngine creates an engine tolerating maxFaulty Byzantine agents.
// Negative values are treated as zero.
func NewEngine(maxFaulty int, opts ...Option) *Engine {
	if maxFaulty < 0 {
		maxFaulty = 0
	}
	e := &Engine{
		maxFaulty: maxFaulty,
		clock:     core.SystemClock{},
		logger:    slog.Default(),
		pending:   make(map[string]*Session),
		finalized: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "consensus")
	return e
}

// MaxFaulty returns f, the tolerated number of faulty agents.
func (e *Engine) MaxFaulty() int {
	return e.maxFaulty
}

// MinAgents returns 3f+1.
func (e *Engine) MinAgents() int {
	return 3*e.maxFaulty + 1
}

// Quorum returns ceil(2n/3).
func Quorum(n int) int {
	return (2*n + 2) / 3
}

// Info reports the engine parameters.
func (e *Engine) Info() Info {
	return Info{
		MaxFaulty:   e.maxFaulty,
		MinAgents:   e.MinAgents(),
		Formula:     fmt.Sprintf("N >= 3f + 1 where f=%d", e.maxFaulty),
		QuorumRatio: 2.0 / 3.0,
	}
}

// Initiate opens a vote session for decisionID among the given agents.
func (e *Engine) Initiate(decisionID, description string, agents []string) (Session, error) {
	if strings.TrimSpace(decisionID) == "" {
		return Session{}, core.Invalidf("decision id is required")
	}

	required := uniqueAgents(agents)
	if len(required) < e.MinAgents() {
		return Session{}, fmt.Errorf("%w: need at least %d, got %d (N >= 3f + 1 where f=%d)",
			core.ErrInsufficientAgents, e.MinAgents(), len(required), e.maxFaulty)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[decisionID]; ok {
		return Session{}, fmt.Errorf("%w: %s is pending", core.ErrDecisionExists, decisionID)
	}
	if _, ok := e.finalized[decisionID]; ok {
		return Session{}, fmt.Errorf("%w: %s is finalized", core.ErrDecisionExists, decisionID)
	}

	s := &Session{
		DecisionID:     decisionID,
		Description:    description,
		RequiredAgents: required,
		Votes:          make(map[string]VoteRecord),
		QuorumRequired: Quorum(len(required)),
		Status:         StatusPending,
		InitiatedAt:    e.clock.Now(),
	}
	e.pending[decisionID] = s

	e.logger.Info("vote initiated",
		"decision_id", decisionID,
		"agents", len(required),
		"quorum", s.QuorumRequired)
	return s.clone(), nil
}

// Cast records agentID's vote on a pending decision. agentID is trimmed the
// same way the roster is at Initiate.
func (e *Engine) Cast(decisionID, agentID string, vote Vote, justification string) (Receipt, error) {
	agentID = strings.TrimSpace(agentID)
	vote, err := ParseVote(string(vote))
	if err != nil {
		return Receipt{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.pending[decisionID]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s (unknown or already finalized)", core.ErrDecisionNotFound, decisionID)
	}
	if !s.requires(agentID) {
		return Receipt{}, fmt.Errorf("%w: %s", core.ErrAgentNotAuthorized, agentID)
	}
	if _, voted := s.Votes[agentID]; voted {
		return Receipt{}, fmt.Errorf("%w: %s on %s", core.ErrDuplicateVote, agentID, decisionID)
	}

	s.Votes[agentID] = VoteRecord{
		Vote:          vote,
		Justification: justification,
		Timestamp:     e.clock.Now(),
	}

	e.logger.Debug("vote recorded", "decision_id", decisionID, "agent_id", agentID, "vote", vote)
	return Receipt{
		DecisionID:     decisionID,
		AgentID:        agentID,
		Vote:           vote,
		TotalVotes:     len(s.Votes),
		QuorumRequired: s.QuorumRequired,
	}, nil
}

// Tally counts the votes on a decision. Below quorum it reports
// DecisionInsufficientVotes and leaves the session pending. At or above
// quorum it finalizes the session; finalization cannot be undone and
// later tallies return the stored result.
func (e *Engine) Tally(decisionID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.pending[decisionID]
	if !ok {
		if done, ok := e.finalized[decisionID]; ok && done.Result != nil {
			return *done.Result, nil
		}
		return Result{}, fmt.Errorf("%w: %s", core.ErrDecisionNotFound, decisionID)
	}

	b := s.breakdown()
	if b.Total < s.QuorumRequired {
		return Result{
			DecisionID:     decisionID,
			Decision:       DecisionInsufficientVotes,
			Breakdown:      b,
			VotesCast:      b.Total,
			QuorumRequired: s.QuorumRequired,
			Message:        fmt.Sprintf("Need %d more votes to reach quorum", s.QuorumRequired-b.Total),
		}, nil
	}

	// Anything short of an approving quorum rejects, even when rejections
	// alone also miss quorum.
	decision := DecisionRejected
	if b.Approve >= s.QuorumRequired {
		decision = DecisionApproved
	}

	now := e.clock.Now()
	result := Result{
		DecisionID:          decisionID,
		Decision:            decision,
		Breakdown:           b,
		VotesCast:           b.Total,
		QuorumRequired:      s.QuorumRequired,
		QuorumMet:           true,
		ConsensusPercentage: percentage(b.Approve, b.Total),
		FinalizedAt:         &now,
	}

	s.Status = StatusFinalized
	s.FinalizedAt = &now
	s.Result = &result
	e.finalized[decisionID] = s
	delete(e.pending, decisionID)

	e.logger.Info("decision finalized",
		"decision_id", decisionID,
		"decision", decision,
		"approve", b.Approve,
		"reject", b.Reject,
		"abstain", b.Abstain)
	return result, nil
}

// Status returns a snapshot of a pending or finalized session.
func (e *Engine) Status(decisionID string) (Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if s, ok := e.pending[decisionID]; ok {
		return s.clone(), nil
	}
	if s, ok := e.finalized[decisionID]; ok {
		return s.clone(), nil
	}
	return Session{}, fmt.Errorf("%w: %s", core.ErrDecisionNotFound, decisionID)
}

// Pending lists open sessions ordered by initiation time.
func (e *Engine) Pending() []Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot(e.pending)
}

// Finalized lists closed sessions ordered by initiation time.
func (e *Engine) Finalized() []Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot(e.finalized)
}

func (s *Session) requires(agentID string) bool {
	for _, a := range s.RequiredAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

func (s *Session) breakdown() Breakdown {
	var b Breakdown
	for _, v := range s.Votes {
		switch v.Vote {
		case VoteApprove:
			b.Approve++
		case VoteReject:
			b.Reject++
		case VoteAbstain:
			b.Abstain++
		}
	}
	b.Total = len(s.Votes)
	return b
}

func (s *Session) clone() Session {
	c := *s
	c.RequiredAgents = append([]string(nil), s.RequiredAgents...)
	c.Votes = make(map[string]VoteRecord, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		c.FinalizedAt = &t
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return c
}

func snapshot(m map[string]*Session) []Session {
	out := make([]Session, 0, len(m))
	for _, s := range m {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].DecisionID < out[j].DecisionID
		}
		return out[i].InitiatedAt.Before(out[j].InitiatedAt)
	})
	return out
}

// uniqueAgents trims, drops empty ids and de-duplicates while keeping order.
func uniqueAgents(agents []string) []string {
	out := make([]string, 0, len(agents))
	seen := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}
