// Package bridge composes the coordination components and dispatches
// operations to them by name.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/becomeliminal/nim-bridge/consensus"
	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/memory"
	"github.com/becomeliminal/nim-bridge/orchestrator"
	"github.com/becomeliminal/nim-bridge/tools"
	"github.com/becomeliminal/nim-bridge/workers"
)

// Components are the parts a Bridge coordinates. Nil fields get defaults:
// a consensus engine tolerating one faulty agent, fallback-only memory, a
// template orchestrator and the default worker roster.
type Components struct {
	Consensus    *consensus.Engine
	Memory       *memory.Unified
	Orchestrator *orchestrator.Orchestrator
	Workers      *workers.Pool
}

// DefaultMaxFaulty is the consensus fault tolerance used when no engine is supplied.
const DefaultMaxFaulty = 1

type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Bridge owns every coordination component. It is safe for concurrent use;
// each component guards its own state.
type Bridge struct {
	consensus    *consensus.Engine
	memory       *memory.Unified
	orchestrator *orchestrator.Orchestrator
	workers      *workers.Pool
	logger       *slog.Logger

	handlers map[string]handlerFunc
}

// Option configures the bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a bridge over c.
func New(c Components, opts ...Option) *Bridge {
	b := &Bridge{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	b.consensus = c.Consensus
	if b.consensus == nil {
		b.consensus = consensus.NewEngine(DefaultMaxFaulty, consensus.WithLogger(b.logger))
	}
	b.memory = c.Memory
	if b.memory == nil {
		b.memory = memory.NewUnified(memory.DefaultConfig(), memory.Backends{}, memory.WithLogger(b.logger))
	}
	b.orchestrator = c.Orchestrator
	if b.orchestrator == nil {
		b.orchestrator = orchestrator.New(orchestrator.WithLogger(b.logger))
	}
	b.workers = c.Workers
	if b.workers == nil {
		b.workers = workers.New(workers.WithLogger(b.logger))
	}

	b.logger = b.logger.With("component", "bridge")
	b.handlers = b.routes()
	return b
}

func (b *Bridge) Consensus() *consensus.Engine             { return b.consensus }
func (b *Bridge) Memory() *memory.Unified                  { return b.memory }
func (b *Bridge) Orchestrator() *orchestrator.Orchestrator { return b.orchestrator }
func (b *Bridge) Workers() *workers.Pool                   { return b.workers }

// Close releases memory backends.
func (b *Bridge) Close() error {
	return b.memory.Close()
}

// Handle runs one operation. Failures are reported in the response, never
// as a Go error.
func (b *Bridge) Handle(ctx context.Context, req core.Request) core.Response {
	start := time.Now()
	resp := core.Response{ID: req.ID}

	h, ok := b.handlers[req.Op]
	if !ok {
		resp.Error = core.NewErrorBody(fmt.Errorf("%w: %q", core.ErrUnknownOperation, req.Op))
		return resp
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		resp.Error = core.NewErrorBody(err)
		level := slog.LevelDebug
		if resp.Error.Kind == core.KindInternal {
			level = slog.LevelWarn
		}
		b.logger.Log(ctx, level, "operation failed", "op", req.Op, "kind", resp.Error.Kind, "error", err)
		return resp
	}

	resp.OK = true
	resp.Result = result
	b.logger.Debug("operation handled", "op", req.Op, "duration", time.Since(start))
	return resp
}

// Operations lists the operations Handle accepts.
func (b *Bridge) Operations() []core.OperationDefinition {
	return tools.Operations()
}

// decode wraps a typed handler so it receives decoded params.
func decode[P any](fn func(ctx context.Context, p P) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p P
		if err := core.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func (b *Bridge) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		tools.OpConsensusInitiate:  decode(b.consensusInitiate),
		tools.OpConsensusVote:      decode(b.consensusVote),
		tools.OpConsensusTally:     decode(b.consensusTally),
		tools.OpConsensusStatus:    decode(b.consensusStatus),
		tools.OpConsensusPending:   b.consensusPending,
		tools.OpConsensusFinalized: b.consensusFinalized,
		tools.OpConsensusInfo:      b.consensusInfo,

		tools.OpWorkingAdd:    decode(b.workingAdd),
		tools.OpWorkingRecent: decode(b.workingRecent),
		tools.OpWorkingSearch: decode(b.workingSearch),
		tools.OpWorkingClear:  b.workingClear,

		tools.OpSessionSet:    decode(b.sessionSet),
		tools.OpSessionGet:    decode(b.sessionGet),
		tools.OpSessionDelete: decode(b.sessionDelete),
		tools.OpSessionExists: decode(b.sessionExists),
		tools.OpSessionList:   b.sessionList,

		tools.OpSemanticIndex:  decode(b.semanticIndex),
		tools.OpSemanticSearch: decode(b.semanticSearch),
		tools.OpSemanticGet:    decode(b.semanticGet),
		tools.OpSemanticDelete: decode(b.semanticDelete),

		tools.OpRelationalNode:         decode(b.relationalNode),
		tools.OpRelationalRelationship: decode(b.relationalRelationship),
		tools.OpRelationalPath:         decode(b.relationalPath),
		tools.OpRelationalGetNode:      decode(b.relationalGetNode),
		tools.OpRelationalNeighbors:    decode(b.relationalNeighbors),
		tools.OpMemoryStatus:           b.memoryStatus,

		tools.OpOrchestrateDecompose: decode(b.orchestrateDecompose),
		tools.OpOrchestrateAssign:    decode(b.orchestrateAssign),
		tools.OpOrchestrateStatus:    decode(b.orchestrateStatus),
		tools.OpOrchestrateComplete:  decode(b.orchestrateComplete),
		tools.OpOrchestrateTasks:     b.orchestrateTasks,

		tools.OpWorkersAssign:    decode(b.workersAssign),
		tools.OpWorkersStatus:    b.workersStatus,
		tools.OpWorkersRoles:     b.workersRoles,
		tools.OpWorkersAvailable: decode(b.workersAvailable),
		tools.OpWorkersHistory:   decode(b.workersHistory),

		tools.OpOperationsList: b.operationsList,
	}
}

// Consensus

func (b *Bridge) consensusInitiate(_ context.Context, p initiateParams) (interface{}, error) {
	return b.consensus.Initiate(p.DecisionID, p.Description, p.Agents)
}

func (b *Bridge) consensusVote(_ context.Context, p voteParams) (interface{}, error) {
	if err := required("decision_id", p.DecisionID, "agent_id", p.AgentID, "vote", p.Vote); err != nil {
		return nil, err
	}
	vote, err := consensus.ParseVote(p.Vote)
	if err != nil {
		return nil, err
	}
	return b.consensus.Cast(p.DecisionID, p.AgentID, vote, p.Justification)
}

func (b *Bridge) consensusTally(_ context.Context, p decisionParams) (interface{}, error) {
	if err := required("decision_id", p.DecisionID); err != nil {
		return nil, err
	}
	return b.consensus.Tally(p.DecisionID)
}

func (b *Bridge) consensusStatus(_ context.Context, p decisionParams) (interface{}, error) {
	if err := required("decision_id", p.DecisionID); err != nil {
		return nil, err
	}
	return b.consensus.Status(p.DecisionID)
}

func (b *Bridge) consensusPending(context.Context, json.RawMessage) (interface{}, error) {
	return b.consensus.Pending(), nil
}

func (b *Bridge) consensusFinalized(context.Context, json.RawMessage) (interface{}, error) {
	return b.consensus.Finalized(), nil
}

func (b *Bridge) consensusInfo(context.Context, json.RawMessage) (interface{}, error) {
	return b.consensus.Info(), nil
}

// Working memory

func (b *Bridge) workingAdd(_ context.Context, p workingAddParams) (interface{}, error) {
	if err := required("content", p.Content); err != nil {
		return nil, err
	}
	if p.Type == "" {
		p.Type = "note"
	}
	w := b.memory.Working()
	e := w.Add(memory.Entry{Type: p.Type, Content: p.Content, Metadata: p.Metadata})
	return EntryResult{Entry: e, Len: w.Len()}, nil
}

func (b *Bridge) workingRecent(_ context.Context, p workingRecentParams) (interface{}, error) {
	entries := b.memory.Working().Recent(p.Count)
	return EntriesResult{Entries: entries, Count: len(entries)}, nil
}

func (b *Bridge) workingSearch(_ context.Context, p workingSearchParams) (interface{}, error) {
	if err := required("keyword", p.Keyword); err != nil {
		return nil, err
	}
	entries := b.memory.Working().Search(p.Keyword)
	if entries == nil {
		entries = []memory.Entry{}
	}
	return EntriesResult{Entries: entries, Count: len(entries)}, nil
}

func (b *Bridge) workingClear(context.Context, json.RawMessage) (interface{}, error) {
	b.memory.Working().Clear()
	return Ack{Success: true}, nil
}

// Session memory

func (b *Bridge) sessionSet(ctx context.Context, p sessionSetParams) (interface{}, error) {
	ttl := b.memory.SessionTTL()
	if p.TTLSeconds > 0 {
		ttl = time.Duration(p.TTLSeconds) * time.Second
	}
	rec, out, err := b.memory.Session().Set(ctx, p.SessionID, p.Data, ttl)
	if err != nil {
		return nil, err
	}
	return SessionResult{SessionRecord: rec, Outcome: out}, nil
}

func (b *Bridge) sessionGet(ctx context.Context, p sessionParams) (interface{}, error) {
	if err := required("session_id", p.SessionID); err != nil {
		return nil, err
	}
	rec, out, err := b.memory.Session().Get(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return SessionResult{SessionRecord: rec, Outcome: out}, nil
}

func (b *Bridge) sessionDelete(ctx context.Context, p sessionParams) (interface{}, error) {
	if err := required("session_id", p.SessionID); err != nil {
		return nil, err
	}
	ok, out := b.memory.Session().Delete(ctx, p.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, p.SessionID)
	}
	return DeleteResult{Deleted: true, Outcome: out}, nil
}

func (b *Bridge) sessionExists(ctx context.Context, p sessionParams) (interface{}, error) {
	if err := required("session_id", p.SessionID); err != nil {
		return nil, err
	}
	ok, out := b.memory.Session().Exists(ctx, p.SessionID)
	return ExistsResult{Exists: ok, Outcome: out}, nil
}

func (b *Bridge) sessionList(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	ids, out := b.memory.Session().IDs(ctx)
	return SessionListResult{SessionIDs: ids, Outcome: out}, nil
}

// Semantic memory

func (b *Bridge) semanticIndex(ctx context.Context, p semanticIndexParams) (interface{}, error) {
	if err := required("doc_id", p.DocID, "content", p.Content); err != nil {
		return nil, err
	}
	id, out := b.memory.Semantic().Index(ctx, p.DocID, p.Content, p.Metadata)
	return IndexResult{VectorID: id, Outcome: out}, nil
}

func (b *Bridge) semanticSearch(ctx context.Context, p semanticSearchParams) (interface{}, error) {
	if err := required("query", p.Query); err != nil {
		return nil, err
	}
	hits, out := b.memory.Semantic().Search(ctx, p.Query, p.TopK)
	return SearchResult{Results: hits, Count: len(hits), Outcome: out}, nil
}

func (b *Bridge) semanticGet(_ context.Context, p vectorParams) (interface{}, error) {
	if err := required("vector_id", p.VectorID); err != nil {
		return nil, err
	}
	return b.memory.Semantic().Get(p.VectorID)
}

func (b *Bridge) semanticDelete(ctx context.Context, p vectorParams) (interface{}, error) {
	if err := required("vector_id", p.VectorID); err != nil {
		return nil, err
	}
	ok, out := b.memory.Semantic().Delete(ctx, p.VectorID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, p.VectorID)
	}
	return DeleteResult{Deleted: true, Outcome: out}, nil
}

// Relational memory

func (b *Bridge) relationalNode(ctx context.Context, p nodeParams) (interface{}, error) {
	n, out, err := b.memory.Relational().CreateNode(ctx, p.NodeID, p.NodeType, p.Properties)
	if err != nil {
		return nil, err
	}
	return NodeResult{Node: n, Outcome: out}, nil
}

func (b *Bridge) relationalRelationship(ctx context.Context, p relationshipParams) (interface{}, error) {
	r, out, err := b.memory.Relational().CreateRelationship(ctx, p.FromNode, p.ToNode, p.RelType, p.Properties)
	if err != nil {
		return nil, err
	}
	return RelationshipResult{Relationship: r, Outcome: out}, nil
}

func (b *Bridge) relationalPath(ctx context.Context, p pathParams) (interface{}, error) {
	if err := required("start_node", p.StartNode, "end_node", p.EndNode); err != nil {
		return nil, err
	}
	if p.MaxHops > memory.MaxHopsLimit {
		return nil, core.Invalidf("max_hops must be at most %d, got %d", memory.MaxHopsLimit, p.MaxHops)
	}
	path, out := b.memory.Relational().FindPath(ctx, p.StartNode, p.EndNode, p.MaxHops)
	res := PathResult{Path: path, Outcome: out}
	if len(path) > 0 {
		res.Hops = len(path) - 1
	}
	return res, nil
}

func (b *Bridge) relationalGetNode(ctx context.Context, p nodeIDParams) (interface{}, error) {
	if err := required("node_id", p.NodeID); err != nil {
		return nil, err
	}
	n, out, err := b.memory.Relational().Node(ctx, p.NodeID)
	if err != nil {
		return nil, err
	}
	return NodeResult{Node: n, Outcome: out}, nil
}

func (b *Bridge) relationalNeighbors(ctx context.Context, p nodeIDParams) (interface{}, error) {
	if err := required("node_id", p.NodeID); err != nil {
		return nil, err
	}
	ns, out := b.memory.Relational().Neighbors(ctx, p.NodeID)
	return NeighborsResult{Neighbors: ns, Outcome: out}, nil
}

func (b *Bridge) memoryStatus(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return b.memory.Status(ctx), nil
}

// Orchestration

func (b *Bridge) orchestrateDecompose(ctx context.Context, p decomposeParams) (interface{}, error) {
	return b.orchestrator.Decompose(ctx, p.Objective, p.MaxGoals)
}

func (b *Bridge) orchestrateAssign(_ context.Context, p assignParams) (interface{}, error) {
	if err := required("task_id", p.TaskID); err != nil {
		return nil, err
	}
	if p.SubGoalIndex == nil {
		return nil, core.Invalidf("sub_goal_index is required")
	}
	return b.orchestrator.AssignToWorker(p.TaskID, *p.SubGoalIndex, p.Role)
}

func (b *Bridge) orchestrateStatus(_ context.Context, p taskParams) (interface{}, error) {
	if err := required("task_id", p.TaskID); err != nil {
		return nil, err
	}
	return b.orchestrator.TaskStatus(p.TaskID)
}

func (b *Bridge) orchestrateComplete(_ context.Context, p taskParams) (interface{}, error) {
	if err := required("task_id", p.TaskID); err != nil {
		return nil, err
	}
	if !b.orchestrator.MarkComplete(p.TaskID) {
		return nil, fmt.Errorf("%w: %s is not active", core.ErrTaskNotFound, p.TaskID)
	}
	return Ack{Success: true}, nil
}

func (b *Bridge) orchestrateTasks(context.Context, json.RawMessage) (interface{}, error) {
	return TasksResult{Active: b.orchestrator.Active(), Completed: b.orchestrator.Completed()}, nil
}

// Workers

func (b *Bridge) workersAssign(ctx context.Context, p workerAssignParams) (interface{}, error) {
	if err := required("role", p.Role, "task_id", p.TaskID, "instruction", p.Instruction); err != nil {
		return nil, err
	}
	return b.workers.AssignTask(ctx, p.Role, p.TaskID, p.Instruction)
}

func (b *Bridge) workersStatus(context.Context, json.RawMessage) (interface{}, error) {
	return b.workers.Status(), nil
}

func (b *Bridge) workersRoles(context.Context, json.RawMessage) (interface{}, error) {
	return RolesResult{Roles: b.workers.Roles()}, nil
}

func (b *Bridge) workersAvailable(_ context.Context, p roleParams) (interface{}, error) {
	if err := required("role", p.Role); err != nil {
		return nil, err
	}
	w, ok := b.workers.Available(p.Role)
	if !ok {
		return AvailableResult{}, nil
	}
	return AvailableResult{Available: true, Worker: &w}, nil
}

func (b *Bridge) workersHistory(_ context.Context, p agentParams) (interface{}, error) {
	if err := required("agent_id", p.AgentID); err != nil {
		return nil, err
	}
	hist, err := b.workers.History(p.AgentID)
	if err != nil {
		return nil, err
	}
	return HistoryResult{AgentID: p.AgentID, History: hist}, nil
}

func (b *Bridge) operationsList(context.Context, json.RawMessage) (interface{}, error) {
	return OperationsResult{Operations: b.Operations()}, nil
}
