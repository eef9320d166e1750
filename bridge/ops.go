package bridge

import (
	"encoding/json"
	"strings"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/memory"
	"github.com/becomeliminal/nim-bridge/orchestrator"
	"github.com/becomeliminal/nim-bridge/workers"
)

// Operation parameters, decoded from Request.Params.

type decisionParams struct {
	DecisionID string `json:"decision_id"`
}

type initiateParams struct {
	DecisionID  string   `json:"decision_id"`
	Description string   `json:"description"`
	Agents      []string `json:"agents"`
}

type voteParams struct {
	DecisionID    string `json:"decision_id"`
	AgentID       string `json:"agent_id"`
	Vote          string `json:"vote"`
	Justification string `json:"justification"`
}

type workingAddParams struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type workingRecentParams struct {
	Count int `json:"count"`
}

type workingSearchParams struct {
	Keyword string `json:"keyword"`
}

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type sessionSetParams struct {
	SessionID  string          `json:"session_id"`
	Data       json.RawMessage `json:"data"`
	TTLSeconds int             `json:"ttl_seconds"`
}

type semanticIndexParams struct {
	DocID    string                 `json:"doc_id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type semanticSearchParams struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type vectorParams struct {
	VectorID string `json:"vector_id"`
}

type nodeParams struct {
	NodeID     string                 `json:"node_id"`
	NodeType   string                 `json:"node_type"`
	Properties map[string]interface{} `json:"properties"`
}

type relationshipParams struct {
	FromNode   string                 `json:"from_node"`
	ToNode     string                 `json:"to_node"`
	RelType    string                 `json:"rel_type"`
	Properties map[string]interface{} `json:"properties"`
}

type pathParams struct {
	StartNode string `json:"start_node"`
	EndNode   string `json:"end_node"`
	MaxHops   int    `json:"max_hops"`
}

type nodeIDParams struct {
	NodeID string `json:"node_id"`
}

type decomposeParams struct {
	Objective string `json:"objective"`
	MaxGoals  int    `json:"max_goals"`
}

type assignParams struct {
	TaskID       string `json:"task_id"`
	SubGoalIndex *int   `json:"sub_goal_index"`
	Role         string `json:"role"`
}

type taskParams struct {
	TaskID string `json:"task_id"`
}

type workerAssignParams struct {
	Role        string `json:"role"`
	TaskID      string `json:"task_id"`
	Instruction string `json:"instruction"`
}

type roleParams struct {
	Role string `json:"role"`
}

type agentParams struct {
	AgentID string `json:"agent_id"`
}

// Operation results.

// Ack acknowledges an operation without a richer result.
type Ack struct {
	Success bool `json:"success"`
}

// EntryResult is returned by memory.working.add.
type EntryResult struct {
	Entry memory.Entry `json:"entry"`
	Len   int          `json:"size"`
}

// EntriesResult lists working memory entries.
type EntriesResult struct {
	Entries []memory.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// SessionResult carries a session record.
type SessionResult struct {
	memory.SessionRecord
	memory.Outcome
}

// ExistsResult answers memory.session.exists.
type ExistsResult struct {
	Exists bool `json:"exists"`
	memory.Outcome
}

// SessionListResult lists session ids.
type SessionListResult struct {
	SessionIDs []string `json:"session_ids"`
	memory.Outcome
}

// DeleteResult acknowledges a tier delete.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
	memory.Outcome
}

// IndexResult is returned by memory.semantic.index.
type IndexResult struct {
	VectorID string `json:"vector_id"`
	memory.Outcome
}

// SearchResult lists semantic hits.
type SearchResult struct {
	Results []memory.Hit `json:"results"`
	Count   int          `json:"count"`
	memory.Outcome
}

// NodeResult carries a graph node.
type NodeResult struct {
	Node memory.Node `json:"node"`
	memory.Outcome
}

// RelationshipResult carries a graph edge.
type RelationshipResult struct {
	Relationship memory.Relationship `json:"relationship"`
	memory.Outcome
}

// PathResult carries a path; Path is null when none exists.
type PathResult struct {
	Path []string `json:"path"`
	Hops int      `json:"hops"`
	memory.Outcome
}

// NeighborsResult lists adjacent nodes.
type NeighborsResult struct {
	Neighbors []memory.Neighbor `json:"neighbors"`
	memory.Outcome
}

// TasksResult lists tasks.
type TasksResult struct {
	Active    []orchestrator.Task `json:"active"`
	Completed []orchestrator.Task `json:"completed"`
}

// RolesResult lists worker roles.
type RolesResult struct {
	Roles []string `json:"roles"`
}

// AvailableResult reports an idle worker; Worker is null when none is idle.
type AvailableResult struct {
	Available bool                  `json:"available"`
	Worker    *workers.WorkerStatus `json:"worker"`
}

// HistoryResult lists one worker's results.
type HistoryResult struct {
	AgentID string           `json:"agent_id"`
	History []workers.Result `json:"history"`
}

// OperationsResult lists the operation catalogue.
type OperationsResult struct {
	Operations []core.OperationDefinition `json:"operations"`
}

// required reports the first named field whose value is blank.
func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return core.Invalidf("%s is required", fields[i])
		}
	}
	return nil
}
