// Package tools describes the bridge operations for discovery by clients
// and LLM tool callers.
package tools

import (
	"github.com/becomeliminal/nim-bridge/core"
)

// Operation names.
const (
	OpConsensusInitiate  = "consensus.initiate"
	OpConsensusVote      = "consensus.vote"
	OpConsensusTally     = "consensus.tally"
	OpConsensusStatus    = "consensus.status"
	OpConsensusPending   = "consensus.pending"
	OpConsensusFinalized = "consensus.finalized"
	OpConsensusInfo      = "consensus.info"

	OpWorkingAdd    = "memory.working.add"
	OpWorkingRecent = "memory.working.recent"
	OpWorkingSearch = "memory.working.search"
	OpWorkingClear  = "memory.working.clear"

	OpSessionSet    = "memory.session.set"
	OpSessionGet    = "memory.session.get"
	OpSessionDelete = "memory.session.delete"
	OpSessionExists = "memory.session.exists"
	OpSessionList   = "memory.session.list"

	OpSemanticIndex  = "memory.semantic.index"
	OpSemanticSearch = "memory.semantic.search"
	OpSemanticGet    = "memory.semantic.get"
	OpSemanticDelete = "memory.semantic.delete"

	OpRelationalNode         = "memory.relational.node"
	OpRelationalRelationship = "memory.relational.relationship"
	OpRelationalPath         = "memory.relational.path"
	OpRelationalGetNode      = "memory.relational.get_node"
	OpRelationalNeighbors    = "memory.relational.neighbors"

	OpMemoryStatus = "memory.status"

	OpOrchestrateDecompose = "orchestrate.decompose"
	OpOrchestrateAssign    = "orchestrate.assign"
	OpOrchestrateStatus    = "orchestrate.status"
	OpOrchestrateComplete  = "orchestrate.complete"
	OpOrchestrateTasks     = "orchestrate.tasks"

	OpWorkersAssign    = "workers.assign"
	OpWorkersStatus    = "workers.status"
	OpWorkersRoles     = "workers.roles"
	OpWorkersAvailable = "workers.available"
	OpWorkersHistory   = "workers.history"

	OpOperationsList = "operations.list"
)

// Operations returns the definitions of every bridge operation.
func Operations() []core.OperationDefinition {
	return []core.OperationDefinition{
		// Consensus
		{
			Name:        OpConsensusInitiate,
			Description: "Open a vote on a high-impact decision. Requires at least 3f+1 distinct agents, where f is the configured fault tolerance.",
			Mutating:    true,
			InputSchema: Object(Props{
				"decision_id": String("Unique decision identifier"),
				"description": String("What is being decided"),
				"agents":      Array("Agent ids allowed to vote", String("Agent id")),
			}, "decision_id", "agents"),
		},
		{
			Name:        OpConsensusVote,
			Description: "Cast one agent's vote on a pending decision. Each agent votes once.",
			Mutating:    true,
			InputSchema: Object(Props{
				"decision_id":   String("Decision to vote on"),
				"agent_id":      String("Voting agent; must be one of the decision's agents"),
				"vote":          StringEnum("Ballot", "approve", "reject", "abstain"),
				"justification": String("Optional reasoning for the vote"),
			}, "decision_id", "agent_id", "vote"),
		},
		{
			Name:        OpConsensusTally,
			Description: "Count votes. Finalizes the decision once quorum is reached; otherwise reports how many votes are missing.",
			Mutating:    true,
			InputSchema: Object(Props{
				"decision_id": String("Decision to tally"),
			}, "decision_id"),
		},
		{
			Name:        OpConsensusStatus,
			Description: "Get a decision's votes and state.",
			InputSchema: Object(Props{
				"decision_id": String("Decision to inspect"),
			}, "decision_id"),
		},
		{
			Name:        OpConsensusPending,
			Description: "List decisions still collecting votes.",
			InputSchema: Empty(),
		},
		{
			Name:        OpConsensusFinalized,
			Description: "List finalized decisions with their results.",
			InputSchema: Empty(),
		},
		{
			Name:        OpConsensusInfo,
			Description: "Describe the fault-tolerance parameters of the consensus gate.",
			InputSchema: Empty(),
		},

		// Working memory
		{
			Name:        OpWorkingAdd,
			Description: "Append an entry to working memory, evicting the oldest entry when full.",
			Mutating:    true,
			InputSchema: Object(Props{
				"type":     String("Entry type, e.g. note, decision, task"),
				"content":  String("Entry text"),
				"metadata": FreeObject("Optional structured metadata"),
			}, "content"),
		},
		{
			Name:        OpWorkingRecent,
			Description: "Get the most recent working memory entries, oldest first.",
			InputSchema: Object(Props{
				"count": Integer("Number of entries (default: all)"),
			}),
		},
		{
			Name:        OpWorkingSearch,
			Description: "Find working memory entries whose content or type contains a keyword (case-insensitive).",
			InputSchema: Object(Props{
				"keyword": String("Keyword to match"),
			}, "keyword"),
		},
		{
			Name:        OpWorkingClear,
			Description: "Drop every working memory entry.",
			Mutating:    true,
			InputSchema: Empty(),
		},

		// Session memory
		{
			Name:        OpSessionSet,
			Description: "Store JSON state for a session, replacing any previous value.",
			Mutating:    true,
			InputSchema: Object(Props{
				"session_id":  String("Session identifier"),
				"data":        AnyJSON("Session state"),
				"ttl_seconds": Integer("Lifetime in seconds (default: 3600)"),
			}, "session_id", "data"),
		},
		{
			Name:        OpSessionGet,
			Description: "Get a session's stored state.",
			InputSchema: Object(Props{
				"session_id": String("Session identifier"),
			}, "session_id"),
		},
		{
			Name:        OpSessionDelete,
			Description: "Delete a session.",
			Mutating:    true,
			InputSchema: Object(Props{
				"session_id": String("Session identifier"),
			}, "session_id"),
		},
		{
			Name:        OpSessionExists,
			Description: "Check whether a session is stored.",
			InputSchema: Object(Props{
				"session_id": String("Session identifier"),
			}, "session_id"),
		},
		{
			Name:        OpSessionList,
			Description: "List stored session ids.",
			InputSchema: Empty(),
		},

		// Semantic memory
		{
			Name:        OpSemanticIndex,
			Description: "Index a document for similarity search. Returns its vector id.",
			Mutating:    true,
			InputSchema: Object(Props{
				"doc_id":   String("Caller's document identifier"),
				"content":  String("Document text"),
				"metadata": FreeObject("Optional structured metadata"),
			}, "doc_id", "content"),
		},
		{
			Name:        OpSemanticSearch,
			Description: "Find the documents most similar to a query.",
			InputSchema: Object(Props{
				"query": String("Search text"),
				"top_k": Integer("Maximum results (default: 5)"),
			}, "query"),
		},
		{
			Name:        OpSemanticGet,
			Description: "Get an indexed document by vector id.",
			InputSchema: Object(Props{
				"vector_id": String("Vector id returned by index"),
			}, "vector_id"),
		},
		{
			Name:        OpSemanticDelete,
			Description: "Remove an indexed document.",
			Mutating:    true,
			InputSchema: Object(Props{
				"vector_id": String("Vector id returned by index"),
			}, "vector_id"),
		},

		// Relational memory
		{
			Name:        OpRelationalNode,
			Description: "Create a graph node, or merge properties into an existing one.",
			Mutating:    true,
			InputSchema: Object(Props{
				"node_id":    String("Node identifier"),
				"node_type":  String("Node type, e.g. agent, task, concept"),
				"properties": FreeObject("Node properties"),
			}, "node_id", "node_type"),
		},
		{
			Name:        OpRelationalRelationship,
			Description: "Create a typed edge between two nodes, or merge properties into an existing one.",
			Mutating:    true,
			InputSchema: Object(Props{
				"from_node":  String("Source node id"),
				"to_node":    String("Target node id"),
				"rel_type":   String("Relationship type, e.g. DEPENDS_ON"),
				"properties": FreeObject("Edge properties"),
			}, "from_node", "to_node", "rel_type"),
		},
		{
			Name:        OpRelationalPath,
			Description: "Find a shortest path between two nodes, ignoring edge direction. Returns null when none exists within max_hops.",
			InputSchema: Object(Props{
				"start_node": String("Start node id"),
				"end_node":   String("End node id"),
				"max_hops":   Integer("Maximum edges on the path (default: 3, at most 16)"),
			}, "start_node", "end_node"),
		},
		{
			Name:        OpRelationalGetNode,
			Description: "Get a graph node.",
			InputSchema: Object(Props{
				"node_id": String("Node identifier"),
			}, "node_id"),
		},
		{
			Name:        OpRelationalNeighbors,
			Description: "List nodes connected to a node in either direction.",
			InputSchema: Object(Props{
				"node_id": String("Node identifier"),
			}, "node_id"),
		},
		{
			Name:        OpMemoryStatus,
			Description: "Report backend and size for every memory tier.",
			InputSchema: Empty(),
		},

		// Orchestration
		{
			Name:        OpOrchestrateDecompose,
			Description: "Break an objective into sub-goals and create a task.",
			Mutating:    true,
			InputSchema: Object(Props{
				"objective": String("High-level objective"),
				"max_goals": Integer("Maximum sub-goals (default: 5)"),
			}, "objective"),
		},
		{
			Name:        OpOrchestrateAssign,
			Description: "Assign one sub-goal of an active task to a worker role.",
			Mutating:    true,
			InputSchema: Object(Props{
				"task_id":        String("Task identifier"),
				"sub_goal_index": Integer("Zero-based sub-goal index"),
				"role":           String("Worker role, e.g. Research"),
			}, "task_id", "sub_goal_index", "role"),
		},
		{
			Name:        OpOrchestrateStatus,
			Description: "Get a task, active or completed.",
			InputSchema: Object(Props{
				"task_id": String("Task identifier"),
			}, "task_id"),
		},
		{
			Name:        OpOrchestrateComplete,
			Description: "Mark an active task completed.",
			Mutating:    true,
			InputSchema: Object(Props{
				"task_id": String("Task identifier"),
			}, "task_id"),
		},
		{
			Name:        OpOrchestrateTasks,
			Description: "List active and completed tasks.",
			InputSchema: Empty(),
		},

		// Workers
		{
			Name:        OpWorkersAssign,
			Description: "Run an instruction on an idle worker of the given role.",
			Mutating:    true,
			InputSchema: Object(Props{
				"role":        String("Worker role"),
				"task_id":     String("Task identifier"),
				"instruction": String("What the worker should do"),
			}, "role", "task_id", "instruction"),
		},
		{
			Name:        OpWorkersStatus,
			Description: "Report every worker and whether it is available.",
			InputSchema: Empty(),
		},
		{
			Name:        OpWorkersRoles,
			Description: "List worker roles.",
			InputSchema: Empty(),
		},
		{
			Name:        OpWorkersAvailable,
			Description: "Get an idle worker of a role without claiming it. Returns null when none is idle.",
			InputSchema: Object(Props{
				"role": String("Worker role"),
			}, "role"),
		},
		{
			Name:        OpWorkersHistory,
			Description: "List the results recorded by one worker.",
			InputSchema: Object(Props{
				"agent_id": String("Worker agent id"),
			}, "agent_id"),
		},

		{
			Name:        OpOperationsList,
			Description: "List every operation with its input schema.",
			InputSchema: Empty(),
		},
	}
}

// Lookup returns the definition of the named operation.
func Lookup(name string) (core.OperationDefinition, bool) {
	for _, op := range Operations() {
		if op.Name == name {
			return op, true
		}
	}
	return core.OperationDefinition{}, false
}
