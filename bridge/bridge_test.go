package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-bridge/core"
	"github.com/becomeliminal/nim-bridge/orchestrator"
	"github.com/becomeliminal/nim-bridge/tools"
	"github.com/becomeliminal/nim-bridge/workers"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(Components{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { b.Close() })
	return b
}

// call runs op and round-trips the result through JSON into out.
func call(t *testing.T, b *Bridge, op string, params interface{}, out interface{}) core.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	resp := b.Handle(context.Background(), core.Request{ID: "req", Op: op, Params: raw})
	if resp.OK && out != nil {
		enc, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(enc, out))
	}
	return resp
}

func mustOK(t *testing.T, resp core.Response) {
	t.Helper()
	require.True(t, resp.OK, "unexpected error: %+v", resp.Error)
}

func TestEveryOperationHasHandler(t *testing.T) {
	b := newTestBridge(t)
	for _, op := range tools.Operations() {
		_, ok := b.handlers[op.Name]
		assert.True(t, ok, "no handler for %s", op.Name)
	}
	assert.Len(t, b.handlers, len(tools.Operations()))
}

func TestUnknownOperation(t *testing.T) {
	b := newTestBridge(t)
	resp := b.Handle(context.Background(), core.Request{ID: "x", Op: "nope"})
	assert.False(t, resp.OK)
	assert.Equal(t, "x", resp.ID)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)
}

func TestMalformedParams(t *testing.T) {
	b := newTestBridge(t)
	resp := b.Handle(context.Background(), core.Request{Op: tools.OpConsensusVote, Params: json.RawMessage(`[1,2]`)})
	require.False(t, resp.OK)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)
}

func TestDecomposeAssignCompleteFlow(t *testing.T) {
	b := newTestBridge(t)

	var task orchestrator.Task
	mustOK(t, call(t, b, tools.OpOrchestrateDecompose, map[string]interface{}{
		"objective": "Build vector search", "max_goals": 3,
	}, &task))
	require.Len(t, task.SubGoals, 3)

	roles := []string{workers.RoleResearch, workers.RoleAnalysis, workers.RoleImplementation}
	for i, role := range roles {
		var a orchestrator.Assignment
		mustOK(t, call(t, b, tools.OpOrchestrateAssign, map[string]interface{}{
			"task_id": task.TaskID, "sub_goal_index": i, "role": role,
		}, &a))
		assert.Equal(t, task.SubGoals[i], a.SubGoal)

		var res workers.Result
		mustOK(t, call(t, b, tools.OpWorkersAssign, map[string]interface{}{
			"role": role, "task_id": task.TaskID, "instruction": a.SubGoal,
		}, &res))
		assert.Equal(t, fmt.Sprintf("Stub result from %s agent for: %s", role, a.SubGoal), res.Result)
	}

	mustOK(t, call(t, b, tools.OpOrchestrateComplete, map[string]string{"task_id": task.TaskID}, nil))

	var got orchestrator.Task
	mustOK(t, call(t, b, tools.OpOrchestrateStatus, map[string]string{"task_id": task.TaskID}, &got))
	assert.Equal(t, orchestrator.StatusCompleted, got.Status)
	assert.Len(t, got.Assignments, 3)

	resp := call(t, b, tools.OpOrchestrateComplete, map[string]string{"task_id": task.TaskID}, nil)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)

	var tasks TasksResult
	mustOK(t, call(t, b, tools.OpOrchestrateTasks, nil, &tasks))
	assert.Empty(t, tasks.Active)
	assert.Len(t, tasks.Completed, 1)
}

func TestAssignValidation(t *testing.T) {
	b := newTestBridge(t)
	var task orchestrator.Task
	mustOK(t, call(t, b, tools.OpOrchestrateDecompose, map[string]interface{}{"objective": "x", "max_goals": 2}, &task))

	resp := call(t, b, tools.OpOrchestrateAssign, map[string]interface{}{"task_id": task.TaskID, "role": "Research"}, nil)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	resp = call(t, b, tools.OpOrchestrateAssign, map[string]interface{}{"task_id": task.TaskID, "sub_goal_index": 2, "role": "Research"}, nil)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	resp = call(t, b, tools.OpOrchestrateAssign, map[string]interface{}{"task_id": "missing", "sub_goal_index": 0, "role": "Research"}, nil)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)
}

func TestConsensusThroughBridge(t *testing.T) {
	b := newTestBridge(t)
	agents := []string{"a1", "a2", "a3", "a4"}

	resp := call(t, b, tools.OpConsensusInitiate, map[string]interface{}{
		"decision_id": "d1", "description": "deploy", "agents": agents[:3],
	}, nil)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	mustOK(t, call(t, b, tools.OpConsensusInitiate, map[string]interface{}{
		"decision_id": "d1", "description": "deploy", "agents": agents,
	}, nil))

	for _, a := range agents[:3] {
		mustOK(t, call(t, b, tools.OpConsensusVote, map[string]string{
			"decision_id": "d1", "agent_id": a, "vote": "Approve",
		}, nil))
	}

	resp = call(t, b, tools.OpConsensusVote, map[string]string{"decision_id": "d1", "agent_id": "a1", "vote": "reject"}, nil)
	assert.Equal(t, core.KindConflict, resp.Error.Kind)

	resp = call(t, b, tools.OpConsensusVote, map[string]string{"decision_id": "d1", "agent_id": "a4", "vote": "maybe"}, nil)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	var result struct {
		Decision string `json:"decision"`
	}
	mustOK(t, call(t, b, tools.OpConsensusTally, map[string]string{"decision_id": "d1"}, &result))
	assert.Equal(t, "approved", result.Decision)

	resp = call(t, b, tools.OpConsensusVote, map[string]string{"decision_id": "d1", "agent_id": "a4", "vote": "approve"}, nil)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)
}

func TestMemoryThroughBridge(t *testing.T) {
	b := newTestBridge(t)

	mustOK(t, call(t, b, tools.OpSessionSet, map[string]interface{}{
		"session_id": "s1", "data": map[string]int{"step": 2}, "ttl_seconds": 60,
	}, nil))
	var sess SessionResult
	mustOK(t, call(t, b, tools.OpSessionGet, map[string]string{"session_id": "s1"}, &sess))
	assert.JSONEq(t, `{"step":2}`, string(sess.Data))
	assert.Equal(t, 60, sess.TTLSeconds)
	assert.Equal(t, "in-memory", sess.Backend)

	resp := call(t, b, tools.OpSessionGet, map[string]string{"session_id": "nope"}, nil)
	assert.Equal(t, core.KindNotFound, resp.Error.Kind)

	var idx IndexResult
	mustOK(t, call(t, b, tools.OpSemanticIndex, map[string]string{"doc_id": "d", "content": "quorum voting"}, &idx))
	assert.Equal(t, "vec_0", idx.VectorID)

	var hits SearchResult
	mustOK(t, call(t, b, tools.OpSemanticSearch, map[string]interface{}{"query": "voting"}, &hits))
	assert.Equal(t, 1, hits.Count)

	for _, n := range []string{"A", "B", "C", "D"} {
		mustOK(t, call(t, b, tools.OpRelationalNode, map[string]string{"node_id": n, "node_type": "step"}, nil))
	}
	for _, e := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}} {
		mustOK(t, call(t, b, tools.OpRelationalRelationship, map[string]string{"from_node": e[0], "to_node": e[1], "rel_type": "NEXT"}, nil))
	}

	var path PathResult
	mustOK(t, call(t, b, tools.OpRelationalPath, map[string]interface{}{"start_node": "A", "end_node": "D", "max_hops": 2}, &path))
	assert.Nil(t, path.Path)
	mustOK(t, call(t, b, tools.OpRelationalPath, map[string]interface{}{"start_node": "A", "end_node": "D"}, &path))
	assert.Equal(t, []string{"A", "B", "C", "D"}, path.Path)
	assert.Equal(t, 3, path.Hops)

	resp = call(t, b, tools.OpRelationalPath, map[string]interface{}{"start_node": "A", "end_node": "D", "max_hops": 1000}, nil)
	assert.Equal(t, core.KindValidation, resp.Error.Kind)

	var entry EntryResult
	mustOK(t, call(t, b, tools.OpWorkingAdd, map[string]string{"content": "remember this"}, &entry))
	assert.Equal(t, "note", entry.Entry.Type)

	var status struct {
		Working struct {
			Entries int `json:"entries"`
		} `json:"working_memory"`
		Relational struct {
			Nodes int `json:"nodes"`
		} `json:"relational_memory"`
	}
	mustOK(t, call(t, b, tools.OpMemoryStatus, nil, &status))
	assert.Equal(t, 1, status.Working.Entries)
	assert.Equal(t, 4, status.Relational.Nodes)
}

func TestWorkersThroughBridge(t *testing.T) {
	b := newTestBridge(t)

	resp := call(t, b, tools.OpWorkersAssign, map[string]string{"role": "Legal", "task_id": "t", "instruction": "x"}, nil)
	assert.Equal(t, core.KindConflict, resp.Error.Kind)

	var avail AvailableResult
	mustOK(t, call(t, b, tools.OpWorkersAvailable, map[string]string{"role": "Finance"}, &avail))
	require.True(t, avail.Available)

	mustOK(t, call(t, b, tools.OpWorkersAssign, map[string]string{"role": "Finance", "task_id": "t", "instruction": "x"}, nil))

	var hist HistoryResult
	mustOK(t, call(t, b, tools.OpWorkersHistory, map[string]string{"agent_id": avail.Worker.AgentID}, &hist))
	assert.Len(t, hist.History, 1)

	var ops OperationsResult
	mustOK(t, call(t, b, tools.OpOperationsList, nil, &ops))
	assert.Len(t, ops.Operations, len(tools.Operations()))
}
