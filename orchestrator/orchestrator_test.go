package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-bridge/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGenerator struct {
	goals []string
	err   error
}

func (g stubGenerator) Generate(context.Context, string, int) ([]string, error) {
	return g.goals, g.err
}

func TestDecomposeTemplate(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()))

	task, err := o.Decompose(context.Background(), "Build search", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Research requirements for: Build search",
		"Design architecture for: Build search",
		"Create implementation plan for: Build search",
	}, task.SubGoals)
	assert.Equal(t, StatusCreated, task.Status)
	assert.False(t, task.Degraded)
	assert.NotEmpty(t, task.TaskID)

	task, err = o.Decompose(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, task.SubGoals, DefaultMaxGoals)

	capped := New(WithLogger(quietLogger()), WithMaxGoals(2))
	task, err = capped.Decompose(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, task.SubGoals, 2)
}

func TestDecomposeValidation(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()))
	_, err := o.Decompose(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, o.Active())
}

func TestDecomposeGenerator(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		gen      stubGenerator
		want     []string
		degraded bool
	}{
		{"uses generator", stubGenerator{goals: []string{"a", "b", "c"}}, []string{"a", "b"}, false},
		{"error falls back", stubGenerator{err: errors.New("boom")}, []string{"Research requirements for: obj", "Design architecture for: obj"}, true},
		{"empty falls back", stubGenerator{}, []string{"Research requirements for: obj", "Design architecture for: obj"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(WithGenerator(tt.gen), WithLogger(quietLogger()))
			task, err := o.Decompose(context.Background(), "obj", 2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, task.SubGoals)
			assert.Equal(t, tt.degraded, task.Degraded)
		})
	}
}

func TestAssignToWorker(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()), WithIDFunc(func() string { return "t1" }))
	_, err := o.Decompose(context.Background(), "obj", 3)
	require.NoError(t, err)

	a, err := o.AssignToWorker("t1", 1, "Research")
	require.NoError(t, err)
	assert.Equal(t, "Design architecture for: obj", a.SubGoal)
	assert.Equal(t, AssignmentStatus, a.Status)

	// Reassigning the same index records a second assignment.
	b, err := o.AssignToWorker("t1", 1, "Finance")
	require.NoError(t, err)
	assert.NotEqual(t, a.AssignmentID, b.AssignmentID)

	task, err := o.TaskStatus("t1")
	require.NoError(t, err)
	assert.Len(t, task.Assignments, 2)

	_, err = o.AssignToWorker("t1", 3, "Research")
	assert.ErrorIs(t, err, core.ErrIndexOutOfRange)
	_, err = o.AssignToWorker("t1", -1, "Research")
	assert.ErrorIs(t, err, core.ErrIndexOutOfRange)
	_, err = o.AssignToWorker("nope", 0, "Research")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
	_, err = o.AssignToWorker("t1", 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMarkComplete(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()))
	task, err := o.Decompose(context.Background(), "obj", 2)
	require.NoError(t, err)

	assert.True(t, o.MarkComplete(task.TaskID))
	assert.False(t, o.MarkComplete(task.TaskID))
	assert.False(t, o.MarkComplete("unknown"))

	got, err := o.TaskStatus(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	_, err = o.AssignToWorker(task.TaskID, 0, "Research")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)

	assert.Empty(t, o.Active())
	assert.Len(t, o.Completed(), 1)

	_, err = o.TaskStatus("unknown")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestTaskStatusReturnsCopy(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()))
	task, err := o.Decompose(context.Background(), "obj", 2)
	require.NoError(t, err)

	task.SubGoals[0] = "mutated"
	got, err := o.TaskStatus(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "Research requirements for: obj", got.SubGoals[0])
}

func TestConcurrentAssignments(t *testing.T) {
	t.Parallel()
	o := New(WithLogger(quietLogger()))
	task, err := o.Decompose(context.Background(), "obj", 5)
	require.NoError(t, err)

	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			_, err := o.AssignToWorker(task.TaskID, i%5, fmt.Sprintf("role-%d", i%3))
			done <- err
		}(i)
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, <-done)
	}

	got, err := o.TaskStatus(task.TaskID)
	require.NoError(t, err)
	assert.Len(t, got.Assignments, 50)
}
