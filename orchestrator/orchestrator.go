// Package orchestrator decomposes objectives into sub-goals and tracks
// the resulting tasks through assignment and completion.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-bridge/core"
)

// DefaultMaxGoals caps decomposition when the caller passes maxGoals <= 0.
const DefaultMaxGoals = 5

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusCreated   TaskStatus = "created"
	StatusCompleted TaskStatus = "completed"
)

// AssignmentStatus is recorded on every new assignment.
const AssignmentStatus = "assigned"

// Generator produces sub-goals for an objective.
type Generator interface {
	Generate(ctx context.Context, objective string, maxGoals int) ([]string, error)
}

// TemplateGenerator returns the fixed five-step plan.
type TemplateGenerator struct{}

// Generate never fails.
func (TemplateGenerator) Generate(_ context.Context, objective string, maxGoals int) ([]string, error) {
	goals := []string{
		"Research requirements for: " + objective,
		"Design architecture for: " + objective,
		"Create implementation plan for: " + objective,
		"Implement and test: " + objective,
		"Document and deploy: " + objective,
	}
	if maxGoals > 0 && maxGoals < len(goals) {
		goals = goals[:maxGoals]
	}
	return goals, nil
}

// Assignment records a sub-goal handed to a worker role.
type Assignment struct {
	AssignmentID string    `json:"assignment_id"`
	TaskID       string    `json:"task_id"`
	SubGoal      string    `json:"sub_goal"`
	SubGoalIndex int       `json:"sub_goal_index"`
	WorkerRole   string    `json:"worker_role"`
	Status       string    `json:"status"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Task is a decomposed objective.
type Task struct {
	TaskID      string                `json:"task_id"`
	Objective   string                `json:"objective"`
	SubGoals    []string              `json:"sub_goals"`
	Assignments map[string]Assignment `json:"worker_assignments"`
	Status      TaskStatus            `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`

	// Degraded is set when the template plan stood in for the generator.
	Degraded bool `json:"degraded"`
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithGenerator sets the sub-goal generator. Without one, every task uses
// the template plan.
func WithGenerator(g Generator) Option {
	return func(o *Orchestrator) {
		o.generator = g
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c core.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMaxGoals sets the decomposition cap used when a caller passes
// maxGoals <= 0.
func WithMaxGoals(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxGoals = n
		}
	}
}

// WithIDFunc overrides task id generation.
func WithIDFunc(f func() string) Option {
	return func(o *Orchestrator) {
		o.newID = f
	}
}

// Orchestrator owns task state. It is safe for concurrent use.
type Orchestrator struct {
	generator Generator
	clock     core.Clock
	logger    *slog.Logger
	newID     func() string
	maxGoals  int

	mu        sync.RWMutex
	active    map[string]*Task
	completed map[string]*Task
	seq       int
}

// New creates an orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clock:     core.SystemClock{},
		logger:    slog.Default(),
		newID:     uuid.NewString,
		maxGoals:  DefaultMaxGoals,
		active:    make(map[string]*Task),
		completed: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// Decompose splits objective into at most maxGoals sub-goals and records a
// new task. The generator runs outside the lock.
func (o *Orchestrator) Decompose(ctx context.Context, objective string, maxGoals int) (Task, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return Task{}, core.Invalidf("objective is required")
	}
	if maxGoals <= 0 {
		maxGoals = o.maxGoals
	}

	goals, degraded := o.generate(ctx, objective, maxGoals)

	task := &Task{
		TaskID:      o.newID(),
		Objective:   objective,
		SubGoals:    goals,
		Assignments: make(map[string]Assignment),
		Status:      StatusCreated,
		CreatedAt:   o.clock.Now(),
		Degraded:    degraded,
	}

	o.mu.Lock()
	o.active[task.TaskID] = task
	o.mu.Unlock()

	o.logger.Info("task created", "task_id", task.TaskID, "sub_goals", len(goals), "degraded", degraded)
	return cloneTask(task), nil
}

func (o *Orchestrator) generate(ctx context.Context, objective string, maxGoals int) ([]string, bool) {
	if o.generator != nil {
		goals, err := o.generator.Generate(ctx, objective, maxGoals)
		switch {
		case err != nil:
			o.logger.Warn("generator failed, using template plan", "error", err)
		case len(goals) == 0:
			o.logger.Warn("generator returned no sub-goals, using template plan")
		default:
			if len(goals) > maxGoals {
				goals = goals[:maxGoals]
			}
			return goals, false
		}
	}

	goals, _ := TemplateGenerator{}.Generate(ctx, objective, maxGoals)
	return goals, o.generator != nil
}

// AssignToWorker records sub-goal index of an active task as assigned to
// role. Every call adds a new assignment.
func (o *Orchestrator) AssignToWorker(taskID string, index int, role string) (Assignment, error) {
	if strings.TrimSpace(role) == "" {
		return Assignment{}, core.Invalidf("worker role is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.active[taskID]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
	}
	if index < 0 || index >= len(task.SubGoals) {
		return Assignment{}, fmt.Errorf("%w: %d not in [0, %d)", core.ErrIndexOutOfRange, index, len(task.SubGoals))
	}

	o.seq++
	a := Assignment{
		AssignmentID: fmt.Sprintf("%s_%d_%d", taskID, index, o.seq),
		TaskID:       taskID,
		SubGoal:      task.SubGoals[index],
		SubGoalIndex: index,
		WorkerRole:   role,
		Status:       AssignmentStatus,
		AssignedAt:   o.clock.Now(),
	}
	task.Assignments[a.AssignmentID] = a

	o.logger.Debug("sub-goal assigned", "task_id", taskID, "index", index, "role", role)
	return a, nil
}

// MarkComplete moves an active task to the completed set. It reports false
// when the task is not active.
func (o *Orchestrator) MarkComplete(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.active[taskID]
	if !ok {
		return false
	}
	now := o.clock.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	delete(o.active, taskID)
	o.completed[taskID] = task

	o.logger.Info("task completed", "task_id", taskID)
	return true
}

// TaskStatus returns the active or completed task, or core.ErrTaskNotFound.
func (o *Orchestrator) TaskStatus(taskID string) (Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if t, ok := o.active[taskID]; ok {
		return cloneTask(t), nil
	}
	if t, ok := o.completed[taskID]; ok {
		return cloneTask(t), nil
	}
	return Task{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, taskID)
}

// Active returns active tasks ordered by creation time.
func (o *Orchestrator) Active() []Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return snapshot(o.active)
}

// Completed returns completed tasks ordered by creation time.
func (o *Orchestrator) Completed() []Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return snapshot(o.completed)
}

func snapshot(m map[string]*Task) []Task {
	out := make([]Task, 0, len(m))
	for _, t := range m {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneTask(t *Task) Task {
	c := *t
	c.SubGoals = append([]string(nil), t.SubGoals...)
	c.Assignments = make(map[string]Assignment, len(t.Assignments))
	for k, v := range t.Assignments {
		c.Assignments[k] = v
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
