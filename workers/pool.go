// Package workers runs sub-goals on a fixed roster of role-tagged workers.
package workers

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

// Default roles, one worker each unless configured otherwise.
const (
	RoleResearch       = "Research"
	RoleFinance        = "Finance"
	RoleAnalysis       = "Analysis"
	RoleImplementation = "Implementation"
)

// DefaultRoles lists the roster roles in order.
var DefaultRoles = []string{RoleResearch, RoleFinance, RoleAnalysis, RoleImplementation}

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Request is what an Executor receives.
type Request struct {
	TaskID      string
	AgentID     string
	Role        string
	Instruction string
}

// Executor performs the work for one instruction.
type Executor interface {
	Execute(ctx context.Context, req Request) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// EchoExecutor returns a stub result naming the role and instruction.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, req Request) (string, error) {
	return fmt.Sprintf("Stub result from %s agent for: %s", req.Role, req.Instruction), nil
}

// Result is the record of one executed instruction.
type Result struct {
	TaskID      string    `json:"task_id"`
	AgentID     string    `json:"agent_id"`
	Role        string    `json:"role"`
	Instruction string    `json:"instruction"`
	Result      string    `json:"result"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CurrentTask describes the instruction a busy worker is running.
type CurrentTask struct {
	TaskID      string    `json:"task_id"`
	Instruction string    `json:"instruction"`
	StartedAt   time.Time `json:"started_at"`
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	AgentID        string       `json:"agent_id"`
	Role           string       `json:"role"`
	CurrentTask    *CurrentTask `json:"current_task"`
	TasksCompleted int          `json:"tasks_completed"`
	Available      bool         `json:"is_available"`
}

// PoolStatus summarizes the roster.
type PoolStatus struct {
	TotalWorkers     int            `json:"total_workers"`
	AvailableWorkers int            `json:"available_workers"`
	Workers          []WorkerStatus `json:"workers"`
}

type worker struct {
	agentID string
	role    string
	current *CurrentTask
	history []Result
}

func (w *worker) status() WorkerStatus {
	s := WorkerStatus{
		AgentID:        w.agentID,
		Role:           w.role,
		TasksCompleted: len(w.history),
		Available:      w.current == nil,
	}
	if w.current != nil {
		c := *w.current
		s.CurrentTask = &c
	}
	return s
}

// Option configures the pool.
type Option func(*Pool)

// WithRoles replaces the default roles.
func WithRoles(roles ...string) Option {
	return func(p *Pool) {
		p.roles = roles
	}
}

// WithWorkersPerRole sets how many workers each role gets.
func WithWorkersPerRole(n int) Option {
	return func(p *Pool) {
		p.perRole = n
	}
}

// WithExecutor binds exec to role.
func WithExecutor(role string, exec Executor) Option {
	return func(p *Pool) {
		p.executors[role] = exec
	}
}

// WithDefaultExecutor sets the executor for roles without a binding.
func WithDefaultExecutor(exec Executor) Option {
	return func(p *Pool) {
		p.fallback = exec
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c core.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// Pool owns a fixed roster of workers. It is safe for concurrent use: a
// worker is claimed under the lock, so one worker never runs two
// instructions at once.
type Pool struct {
	roles     []string
	perRole   int
	executors map[string]Executor
	fallback  Executor
	clock     core.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	workers []*worker // roster order
	byID    map[string]*worker
}

// New builds the roster.
func New(opts ...Option) *Pool {
	p := &Pool{
		roles:     DefaultRoles,
		perRole:   1,
		executors: make(map[string]Executor),
		fallback:  EchoExecutor{},
		clock:     core.SystemClock{},
		logger:    slog.Default(),
		byID:      make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.perRole <= 0 {
		p.perRole = 1
	}
	p.logger = p.logger.With("component", "workers")

	seen := make(map[string]bool)
	for _, role := range p.roles {
		role = strings.TrimSpace(role)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		for i := 0; i < p.perRole; i++ {
			w := &worker{agentID: uuid.NewString(), role: role}
			p.workers = append(p.workers, w)
			p.byID[w.agentID] = w
		}
	}
	p.logger.Info("worker pool initialized", "workers", len(p.workers), "roles", len(seen))
	return p
}

// AssignTask runs instruction on an idle worker of role. It returns
// core.ErrNoAvailableWorker, leaving the pool untouched, when every worker
// of that role is busy or the role is unknown.
//
// An executor error is recorded as a failed Result and also returned.
func (p *Pool) AssignTask(ctx context.Context, role, taskID, instruction string) (Result, error) {
	w, started, err := p.claim(role, taskID, instruction)
	if err != nil {
		return Result{}, err
	}

	exec := p.executorFor(role)
	out, execErr := exec.Execute(ctx, Request{
		TaskID:      taskID,
		AgentID:     w.agentID,
		Role:        role,
		Instruction: instruction,
	})

	res := Result{
		TaskID:      taskID,
		AgentID:     w.agentID,
		Role:        role,
		Instruction: instruction,
		Result:      out,
		Status:      StatusCompleted,
		StartedAt:   started,
		CompletedAt: p.clock.Now(),
	}
	if execErr != nil {
		res.Status = StatusFailed
		res.Error = execErr.Error()
		p.logger.Warn("task failed", "agent_id", w.agentID, "role", role, "task_id", taskID, "error", execErr)
	}

	p.mu.Lock()
	w.history = append(w.history, res)
	w.current = nil
	p.mu.Unlock()

	if execErr != nil {
		return res, fmt.Errorf("execute %s task %s: %w", role, taskID, execErr)
	}
	p.logger.Debug("task completed", "agent_id", w.agentID, "role", role, "task_id", taskID)
	return res, nil
}

// claim marks the first idle worker of role busy.
func (p *Pool) claim(role, taskID, instruction string) (*worker, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.role == role && w.current == nil {
			now := p.clock.Now()
			w.current = &CurrentTask{TaskID: taskID, Instruction: instruction, StartedAt: now}
			return w, now, nil
		}
	}
	return nil, time.Time{}, fmt.Errorf("%w for role: %s", core.ErrNoAvailableWorker, role)
}

func (p *Pool) executorFor(role string) Executor {
	if exec, ok := p.executors[role]; ok {
		return exec
	}
	return p.fallback
}

// Status reports every worker in roster order.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := PoolStatus{
		TotalWorkers: len(p.workers),
		Workers:      make([]WorkerStatus, 0, len(p.workers)),
	}
	for _, w := range p.workers {
		ws := w.status()
		if ws.Available {
			st.AvailableWorkers++
		}
		st.Workers = append(st.Workers, ws)
	}
	return st
}

// Roles lists the roster roles, sorted.
func (p *Pool) Roles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool)
	var roles []string
	for _, w := range p.workers {
		if !seen[w.role] {
			seen[w.role] = true
			roles = append(roles, w.role)
		}
	}
	sort.Strings(roles)
	return roles
}

// Available returns an idle worker of role without claiming it.
func (p *Pool) Available(role string) (WorkerStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.role == role && w.current == nil {
			return w.status(), true
		}
	}
	return WorkerStatus{}, false
}

// History returns the results recorded by one worker.
func (p *Pool) History(agentID string) ([]Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.byID[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWorkerNotFound, agentID)
	}
	return append([]Result(nil), w.history...), nil
}
