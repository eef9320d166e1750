// Package engine backs orchestrator decomposition and worker execution with
// Claude.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-bridge/workers"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
)

// ErrEmptyResponse is returned when Claude replies without text.
var ErrEmptyResponse = errors.New("claude returned no text")

// messageClient is the slice of the Messages API the engine uses.
type messageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Engine implements orchestrator.Generator and workers.Executor.
type Engine struct {
	messages  messageClient
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithModel sets the Claude model.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine using client.
func New(client *anthropic.Client, opts ...Option) *Engine {
	return newEngine(&client.Messages, opts)
}

// NewFromAPIKey creates a client for apiKey and wraps it.
func NewFromAPIKey(apiKey string, opts ...Option) *Engine {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return New(&client, opts...)
}

func newEngine(m messageClient, opts []Option) *Engine {
	e := &Engine{
		messages:  m,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine", "model", e.model)
	return e
}

const plannerPrompt = `You break objectives into concrete, distinct sub-goals for a team of specialist agents (research, finance, analysis, implementation).

Reply with a numbered list only, one sub-goal per line, no preamble.`

// Generate asks Claude for at most maxGoals sub-goals.
func (e *Engine) Generate(ctx context.Context, objective string, maxGoals int) ([]string, error) {
	prompt := fmt.Sprintf("Objective: %s\n\nList between 3 and %d sub-goals.", objective, maxGoals)
	text, err := e.complete(ctx, plannerPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate sub-goals: %w", err)
	}

	goals := ParseList(text, maxGoals)
	e.logger.Debug("generated sub-goals", "count", len(goals))
	return goals, nil
}

// Execute runs one worker instruction in the voice of the worker's role.
func (e *Engine) Execute(ctx context.Context, req workers.Request) (string, error) {
	system := fmt.Sprintf("You are the %s specialist in a multi-agent team. Complete the assigned sub-goal and report the result concisely.", req.Role)
	prompt := fmt.Sprintf("Task %s\n\n%s", req.TaskID, req.Instruction)

	text, err := e.complete(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("execute instruction: %w", err)
	}
	return text, nil
}

func (e *Engine) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := e.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ParseList extracts list items from text: numbered ("1.", "2)") or bulleted
// ("-", "*") lines. If no line is marked, every non-blank line is an item.
// At most limit items are returned; limit <= 0 means no limit.
func ParseList(text string, limit int) []string {
	var marked, plain []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if item, ok := stripMarker(line); ok {
			if item != "" {
				marked = append(marked, item)
			}
			continue
		}
		plain = append(plain, line)
	}

	items := marked
	if len(items) == 0 {
		items = plain
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func stripMarker(line string) (string, bool) {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return strings.TrimSpace(line[2:]), true
	}

	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i == 0 || i == len(line) {
		return "", false
	}
	if line[i] != '.' && line[i] != ')' {
		return "", false
	}
	return strings.TrimSpace(line[i+1:]), true
}
