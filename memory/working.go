package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultWorkingBudget is the working memory capacity when none is given.
const DefaultWorkingBudget = 50

// Entry is one item of working memory.
type Entry struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// WorkingMemory is a bounded, insertion-ordered buffer of recent context.
// Once it holds budget entries, each Add evicts the oldest one.
type WorkingMemory struct {
	budget int
	opts   options

	mu      sync.RWMutex
	entries []Entry
}

// NewWorkingMemory creates a buffer holding at most budget entries.
// A non-positive budget uses DefaultWorkingBudget.
func NewWorkingMemory(budget int, opts ...Option) *WorkingMemory {
	if budget <= 0 {
		budget = DefaultWorkingBudget
	}
	return &WorkingMemory{
		budget:  budget,
		opts:    buildOptions("memory.working", opts),
		entries: make([]Entry, 0, budget),
	}
}

// Add stamps the entry with a timestamp and content digest and appends it.
func (w *WorkingMemory) Add(e Entry) Entry {
	e.Timestamp = w.opts.clock.Now()
	e.ID = entryDigest(e)

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) >= w.budget {
		evicted := w.entries[0]
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:len(w.entries)-1]
		w.opts.logger.Debug("evicted oldest entry", "id", evicted.ID)
	}
	w.entries = append(w.entries, e)
	return e
}

// Recent returns the last n entries, oldest first. n <= 0 returns everything.
func (w *WorkingMemory) Recent(n int) []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	start := 0
	if n > 0 && n < len(w.entries) {
		start = len(w.entries) - n
	}
	return append([]Entry(nil), w.entries[start:]...)
}

// All returns every entry, oldest first.
func (w *WorkingMemory) All() []Entry {
	return w.Recent(0)
}

// Search returns entries whose content or type contains keyword,
// case-insensitively.
func (w *WorkingMemory) Search(keyword string) []Entry {
	q := strings.ToLower(keyword)

	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []Entry
	for _, e := range w.entries {
		if strings.Contains(strings.ToLower(e.Content), q) || strings.Contains(strings.ToLower(e.Type), q) {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every entry.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = w.entries[:0]
}

// Len returns the number of entries held.
func (w *WorkingMemory) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Budget returns the capacity.
func (w *WorkingMemory) Budget() int {
	return w.budget
}

// Full reports whether the buffer is at capacity.
func (w *WorkingMemory) Full() bool {
	return w.Len() >= w.budget
}

// entryDigest derives the entry id from its content. Map keys marshal in
// sorted order, so the digest is stable for equal entries.
func entryDigest(e Entry) string {
	payload, err := json.Marshal(struct {
		Type      string                 `json:"type"`
		Content   string                 `json:"content"`
		Metadata  map[string]interface{} `json:"metadata"`
		Timestamp time.Time              `json:"timestamp"`
	}{e.Type, e.Content, e.Metadata, e.Timestamp})
	if err != nil {
		// Unmarshalable metadata; fall back to the plain fields.
		payload = []byte(e.Type + "\x00" + e.Content + "\x00" + e.Timestamp.String())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}
