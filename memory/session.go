package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/nim-bridge/core"
)

// DefaultSessionTTL applies when Set is called without a TTL.
const DefaultSessionTTL = time.Hour

const sessionPrefix = "session:"

// SessionRecord is the stored form of a session.
type SessionRecord struct {
	SessionID  string          `json:"session_id"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
	TTLSeconds int             `json:"ttl_seconds"`
}

// SessionStore keeps live task state keyed by session id.
//
// Writes go to the primary KVStore when one is configured. If it fails, the
// write lands in the in-process fallback instead. Reads that miss or fail on
// the primary consult the fallback, so degraded writes stay readable.
type SessionStore struct {
	primary  KVStore
	fallback KVStore
	opts     options
}

// NewSessionStore creates a session tier. primary may be nil.
func NewSessionStore(primary KVStore, opts ...Option) *SessionStore {
	return &SessionStore{
		primary:  primary,
		fallback: NewMapKV(),
		opts:     buildOptions("memory.session", opts),
	}
}

// Backend names the configured backend.
func (s *SessionStore) Backend() string {
	if s.primary != nil {
		return s.primary.Name()
	}
	return s.fallback.Name()
}

// Production reports whether a real backend is configured.
func (s *SessionStore) Production() bool {
	return s.primary != nil
}

// Set stores data for id, replacing any previous value.
func (s *SessionStore) Set(ctx context.Context, id string, data json.RawMessage, ttl time.Duration) (SessionRecord, Outcome, error) {
	if strings.TrimSpace(id) == "" {
		return SessionRecord{}, Outcome{}, core.Invalidf("session id is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if !json.Valid(data) {
		return SessionRecord{}, Outcome{}, core.Invalidf("session data must be valid JSON")
	}

	rec := SessionRecord{
		SessionID:  id,
		Data:       data,
		UpdatedAt:  s.opts.clock.Now(),
		TTLSeconds: int(ttl / time.Second),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return SessionRecord{}, Outcome{}, fmt.Errorf("marshal session: %w", err)
	}

	key := sessionPrefix + id
	if s.primary != nil {
		err := s.primary.Set(ctx, key, raw, ttl)
		if err == nil {
			return rec, Outcome{Backend: s.primary.Name()}, nil
		}
		s.opts.logger.Warn("session set failed, using fallback", "backend", s.primary.Name(), "session_id", id, "error", err)
	}

	// MapKV never fails.
	_ = s.fallback.Set(ctx, key, raw, ttl)
	return rec, s.fallbackOutcome(), nil
}

// Get returns the session, or core.ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (SessionRecord, Outcome, error) {
	key := sessionPrefix + id
	degraded := false

	if s.primary != nil {
		raw, ok, err := s.primary.Get(ctx, key)
		switch {
		case err != nil:
			s.opts.logger.Warn("session get failed, using fallback", "backend", s.primary.Name(), "session_id", id, "error", err)
			degraded = true
		case ok:
			rec, err := decodeSession(raw)
			return rec, Outcome{Backend: s.primary.Name()}, err
		}
	}

	raw, ok, _ := s.fallback.Get(ctx, key)
	out := s.outcome(degraded, ok)
	if !ok {
		return SessionRecord{}, out, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	rec, err := decodeSession(raw)
	return rec, out, err
}

// Delete removes the session from every backend and reports whether it existed.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, Outcome) {
	key := sessionPrefix + id
	existed, degraded := false, false

	if s.primary != nil {
		ok, err := s.primary.Delete(ctx, key)
		if err != nil {
			s.opts.logger.Warn("session delete failed, using fallback", "backend", s.primary.Name(), "session_id", id, "error", err)
			degraded = true
		}
		existed = ok
	}

	ok, _ := s.fallback.Delete(ctx, key)
	existed = existed || ok
	return existed, s.outcome(degraded, ok)
}

// Exists reports whether a session is stored.
func (s *SessionStore) Exists(ctx context.Context, id string) (bool, Outcome) {
	key := sessionPrefix + id
	degraded := false

	if s.primary != nil {
		_, ok, err := s.primary.Get(ctx, key)
		if err != nil {
			s.opts.logger.Warn("session exists failed, using fallback", "backend", s.primary.Name(), "session_id", id, "error", err)
			degraded = true
		} else if ok {
			return true, Outcome{Backend: s.primary.Name()}
		}
	}

	_, ok, _ := s.fallback.Get(ctx, key)
	return ok, s.outcome(degraded, ok)
}

// IDs lists stored session ids in sorted order.
func (s *SessionStore) IDs(ctx context.Context) ([]string, Outcome) {
	seen := make(map[string]struct{})
	out := Outcome{Backend: s.Backend()}

	if s.primary != nil {
		keys, err := s.primary.Keys(ctx, sessionPrefix)
		if err != nil {
			s.opts.logger.Warn("session list failed, using fallback", "backend", s.primary.Name(), "error", err)
			out = Outcome{Backend: s.fallback.Name(), Degraded: true}
		}
		for _, k := range keys {
			seen[strings.TrimPrefix(k, sessionPrefix)] = struct{}{}
		}
	}

	keys, _ := s.fallback.Keys(ctx, sessionPrefix)
	for _, k := range keys {
		seen[strings.TrimPrefix(k, sessionPrefix)] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, out
}

// Close releases the primary backend.
func (s *SessionStore) Close() error {
	if s.primary != nil {
		return s.primary.Close()
	}
	return nil
}

// outcome reports the fallback as the serving backend when it answered
// (hit) or when the primary failed; otherwise the primary served the miss.
func (s *SessionStore) outcome(degraded, hit bool) Outcome {
	if s.primary == nil {
		return Outcome{Backend: s.fallback.Name()}
	}
	if degraded || hit {
		return Outcome{Backend: s.fallback.Name(), Degraded: true}
	}
	return Outcome{Backend: s.primary.Name()}
}

func (s *SessionStore) fallbackOutcome() Outcome {
	return Outcome{Backend: s.fallback.Name(), Degraded: s.primary != nil}
}

func decodeSession(raw []byte) (SessionRecord, error) {
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}
