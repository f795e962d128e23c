// Package ctxstore implements the Multi-Tier Context Store:
// a hot in-process LRU, a warm TTL cache, and a cold durable document
// store, composed behind WriteContext/AppendContext/ReadContext/
// DeleteContext with per-session write serialization.
package ctxstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
	"github.com/sipeed/turnhub/pkg/metrics"
	"github.com/sipeed/turnhub/pkg/perrors"
)

// ReadResult is the composed view returned by ReadContext.
type ReadResult struct {
	Envelope    *domain.ContextEnvelope
	Appends     []domain.AppendedResult
	Total       int
	LastUpdated time.Time
	ExpiresAt   time.Time
}

// Store composes the three tiers and keys per-session locks so concurrent
// writes to one session serialize while cross-session writes proceed in
// parallel.
type Store struct {
	hot  *hotCache
	warm *warmStore
	cold ColdStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	readGroup singleflight.Group
}

// New builds a Store over the given cold backend.
func New(cold ColdStore, warmTTL time.Duration, hotSize int) *Store {
	return &Store{
		hot:   newHotCache(hotSize),
		warm:  newWarmStore(warmTTL),
		cold:  cold,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

const maxPayloadChatHistory = 200

// WriteContext upserts warm + cold from the caller's perspective: cold
// succeeding is the commit point; warm and hot are refreshed best-effort
// afterward.
func (s *Store) WriteContext(ctx context.Context, env domain.ContextEnvelope) error {
	lock := s.sessionLock(env.SessionID)
	lock.Lock()
	defer lock.Unlock()

	trimChatHistory(&env)

	if err := s.cold.WriteEnvelope(ctx, env); err != nil {
		return err
	}
	s.warm.put(env)
	s.hot.put(env)
	return nil
}

// trimChatHistory enforces the bounded-payload-size invariant by dropping
// the oldest chat_history entries first.
func trimChatHistory(env *domain.ContextEnvelope) {
	raw, ok := env.Payload["chat_history"]
	if !ok {
		return
	}
	hist, ok := raw.([]interface{})
	if !ok || len(hist) <= maxPayloadChatHistory {
		return
	}
	env.Payload["chat_history"] = hist[len(hist)-maxPayloadChatHistory:]
}

// AppendContext pushes an append to the bounded warm list and the
// unbounded cold collection, in arrival order.
func (s *Store) AppendContext(ctx context.Context, result domain.AppendedResult) error {
	lock := s.sessionLock(result.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if result.AppendID == "" {
		result.AppendID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	if err := s.cold.AppendResult(ctx, result); err != nil {
		return err
	}
	s.warm.appendBounded(result.SessionID, result)
	return nil
}

// ReadContext returns the composed envelope + recent appends, preferring
// hot, then warm, then cold; it returns not-found only if every tier
// misses.
func (s *Store) ReadContext(ctx context.Context, sessionID string) (*ReadResult, error) {
	if env, ok := s.hot.get(sessionID); ok {
		metrics.RecordTierHit("hot")
		appends, total, err := s.readRecentAppends(ctx, sessionID)
		if err != nil {
			logger.WarnCF("ctxstore", "cold append read failed on hot hit", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
		return &ReadResult{Envelope: &env, Appends: appends, Total: total, LastUpdated: env.CreatedAt, ExpiresAt: env.ExpiresAt}, nil
	}

	if e, ok := s.warm.get(sessionID); ok && e.envelope != nil {
		metrics.RecordTierHit("warm")
		s.hot.put(*e.envelope)
		appends, total, err := s.readRecentAppends(ctx, sessionID)
		if err != nil {
			appends, total = e.appends, len(e.appends)
		}
		return &ReadResult{Envelope: e.envelope, Appends: appends, Total: total, LastUpdated: e.envelope.CreatedAt, ExpiresAt: e.envelope.ExpiresAt}, nil
	}

	// A cold miss on hot and warm is the expensive path; collapse concurrent
	// callers for the same session (a chat turn and a /history read racing,
	// say) into one round-trip instead of one each.
	raw, err, _ := s.readGroup.Do(sessionID, func() (interface{}, error) {
		return s.cold.ReadEnvelope(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	env := raw.(*domain.ContextEnvelope)
	metrics.RecordTierHit("cold")
	appends, total, err := s.readRecentAppends(ctx, sessionID)
	if err != nil {
		logger.WarnCF("ctxstore", "cold append read failed", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}
	s.warm.put(*env)
	s.hot.put(*env)
	return &ReadResult{Envelope: env, Appends: appends, Total: total, LastUpdated: env.CreatedAt, ExpiresAt: env.ExpiresAt}, nil
}

// readRecentAppends returns the session's 100 most recent appends in
// arrival order, plus the total count in the cold log.
func (s *Store) readRecentAppends(ctx context.Context, sessionID string) ([]domain.AppendedResult, int, error) {
	appends, total, err := s.cold.ReadAppends(ctx, sessionID, 100, 0)
	if err != nil || total <= 100 {
		return appends, total, err
	}
	return s.cold.ReadAppends(ctx, sessionID, 100, total-100)
}

// DeleteContext removes a session from every tier.
func (s *Store) DeleteContext(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.hot.delete(sessionID)
	s.warm.delete(sessionID)
	return s.cold.DeleteSession(ctx, sessionID)
}

// WriteTurn persists one Turn. Both the user-text and ai-text halves are
// already present on the struct, so the write is atomic from the caller's
// view.
func (s *Store) WriteTurn(ctx context.Context, turn domain.Turn) error {
	return s.cold.WriteTurn(ctx, turn)
}

// ReadTurns returns a session's turns in arrival order.
func (s *Store) ReadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	turns, err := s.cold.ReadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, perrors.ErrNotFound
	}
	return turns, nil
}

// DeleteTurns clears a session's turn history (DELETE /history/{session_id}).
func (s *Store) DeleteTurns(ctx context.Context, sessionID string) error {
	return s.cold.DeleteTurns(ctx, sessionID)
}

// GetContextForPrompt produces a compact Markdown summary suitable for
// prepending to an LLM prompt: the most recent 5 chat turns, the current
// intent, and up to 3 append outputs.
func (s *Store) GetContextForPrompt(ctx context.Context, sessionID string) (string, error) {
	result, err := s.ReadContext(ctx, sessionID)
	if err != nil {
		if err == perrors.ErrNotFound {
			return "", nil
		}
		return "", err
	}

	var b strings.Builder
	b.WriteString("## Recent conversation\n")
	if hist, ok := result.Envelope.Payload["chat_history"].([]interface{}); ok {
		start := 0
		if len(hist) > 5 {
			start = len(hist) - 5
		}
		for _, turn := range hist[start:] {
			if m, ok := turn.(map[string]interface{}); ok {
				fmt.Fprintf(&b, "- user: %v\n  assistant: %v\n", m["user_text"], m["ai_text"])
			}
		}
	}

	if result.Envelope.IntentTag != "" {
		fmt.Fprintf(&b, "\nCurrent intent: %s\n", result.Envelope.IntentTag)
	}

	if len(result.Appends) > 0 {
		b.WriteString("\n## Recent tool/agent outputs\n")
		appends := result.Appends
		sort.SliceStable(appends, func(i, j int) bool { return appends[i].CreatedAt.Before(appends[j].CreatedAt) })
		start := 0
		if len(appends) > 3 {
			start = len(appends) - 3
		}
		for _, a := range appends[start:] {
			fmt.Fprintf(&b, "- [%s] %v\n", a.Source, a.Output)
		}
	}

	return b.String(), nil
}

// Close releases the cold tier's resources.
func (s *Store) Close() error {
	return s.cold.Close()
}
