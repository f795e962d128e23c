package ctxstore

import (
	"sync"
	"time"

	"github.com/sipeed/turnhub/pkg/domain"
)

// warmEntry pairs a value with its TTL expiry.
type warmEntry struct {
	envelope  *domain.ContextEnvelope
	appends   []domain.AppendedResult
	expiresAt time.Time
}

// warmStore is the key-value cache with TTL that sits between hot and
// cold: the primary read path, authoritative only until its TTL lapses.
type warmStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*warmEntry
}

func newWarmStore(ttl time.Duration) *warmStore {
	return &warmStore{ttl: ttl, entries: make(map[string]*warmEntry)}
}

func (w *warmStore) get(sessionID string) (*warmEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[sessionID]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(w.entries, sessionID)
		return nil, false
	}
	return e, true
}

func (w *warmStore) put(env domain.ContextEnvelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	existing, ok := w.entries[env.SessionID]
	appends := []domain.AppendedResult{}
	if ok {
		appends = existing.appends
	}
	w.entries[env.SessionID] = &warmEntry{
		envelope:  &env,
		appends:   appends,
		expiresAt: time.Now().Add(w.ttl),
	}
}

// appendBounded pushes a to the session's warm append list, evicting the
// oldest entry once the list exceeds 100.
func (w *warmStore) appendBounded(sessionID string, a domain.AppendedResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[sessionID]
	if !ok {
		e = &warmEntry{expiresAt: time.Now().Add(w.ttl)}
		w.entries[sessionID] = e
	}
	e.appends = append(e.appends, a)
	const maxAppends = 100
	if len(e.appends) > maxAppends {
		e.appends = e.appends[len(e.appends)-maxAppends:]
	}
}

func (w *warmStore) delete(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, sessionID)
}
