package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/martinemde/reasonloop/agentloop"
)

// DefaultMaxSessions bounds a MemoryStore built with maxSessions <= 0.
const DefaultMaxSessions = 1024

type memoryEntry struct {
	calls  []agentloop.RecentCall
	skills []string
}

// MemoryStore keeps sessions in process in an expiring LRU. Each Record
// restarts the session's TTL; the least recently used session is evicted
// once maxSessions are held.
type MemoryStore struct {
	maxCalls int

	// mu serializes Record's read-modify-write. The cache locks itself.
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
}

// NewMemoryStore creates a store. ttl <= 0 disables expiry. maxCalls bounds
// the remembered calls per session; zero keeps all of them.
func NewMemoryStore(ttl time.Duration, maxCalls, maxSessions int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &MemoryStore{
		maxCalls: maxCalls,
		cache:    expirable.NewLRU[string, memoryEntry](maxSessions, nil, ttl),
	}
}

// PriorContext implements agentloop.PriorContextSupplier. Unknown and expired
// sessions yield nil.
func (s *MemoryStore) PriorContext(_ context.Context, sessionID string) (*agentloop.PriorContext, error) {
	e, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	prior := &agentloop.PriorContext{
		SessionID:    sessionID,
		RecentCalls:  e.calls,
		ActiveSkills: e.skills,
	}
	return prior.Clone(), nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, sessionID string, calls []agentloop.RecentCall, skills []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _ := s.cache.Peek(sessionID)
	snapshot := (&agentloop.PriorContext{RecentCalls: calls, ActiveSkills: skills}).Clone()

	next := memoryEntry{skills: prev.skills}
	next.calls = make([]agentloop.RecentCall, 0, len(prev.calls)+len(snapshot.RecentCalls))
	next.calls = append(next.calls, prev.calls...)
	next.calls = append(next.calls, snapshot.RecentCalls...)
	if s.maxCalls > 0 && len(next.calls) > s.maxCalls {
		next.calls = next.calls[len(next.calls)-s.maxCalls:]
	}
	if skills != nil {
		next.skills = snapshot.ActiveSkills
	}
	s.cache.Add(sessionID, next)
	return nil
}

// Len returns the number of held sessions. Expired sessions count until the
// cache's background sweep removes them.
func (s *MemoryStore) Len() int { return s.cache.Len() }

// Close implements Store. It drops every session.
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
