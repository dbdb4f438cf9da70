package phonegate

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is a process-local [SessionStore] for tests and
// single-instance development. In a multi-instance deployment session
// state fragments per process; use [RedisSessionStore] there.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*VerificationSession
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*VerificationSession),
	}
}

// Create stores a copy of the session. The ttl parameter is accepted for
// interface parity; expiry is enforced from the record's ExpiresAt.
func (s *MemorySessionStore) Create(ctx context.Context, session *VerificationSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	s.sessions[session.ID] = &stored
	return nil
}

// Get returns a copy of the live session, deleting expired entries.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Expired(time.Now()) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}

	out := *session
	return &out, nil
}

// ReplaceHandle supersedes the live provider handle under the store lock.
func (s *MemorySessionStore) ReplaceHandle(ctx context.Context, id, newHandle string) error {
	return s.update(id, func(session *VerificationSession) {
		session.ProviderHandle = newHandle
	})
}

// MarkConsumed flags the session as applied under the store lock.
func (s *MemorySessionStore) MarkConsumed(ctx context.Context, id string) error {
	return s.update(id, func(session *VerificationSession) {
		session.Consumed = true
	})
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// PurgeExpired drops long-expired records to bound store size. Redis
// TTLs make this unnecessary there; for the memory store it is a valid
// periodic background task.
func (s *MemorySessionStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged
}

func (s *MemorySessionStore) update(id string, mutate func(*VerificationSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Expired(time.Now()) {
		delete(s.sessions, id)
		return ErrSessionNotFound
	}

	mutate(session)
	return nil
}
