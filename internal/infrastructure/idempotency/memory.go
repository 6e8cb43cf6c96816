package idempotency

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryStore is a process-local TTL map.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source; used by tests to step past the TTL.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Response, bool, error) {

	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return Response{}, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, still := s.items[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return Response{}, false, nil
	}
	return cloneResponse(e.resp), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry{resp: cloneResponse(resp), expiresAt: s.now().Add(ttl)}
	return nil
}

func cloneResponse(r Response) Response {
	r.Body = append([]byte(nil), r.Body...)
	return r
}
