package dosguard

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	expires time.Time
}

// MemoryStore keeps request counters in process. It is used when no
// redis instance is configured, so limits are per gateway instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]window),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, d time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expires) {
		w = window{expires: now.Add(d)}
	}
	w.count++
	s.windows[key] = w

	// drop stale windows while the lock is held anyway
	if len(s.windows) > 1024 {
		for k, other := range s.windows {
			if !now.Before(other.expires) {
				delete(s.windows, k)
			}
		}
	}
	return w.count, nil
}
