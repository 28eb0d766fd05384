package cache

import (
	"time"
)

// Entry is a cached upstream response.
type Entry struct {
	// Response is the full JSON-RPC response object of the node.
	Response map[string]any `json:"response"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry wraps response with a lifetime of ttl from now.
func NewEntry(response map[string]any, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Response: response,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
