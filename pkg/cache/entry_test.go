package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"expired entry", time.Now().Add(-time.Hour), true},
		{"valid entry", time.Now().Add(time.Hour), false},
		{"just expired", time.Now().Add(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	entry := NewEntry(map[string]any{}, 10*time.Second)
	if ttl := entry.TTL(); ttl <= 9*time.Second || ttl > 10*time.Second {
		t.Errorf("TTL() = %v, want ~10s", ttl)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt not set")
	}

	expired := &Entry{Expires: time.Now().Add(-time.Minute)}
	if ttl := expired.TTL(); ttl != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", ttl)
	}
}
