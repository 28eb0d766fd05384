package dosguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int64)}
}

func (s *fakeStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int64)
}

func newGuard(t *testing.T, store CounterStore, modify func(*Config)) *Guard {
	t.Helper()
	cfg := Config{
		Whitelist:      []string{"127.0.0.1"},
		MaxRequests:    3,
		MaxConnections: 2,
		Interval:       time.Second,
	}
	if modify != nil {
		modify(&cfg)
	}
	g, err := New(store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"negative requests", Config{MaxRequests: -1, Interval: time.Second}, true},
		{"negative connections", Config{MaxConnections: -1}, true},
		{"requests without interval", Config{MaxRequests: 5}, true},
		{"everything disabled", Config{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error without a counter store")
	}
	if _, err := New(nil, Config{MaxConnections: 1}, zerolog.Nop()); err != nil {
		t.Errorf("store is optional without a request limit: %v", err)
	}
}

func TestGuard_Request(t *testing.T) {
	store := newFakeStore()
	g := newGuard(t, store, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if !g.Request(ctx, "1.1.1.1") {
			t.Fatalf("request %d denied below the limit", i)
		}
	}
	if g.Request(ctx, "1.1.1.1") {
		t.Error("request above the limit allowed")
	}
	if !g.Request(ctx, "2.2.2.2") {
		t.Error("limit must be per IP")
	}

	store.reset()
	if !g.Request(ctx, "1.1.1.1") {
		t.Error("request denied after the window reset")
	}
}

func TestGuard_RequestWhitelisted(t *testing.T) {
	store := newFakeStore()
	g := newGuard(t, store, nil)

	for i := 0; i < 10; i++ {
		if !g.Request(context.Background(), "127.0.0.1") {
			t.Fatal("whitelisted request denied")
		}
	}
	if len(store.counts) != 0 {
		t.Error("whitelisted requests must not be counted")
	}
	if !g.IsWhiteListed("127.0.0.1") || g.IsWhiteListed("1.1.1.1") {
		t.Error("IsWhiteListed mismatch")
	}
}

func TestGuard_RequestFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	g := newGuard(t, store, func(c *Config) { c.MaxRequests = 1 })

	for i := 0; i < 3; i++ {
		if !g.Request(context.Background(), "1.1.1.1") {
			t.Fatal("request denied while the counter store is down")
		}
	}
}

func TestGuard_RequestLimitDisabled(t *testing.T) {
	g := newGuard(t, nil, func(c *Config) { c.MaxRequests = 0 })
	if !g.Request(context.Background(), "1.1.1.1") {
		t.Error("request denied with the limit disabled")
	}
}

func TestGuard_Connections(t *testing.T) {
	g := newGuard(t, newFakeStore(), nil)

	if !g.Connect("1.1.1.1") || !g.Connect("1.1.1.1") {
		t.Fatal("connections below the limit refused")
	}
	if g.Connect("1.1.1.1") {
		t.Error("connection above the limit accepted")
	}
	if got := g.Connections("1.1.1.1"); got != 2 {
		t.Errorf("Connections() = %d, want 2", got)
	}

	g.Disconnect("1.1.1.1")
	if !g.Connect("1.1.1.1") {
		t.Error("connection refused after a disconnect")
	}

	g.Disconnect("1.1.1.1")
	g.Disconnect("1.1.1.1")
	g.Disconnect("1.1.1.1")
	if got := g.Connections("1.1.1.1"); got != 0 {
		t.Errorf("Connections() = %d after disconnecting all, want 0", got)
	}

	for i := 0; i < 5; i++ {
		if !g.Connect("127.0.0.1") {
			t.Fatal("whitelisted connection refused")
		}
	}
}

func TestMemoryStore_WindowResets(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Incr(ctx, "k", time.Second)
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if got != want {
			t.Errorf("Incr() = %d, want %d", got, want)
		}
	}

	if got, _ := store.Incr(ctx, "other", time.Second); got != 1 {
		t.Errorf("Incr(other) = %d, want 1", got)
	}

	now = now.Add(time.Second)
	if got, _ := store.Incr(ctx, "k", time.Second); got != 1 {
		t.Errorf("Incr() after window = %d, want 1", got)
	}
}

func TestGuard_WithMemoryStore(t *testing.T) {
	g := newGuard(t, NewMemoryStore(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !g.Request(ctx, "10.0.0.1") {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if g.Request(ctx, "10.0.0.1") {
		t.Error("fourth request allowed, want slowDown")
	}
}
