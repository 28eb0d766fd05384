package dosguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CounterStore counts requests per key within a window.
type CounterStore interface {
	// Incr increments key and returns the new count. The count resets
	// window after the first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisStore keeps request counters in Redis so that every gateway
// instance shares them.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a counter store backed by redisClient.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Incr runs INCR and, on the first hit of a window, EXPIRE in one
// pipeline.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr request counter: %w", err)
	}
	return incr.Val(), nil
}

// Guard decides whether a client may open a connection or send a request.
type Guard struct {
	store     CounterStore
	whitelist map[string]bool
	config    Config
	logger    zerolog.Logger

	mu          sync.Mutex
	connections map[string]int
}

// New creates a guard. store may be nil when MaxRequests is 0.
func New(store CounterStore, config Config, logger zerolog.Logger) (*Guard, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil && config.MaxRequests > 0 {
		return nil, fmt.Errorf("a counter store is required when max_requests is set")
	}

	whitelist := make(map[string]bool, len(config.Whitelist))
	for _, ip := range config.Whitelist {
		whitelist[ip] = true
	}

	return &Guard{
		store:       store,
		whitelist:   whitelist,
		config:      config,
		logger:      logger.With().Str("component", "DOSGuard").Logger(),
		connections: make(map[string]int),
	}, nil
}

// IsWhiteListed reports whether ip is exempt from every limit.
func (g *Guard) IsWhiteListed(ip string) bool {
	return g.whitelist[ip]
}

// Request records one request from ip and reports whether it may proceed.
// Counter failures let the request through.
func (g *Guard) Request(ctx context.Context, ip string) bool {
	if g.IsWhiteListed(ip) || g.config.MaxRequests == 0 {
		return true
	}

	count, err := g.store.Incr(ctx, RedisKeyPrefix+ip, g.config.Interval)
	if err != nil {
		storeErrors.Inc()
		g.logger.Warn().Err(err).Str("client_ip", ip).Msg("Request counter unavailable")
		return true
	}

	if count > g.config.MaxRequests {
		requestsDenied.Inc()
		g.logger.Warn().
			Str("client_ip", ip).
			Int64("requests", count).
			Int64("max_requests", g.config.MaxRequests).
			Msg("Client is sending too many requests")
		return false
	}
	return true
}

// Connect records a new connection from ip. It returns false, recording
// nothing, when ip already holds the maximum number of connections.
func (g *Guard) Connect(ip string) bool {
	if g.IsWhiteListed(ip) || g.config.MaxConnections == 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connections[ip] >= g.config.MaxConnections {
		connectionsDenied.Inc()
		g.logger.Warn().Str("client_ip", ip).Msg("Client has too many connections")
		return false
	}
	g.connections[ip]++
	return true
}

// Disconnect releases a connection recorded by Connect.
func (g *Guard) Disconnect(ip string) {
	if g.IsWhiteListed(ip) || g.config.MaxConnections == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connections[ip] <= 1 {
		delete(g.connections, ip)
		return
	}
	g.connections[ip]--
}

// Connections returns the number of open connections from ip.
func (g *Guard) Connections(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connections[ip]
}
