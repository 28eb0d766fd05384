// Package dosguard limits how hard a single client IP may use the gateway:
// requests per sweep interval (shared through Redis across gateway
// instances) and concurrent connections (local). Whitelisted addresses are
// exempt from both and from the work queue bound.
package dosguard

import (
	"fmt"
	"time"
)

// Redis key prefix for per-IP request counters.
const RedisKeyPrefix = "clio:dosguard:requests:"

// Config holds DOS guard configuration.
type Config struct {
	// Whitelist holds addresses never limited.
	Whitelist []string

	// MaxRequests per IP within one Interval; 0 disables the request limit.
	MaxRequests int64

	// MaxConnections per IP; 0 disables the connection limit.
	MaxConnections int

	// Interval is the sweep window of the request counters.
	Interval time.Duration
}

// DefaultConfig returns the DOS guard defaults.
func DefaultConfig() Config {
	return Config{
		Whitelist:      []string{"127.0.0.1"},
		MaxRequests:    20,
		MaxConnections: 20,
		Interval:       time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRequests < 0 {
		return fmt.Errorf("max_requests must be >= 0 (got %d)", c.MaxRequests)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0 (got %d)", c.MaxConnections)
	}
	if c.MaxRequests > 0 && c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0 when max_requests is set")
	}
	return nil
}
