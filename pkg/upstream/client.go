// Package upstream forwards requests the gateway cannot answer itself to a
// full node over JSON-RPC, with retries, a circuit breaker and an optional
// response cache.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Bronek/clio/pkg/cache"
	"github.com/Bronek/clio/pkg/rpc"
)

// ResponseCache stores forwarded responses; *cache.Manager implements it.
type ResponseCache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, error)
	Set(ctx context.Context, key cache.Key, entry *cache.Entry) error
}

// Config holds the client configuration.
type Config struct {
	// URL of the node's JSON-RPC endpoint, e.g. http://127.0.0.1:51234
	URL string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	Retry RetryConfig

	// Cache is optional. Only CachedCommands sent without parameters are
	// cached, for CacheTTL.
	Cache          ResponseCache
	CacheTTL       time.Duration
	CachedCommands []string

	// BreakerFailures consecutive failed forwards open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns a default configuration for the node at url.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		Timeout:         10 * time.Second,
		Retry:           DefaultRetryConfig(),
		CacheTTL:        time.Second,
		CachedCommands:  []string{"fee", "server_info"},
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// Client forwards requests to the upstream node. It implements
// rpc.Forwarder.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cached     map[string]bool
	config     Config
	logger     zerolog.Logger
}

var _ rpc.Forwarder = (*Client)(nil)

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	logger = logger.With().Str("component", "Upstream").Logger()

	cached := make(map[string]bool, len(cfg.CachedCommands))
	for _, command := range cfg.CachedCommands {
		cached[command] = true
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.Set(float64(to))
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream circuit breaker state changed")
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		cached:     cached,
		config:     cfg,
		logger:     logger,
	}, nil
}

// rejected carries a failure the node is not to blame for, so it does not
// count against the breaker.
type rejected struct {
	err error
}

// Forward sends request to the node and returns its full response object.
func (c *Client) Forward(ctx context.Context, request map[string]any, clientIP string, isAdmin bool) (map[string]any, error) {
	command, _ := request["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("forward: request has no command")
	}

	key := cache.Key{Command: command, Params: request}
	cacheable := c.config.Cache != nil && c.cached[command] && !key.HasParams()
	if cacheable {
		entry, err := c.config.Cache.Get(ctx, key)
		if err == nil {
			c.logger.Debug().Str("command", command).Msg("Forwarding cache hit")
			requestsTotal.WithLabelValues(command, "cached").Inc()
			return entry.Response, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("command", command).Msg("Forwarding cache get error")
		}
	}

	body, err := json.Marshal(jsonRPCRequest(command, request))
	if err != nil {
		return nil, fmt.Errorf("marshal forwarded request: %w", err)
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}()

	out, err := c.breaker.Execute(func() (any, error) {
		var response map[string]any
		err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
			var postErr error
			response, postErr = c.post(ctx, body, clientIP, isAdmin)
			return postErr
		})
		if err != nil && !shouldRetry(classify(err)) && !errors.Is(err, ErrRetryExhausted) {
			return rejected{err: err}, nil
		}
		return response, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		requestsTotal.WithLabelValues(command, "circuit_open").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		errorsTotal.WithLabelValues(string(classify(err))).Inc()
		requestsTotal.WithLabelValues(command, "error").Inc()
		return nil, err
	}
	if r, ok := out.(rejected); ok {
		errorsTotal.WithLabelValues(string(classify(r.err))).Inc()
		requestsTotal.WithLabelValues(command, "error").Inc()
		return nil, r.err
	}

	response := out.(map[string]any)
	requestsTotal.WithLabelValues(command, "success").Inc()

	if cacheable && c.config.CacheTTL > 0 {
		if err := c.config.Cache.Set(ctx, key, cache.NewEntry(response, c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Str("command", command).Msg("Failed to cache forwarded response")
		}
	}

	return response, nil
}

// post performs one JSON-RPC exchange.
func (c *Client) post(ctx context.Context, body []byte, clientIP string, isAdmin bool) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if isAdmin {
		req.Header.Set("X-User", "clio_admin")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		errorClass := classifyStatus(resp.StatusCode)
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errorClass)).
			Msg("Upstream request error")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: errorClass, Message: resp.Status}
	}

	var response map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&response); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassServer, Message: "decode response", Err: err}
	}
	if _, ok := response["result"]; !ok {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassClient, Message: "no result", Err: ErrMalformedResponse}
	}
	return response, nil
}

// jsonRPCRequest converts a command-style request to the node's JSON-RPC
// form: {"method": command, "params": [{...}]}.
func jsonRPCRequest(command string, request map[string]any) map[string]any {
	params := make(map[string]any, len(request))
	for k, v := range request {
		switch k {
		case "command", "method", "id":
			continue
		}
		params[k] = v
	}
	return map[string]any{
		"method": command,
		"params": []any{params},
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
