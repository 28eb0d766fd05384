// Package metrics provides the Prometheus registry and scrape handler for
// the gateway. All metrics are defined in their respective packages
// (rpc, web, backend/pebble, ledgercache, upstream, cache, dosguard, feed,
// etl) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the gateway.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// RPC Metrics (pkg/rpc):
//   - clio_rpc_requests_total{method, result} (Counter): finished, errored, forwarded, failed_forward
//   - clio_rpc_duration_seconds{method} (Histogram): Handler duration by method
//   - clio_rpc_errors_total{kind} (Counter): too_busy, not_ready, bad_syntax, unknown_command, internal
//   - clio_work_queue_size (Gauge): Requests waiting in the work queue
//
// Transport Metrics (pkg/web):
//   - clio_web_requests_total{transport} (Counter): Inbound messages (http, ws)
//   - clio_web_slow_down_total{transport} (Counter): Requests refused by the DOS guard
//   - clio_web_ws_connections (Gauge): Open websocket sessions
//   - clio_web_ws_dropped_total (Counter): Sessions closed for a full sending queue
//
// Backend Metrics (pkg/backend/pebble):
//   - clio_backend_reads_total{op, result} (Counter): Store reads by operation and result
//   - clio_backend_read_duration_seconds{op} (Histogram): Store read duration
//   - clio_backend_ledgers_written_total (Counter): Ledgers written by ingestion
//
// Hot Cache Metrics (pkg/ledgercache):
//   - clio_ledger_cache_requests_total{result} (Counter): Object lookups (hit, miss)
//   - clio_ledger_cache_objects (Gauge): Objects held
//   - clio_ledger_cache_full (Gauge): 1 once the complete state is loaded
//   - clio_cache_loader_pages_total (Counter): Pages fetched while warming
//
// Forwarding Metrics (pkg/upstream, pkg/cache):
//   - clio_upstream_requests_total{command, result} (Counter): Forwarded requests
//   - clio_upstream_request_duration_seconds{command} (Histogram): Upstream round trip
//   - clio_upstream_errors_total{class} (Counter): client, server, overloaded, network
//   - clio_upstream_retries_total{error_class} (Counter): Retry attempts
//   - clio_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - clio_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//   - clio_upstream_breaker_state (Gauge): 0 closed, 1 half-open, 2 open
//   - clio_forward_cache_hits_total / clio_forward_cache_misses_total (Counter)
//   - clio_forward_cache_errors_total{operation} (Counter): get, set, delete
//
// Admission Metrics (pkg/dosguard):
//   - clio_dosguard_requests_denied_total (Counter)
//   - clio_dosguard_connections_denied_total (Counter)
//   - clio_dosguard_store_errors_total (Counter)
//
// Ingestion and Feed Metrics (pkg/etl, pkg/feed):
//   - clio_etl_published_ledgers_total (Counter)
//   - clio_etl_publish_duration_seconds (Histogram)
//   - clio_etl_last_published_sequence (Gauge)
//   - clio_subscriptions{stream} (Gauge)
//   - clio_subscription_messages_total{stream} (Counter)
//
// Example Prometheus Queries:
//
//   # Hot cache hit rate
//   sum(rate(clio_ledger_cache_requests_total{result="hit"}[5m])) /
//   sum(rate(clio_ledger_cache_requests_total[5m]))
//
//   # Saturation
//   rate(clio_rpc_errors_total{kind="too_busy"}[5m])
//
//   # P95 ledger_data latency
//   histogram_quantile(0.95, rate(clio_rpc_duration_seconds_bucket{method="ledger_data"}[5m]))
//
//   # Forwarding failures
//   rate(clio_rpc_requests_total{result="failed_forward"}[5m])
