package rpc

import (
	"sync"
	"sync/atomic"
	"time"
)

type methodInfo struct {
	finished      uint64
	errored       uint64
	forwarded     uint64
	failedForward uint64
	duration      time.Duration
}

// Counters keeps per-method and global request statistics for
// server_info. Every update is mirrored to prometheus.
type Counters struct {
	mu      sync.Mutex
	methods map[string]*methodInfo

	tooBusy        atomic.Uint64
	notReady       atomic.Uint64
	badSyntax      atomic.Uint64
	unknownCommand atomic.Uint64
	internalError  atomic.Uint64

	queue *WorkQueue
}

// NewCounters creates counters reporting on queue, which may be nil.
func NewCounters(queue *WorkQueue) *Counters {
	return &Counters{
		methods: make(map[string]*methodInfo),
		queue:   queue,
	}
}

func (c *Counters) method(name string) *methodInfo {
	info, ok := c.methods[name]
	if !ok {
		info = &methodInfo{}
		c.methods[name] = info
	}
	return info
}

// RPCComplete counts a finished request of method.
func (c *Counters) RPCComplete(method string, d time.Duration) {
	c.mu.Lock()
	info := c.method(method)
	info.finished++
	info.duration += d
	c.mu.Unlock()

	rpcRequests.WithLabelValues(method, "finished").Inc()
	rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RPCErrored counts a request of method that ended in an error.
func (c *Counters) RPCErrored(method string) {
	c.mu.Lock()
	c.method(method).errored++
	c.mu.Unlock()
	rpcRequests.WithLabelValues(method, "errored").Inc()
}

// RPCForwarded counts a forwarded request of method.
func (c *Counters) RPCForwarded(method string) {
	c.mu.Lock()
	c.method(method).forwarded++
	c.mu.Unlock()
	rpcRequests.WithLabelValues(method, "forwarded").Inc()
}

// RPCFailedToForward counts a request of method that could not be forwarded.
func (c *Counters) RPCFailedToForward(method string) {
	c.mu.Lock()
	c.method(method).failedForward++
	c.mu.Unlock()
	rpcRequests.WithLabelValues(method, "failed_forward").Inc()
}

// OnTooBusy counts a request rejected by the work queue.
func (c *Counters) OnTooBusy() {
	c.tooBusy.Add(1)
	rpcErrors.WithLabelValues("too_busy").Inc()
}

// OnNotReady counts a request received before any ledger was stored.
func (c *Counters) OnNotReady() {
	c.notReady.Add(1)
	rpcErrors.WithLabelValues("not_ready").Inc()
}

// OnBadSyntax counts a malformed request.
func (c *Counters) OnBadSyntax() {
	c.badSyntax.Add(1)
	rpcErrors.WithLabelValues("bad_syntax").Inc()
}

// OnUnknownCommand counts a request for an unknown method.
func (c *Counters) OnUnknownCommand() {
	c.unknownCommand.Add(1)
	rpcErrors.WithLabelValues("unknown_command").Inc()
}

// OnInternalError counts an internal failure.
func (c *Counters) OnInternalError() {
	c.internalError.Add(1)
	rpcErrors.WithLabelValues("internal").Inc()
}

// Report renders the counters for server_info.
func (c *Counters) Report() map[string]any {
	c.mu.Lock()
	rpc := make(map[string]any, len(c.methods))
	for name, info := range c.methods {
		rpc[name] = map[string]any{
			"finished":       info.finished,
			"errored":        info.errored,
			"forwarded":      info.forwarded,
			"failed_forward": info.failedForward,
			"duration_us":    info.duration.Microseconds(),
		}
	}
	c.mu.Unlock()

	report := map[string]any{
		"rpc":                    rpc,
		"too_busy_errors":        c.tooBusy.Load(),
		"not_ready_errors":       c.notReady.Load(),
		"bad_syntax_errors":      c.badSyntax.Load(),
		"unknown_command_errors": c.unknownCommand.Load(),
		"internal_errors":        c.internalError.Load(),
	}
	if c.queue != nil {
		report["work_queue"] = c.queue.Report()
	}
	return report
}
