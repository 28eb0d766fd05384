// Package rpc holds the request context, error statuses, handler registry
// and the engine that schedules and executes requests.
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
)

// Forwarder sends a request to the upstream node and returns its full
// response object.
type Forwarder interface {
	Forward(ctx context.Context, request map[string]any, clientIP string, isAdmin bool) (map[string]any, error)
}

// Whitelist reports callers exempt from admission limits.
type Whitelist interface {
	IsWhiteListed(ip string) bool
}

// methods answered by the upstream node instead of this gateway
var forwardedMethods = map[string]bool{
	"submit":             true,
	"submit_multisigned": true,
	"fee":                true,
	"ledger_closed":      true,
	"ledger_current":     true,
	"ripple_path_find":   true,
	"manifest":           true,
	"channel_authorize":  true,
	"channel_verify":     true,
}

// methods never forwarded, whatever the request says
var localOnlyMethods = map[string]bool{
	"ledger_range": true,
}

// EngineOptions wires an Engine. Forwarder and Whitelist may be nil.
type EngineOptions struct {
	Registry  *Registry
	Queue     *WorkQueue
	Counters  *Counters
	Forwarder Forwarder
	Whitelist Whitelist
	Logger    zerolog.Logger
}

// Engine schedules requests on the work queue and executes them against
// the registered handlers or the upstream node.
type Engine struct {
	registry  *Registry
	queue     *WorkQueue
	counters  *Counters
	forwarder Forwarder
	whitelist Whitelist
	logger    zerolog.Logger
}

// NewEngine creates an engine from opts. Forwarder and Whitelist may be nil.
func NewEngine(opts EngineOptions) *Engine {
	counters := opts.Counters
	if counters == nil {
		counters = NewCounters(opts.Queue)
	}
	return &Engine{
		registry:  opts.Registry,
		queue:     opts.Queue,
		counters:  counters,
		forwarder: opts.Forwarder,
		whitelist: opts.Whitelist,
		logger:    opts.Logger.With().Str("component", "RPC").Logger(),
	}
}

// Post schedules work for clientIP. It returns false when the queue is
// saturated; rejected work never runs.
func (e *Engine) Post(work func(ctx context.Context), clientIP string) bool {
	whitelisted := e.whitelist != nil && e.whitelist.IsWhiteListed(clientIP)
	return e.queue.Post(work, whitelisted)
}

// Counters returns the counters the engine records into.
func (e *Engine) Counters() *Counters {
	return e.counters
}

// NotifyComplete records a successful request and its duration.
func (e *Engine) NotifyComplete(method string, d time.Duration) {
	e.counters.RPCComplete(method, d)
}

// NotifyErrored records a request answered with an error.
func (e *Engine) NotifyErrored(method string) {
	e.counters.RPCErrored(method)
}

// NotifyForwarded records a request answered by the upstream node.
func (e *Engine) NotifyForwarded(method string) {
	e.counters.RPCForwarded(method)
}

// NotifyFailedToForward records a failed forward.
func (e *Engine) NotifyFailedToForward(method string) {
	e.counters.RPCFailedToForward(method)
}

// NotifyTooBusy records a request rejected by the work queue.
func (e *Engine) NotifyTooBusy() {
	e.counters.OnTooBusy()
}

// NotifyNotReady records a request received before any ledger was stored.
func (e *Engine) NotifyNotReady() {
	e.counters.OnNotReady()
}

// NotifyBadSyntax records an unparseable or malformed request.
func (e *Engine) NotifyBadSyntax() {
	e.counters.OnBadSyntax()
}

// NotifyUnknownCommand records a request for an unknown method.
func (e *Engine) NotifyUnknownCommand() {
	e.counters.OnUnknownCommand()
}

// NotifyInternalError records an internal failure.
func (e *Engine) NotifyInternalError() {
	e.counters.OnInternalError()
}

// BuildResponse executes the request described by ctx. Errors are always
// a Status.
func (e *Engine) BuildResponse(ctx Context) (result map[string]any, err error) {
	if e.shouldForward(ctx) {
		return e.forward(ctx)
	}

	handler, adminOnly, ok := e.registry.Lookup(ctx.Method)
	if !ok {
		e.NotifyUnknownCommand()
		return nil, NewStatus(CodeUnknownCmd)
	}
	if adminOnly && !ctx.IsAdmin {
		return nil, NewStatus(CodeNoPermission)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("tag", ctx.Tag).
				Str("method", ctx.Method).
				Interface("panic", r).
				Msg("Caught panic in handler")
			e.NotifyInternalError()
			result, err = nil, NewStatus(CodeInternal)
		}
	}()

	e.logger.Debug().
		Str("tag", ctx.Tag).
		Str("method", ctx.Method).
		Msg("Processing request")

	result, err = handler.Process(ctx)
	if err == nil {
		return result, nil
	}

	e.NotifyErrored(ctx.Method)
	if errors.Is(err, backend.ErrDatabaseTimeout) {
		e.logger.Error().Str("tag", ctx.Tag).Msg("Database timeout")
		e.NotifyTooBusy()
		return nil, NewStatus(CodeTooBusy)
	}

	status := AsStatus(err)
	if status.Code == CodeInternal {
		e.logger.Error().
			Err(err).
			Str("tag", ctx.Tag).
			Str("method", ctx.Method).
			Msg("Handler failed")
		e.NotifyInternalError()
	}
	return nil, status
}

func (e *Engine) forward(ctx Context) (map[string]any, error) {
	if e.forwarder == nil {
		e.NotifyFailedToForward(ctx.Method)
		return nil, NewStatus(CodeFailedToForward)
	}

	request := make(map[string]any, len(ctx.Params)+1)
	for k, v := range ctx.Params {
		request[k] = v
	}
	request["command"] = ctx.Method
	delete(request, "method")

	res, err := e.forwarder.Forward(ctx.Ctx, request, ctx.ClientIP, ctx.IsAdmin)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("tag", ctx.Tag).
			Str("method", ctx.Method).
			Msg("Failed to forward request")
		e.NotifyFailedToForward(ctx.Method)
		return nil, NewStatus(CodeFailedToForward)
	}

	e.NotifyForwarded(ctx.Method)
	res["forwarded"] = true
	return res, nil
}

func (e *Engine) shouldForward(ctx Context) bool {
	if localOnlyMethods[ctx.Method] {
		return false
	}
	if forwardedMethods[ctx.Method] {
		return true
	}
	if index, ok := ctx.Params["ledger_index"].(string); ok && (index == "current" || index == "closed") {
		return true
	}
	if queue, ok := ctx.Params["queue"].(bool); ctx.Method == "account_info" && ok && queue {
		return true
	}
	if forward, ok := ctx.Params["forward"].(bool); ctx.IsAdmin && ok && forward {
		return true
	}
	return false
}

// LogDuration records how long a request took, escalating slow ones.
func LogDuration(logger zerolog.Logger, ctx Context, d time.Duration) {
	ev := logger.Info()
	switch {
	case d > 10*time.Second:
		ev = logger.Error()
	case d > time.Second:
		ev = logger.Warn()
	}
	ev.Str("tag", ctx.Tag).
		Str("method", ctx.Method).
		Dur("duration", d).
		Msgf("Request processed in %d milliseconds", d.Milliseconds())
}
