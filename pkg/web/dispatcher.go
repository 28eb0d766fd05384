// Package web is the transport layer of the gateway: the dispatcher that
// turns raw messages into handled requests, and the HTTP and websocket
// server that feeds it.
package web

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

	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/rpc"
)

var (
	ErrNotAnObject  = errors.New("request is not a JSON object")
	ErrTrailingData = errors.New("unexpected data after the request object")
	ErrInternal     = errors.New("internal error while dispatching request")
)

// Engine schedules and executes requests. *rpc.Engine implements it.
type Engine interface {
	Post(work func(ctx context.Context), clientIP string) bool
	BuildResponse(ctx rpc.Context) (map[string]any, error)

	NotifyComplete(method string, d time.Duration)
	NotifyTooBusy()
	NotifyNotReady()
	NotifyBadSyntax()
	NotifyInternalError()
}

// ETLState reports how far behind the network the stored data is.
type ETLState interface {
	LastCloseAgeSeconds() uint32
}

// RangeSource provides the range snapshot taken for every request.
type RangeSource interface {
	FetchLedgerRange() (ledger.Range, bool)
}

// SubscriptionCleaner forgets a connection's subscriptions. The registry
// is only told about the connection id and never keeps it alive.
type SubscriptionCleaner interface {
	Cleanup(connID string)
}

type DispatcherOptions struct {
	Backend       RangeSource
	Engine        Engine
	ETL           ETLState
	Subscriptions SubscriptionCleaner
	APIVersion    rpc.APIVersionParser
	Logger        zerolog.Logger
}

// Dispatcher parses inbound messages, schedules them on the engine and
// composes the transport envelope of the reply.
type Dispatcher struct {
	backend    RangeSource
	engine     Engine
	etl        ETLState
	subs       SubscriptionCleaner
	apiVersion rpc.APIVersionParser
	logger     zerolog.Logger
	perfLogger zerolog.Logger
}

// NewDispatcher creates a dispatcher from opts.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		backend:    opts.Backend,
		engine:     opts.Engine,
		etl:        opts.ETL,
		subs:       opts.Subscriptions,
		apiVersion: opts.APIVersion,
		logger:     opts.Logger.With().Str("component", "RPC").Logger(),
		perfLogger: opts.Logger.With().Str("component", "Performance").Logger(),
	}
}

// OnRequest handles one raw message received on conn. Replies are always
// delivered through conn.Send. A non-nil error means the dispatcher itself
// failed and the transport should drop the connection.
func (d *Dispatcher) OnRequest(msg []byte, conn Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.perfLogger.Error().
				Str("tag", conn.Tag()).
				Interface("panic", r).
				Msg("Caught panic while dispatching")
			d.engine.NotifyInternalError()
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	request, err := parseRequest(msg)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("request", string(msg)).
			Msg("Error parsing JSON")
		d.OnParseError(err, conn)
		return nil
	}

	d.perfLogger.Debug().Str("tag", conn.Tag()).Msg("Adding to work queue")

	if !conn.Upgraded() && shouldReplaceParams(request) {
		request["params"] = []any{map[string]any{}}
	}

	accepted := d.engine.Post(func(ctx context.Context) {
		d.handleRequest(ctx, request, conn)
	}, conn.ClientIP())
	if !accepted {
		d.engine.NotifyTooBusy()
		newErrorHelper(conn, nil).sendTooBusyError()
	}
	return nil
}

// OnParseError answers a message that never became a request, either
// because it is not a JSON object or because the transport could not read
// it. It is counted as bad syntax.
func (d *Dispatcher) OnParseError(err error, conn Connection) {
	d.logger.Debug().Err(err).Str("tag", conn.Tag()).Msg("Rejecting unparseable request")
	d.engine.NotifyBadSyntax()
	newErrorHelper(conn, nil).sendJSONParsingError()
}

// OnError is called by the transport once a connection has failed or
// closed; err may be nil for an orderly close.
func (d *Dispatcher) OnError(err error, conn Connection) {
	if err != nil {
		d.logger.Debug().Err(err).Str("tag", conn.Tag()).Msg("Connection ended with error")
	}
	if d.subs != nil && conn.ID() != "" {
		d.subs.Cleanup(conn.ID())
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, request map[string]any, conn Connection) {
	transport := "http"
	if conn.Upgraded() {
		transport = "ws"
	}
	d.logger.Info().
		Str("tag", conn.Tag()).
		Str("transport", transport).
		Str("client_ip", conn.ClientIP()).
		Interface("request", rpc.RemoveSecret(request)).
		Msg("Received request from work queue")

	defer func() {
		if r := recover(); r != nil {
			d.perfLogger.Error().Str("tag", conn.Tag()).Interface("panic", r).Msg("Caught panic")
			d.logger.Error().Str("tag", conn.Tag()).Interface("panic", r).Msg("Caught panic")
			d.engine.NotifyInternalError()
			newErrorHelper(conn, request).sendInternalError()
		}
	}()

	rng, ok := d.backend.FetchLedgerRange()
	if !ok {
		// no warnings for errors raised before a handler runs
		d.engine.NotifyNotReady()
		newErrorHelper(conn, request).sendNotReadyError()
		return
	}

	rctx, err := d.makeContext(ctx, request, conn, rng)
	if err != nil {
		d.perfLogger.Warn().Err(err).Str("tag", conn.Tag()).Msg("Could not create Web context")
		d.logger.Warn().Err(err).Str("tag", conn.Tag()).Msg("Could not create Web context")

		// counted as bad syntax on both transports
		d.engine.NotifyBadSyntax()
		newErrorHelper(conn, request).sendError(rpc.AsStatus(err))
		return
	}

	start := time.Now()
	result, err := d.engine.BuildResponse(rctx)
	elapsed := time.Since(start)
	rpc.LogDuration(d.perfLogger, rctx, elapsed)

	var response map[string]any
	if err != nil {
		// error statuses are counted by the engine
		response = newErrorHelper(conn, request).composeError(rpc.AsStatus(err))
		d.logger.Debug().
			Str("tag", rctx.Tag).
			Interface("response", response).
			Msg("Encountered error")
	} else {
		// forwarded requests count as complete even when the upstream
		// node answered with an error
		d.engine.NotifyComplete(rctx.Method, elapsed)
		response = composeResult(result, request, conn.Upgraded())
	}

	warnings := []any{rpc.MakeWarning(rpc.WarnClio)}
	if d.etl.LastCloseAgeSeconds() >= 60 {
		warnings = append(warnings, rpc.MakeWarning(rpc.WarnOutdated))
	}
	response["warnings"] = warnings

	body, err := json.Marshal(response)
	if err != nil {
		d.logger.Error().Err(err).Str("tag", rctx.Tag).Msg("Failed to serialize response")
		d.engine.NotifyInternalError()
		newErrorHelper(conn, request).sendInternalError()
		return
	}
	conn.Send(body, http.StatusOK)
}

func (d *Dispatcher) makeContext(ctx context.Context, request map[string]any, conn Connection, rng ledger.Range) (rpc.Context, error) {
	info := rpc.ConnInfo{
		ID:       conn.ID(),
		Tag:      conn.Tag(),
		ClientIP: conn.ClientIP(),
		IsAdmin:  conn.IsAdmin(),
	}
	if conn.Upgraded() {
		return rpc.MakeWSContext(ctx, request, info, rng, d.apiVersion)
	}
	return rpc.MakeHTTPContext(ctx, request, info, rng, d.apiVersion)
}

// composeResult wraps a handler result into the transport envelope.
// Forwarded replies that carry their own "result" (or any forwarded reply
// on a websocket) are merged as is; everything else is nested under
// "result".
func composeResult(result map[string]any, request map[string]any, upgraded bool) map[string]any {
	response := make(map[string]any, len(result)+4)

	forwarded, _ := result["forwarded"].(bool)
	_, hasResult := result["result"]
	if forwarded && (hasResult || upgraded) {
		for k, v := range result {
			response[k] = v
		}
	} else {
		response["result"] = result
	}

	if upgraded {
		if id, ok := request["id"]; ok && id != nil {
			response["id"] = id
		}
		if _, ok := response["error"]; !ok {
			response["status"] = "success"
		}
		response["type"] = "response"
		return response
	}

	if inner, ok := response["result"].(map[string]any); ok {
		if _, hasErr := inner["error"]; !hasErr {
			inner["status"] = "success"
		}
	}
	return response
}

// parseRequest decodes a message that must hold exactly one JSON object.
// Numbers are kept as json.Number.
func parseRequest(msg []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}
	return obj, nil
}

// shouldReplaceParams reports whether a one-shot request has no usable
// params and should get an empty parameter object instead, as the
// upstream node does.
func shouldReplaceParams(request map[string]any) bool {
	params, ok := request["params"]
	if !ok || params == nil {
		return true
	}

	switch p := params.(type) {
	case string:
		return p == ""
	case map[string]any:
		return len(p) == 0
	case []any:
		if len(p) == 0 {
			return true
		}
		switch first := p[0].(type) {
		case nil:
			return true
		case string:
			return first == ""
		}
	}
	return false
}
