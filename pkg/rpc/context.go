package rpc

import (
	"context"
	"fmt"

	"github.com/Bronek/clio/pkg/ledger"
)

// Context is everything a handler knows about one request. It is built
// once at admission and never shared between requests.
type Context struct {
	Ctx        context.Context
	Method     string
	Params     map[string]any
	APIVersion uint32
	// Range is snapshotted at admission; handlers never re-read it.
	Range    ledger.Range
	IsAdmin  bool
	ClientIP string
	// Upgraded is true for persistent (websocket) connections.
	Upgraded bool
	// ConnID identifies the persistent connection; empty for one-shot
	// requests.
	ConnID string
	Tag    string
}

// APIVersionParser validates the "api_version" field of a request.
type APIVersionParser struct {
	Default uint32
	Min     uint32
	Max     uint32
}

// DefaultAPIVersionParser accepts versions 1 and 2, defaulting to 1.
func DefaultAPIVersionParser() APIVersionParser {
	return APIVersionParser{Default: 1, Min: 1, Max: 2}
}

// Parse returns the requested version or the default when absent.
func (p APIVersionParser) Parse(request map[string]any) (uint32, error) {
	raw, ok := request["api_version"]
	if !ok {
		return p.Default, nil
	}

	v, ok := Int64(raw)
	if !ok {
		return 0, NewStatusMessage(CodeInvalidAPIVersion, "API version must be an integer")
	}
	if v < int64(p.Min) {
		return 0, NewStatusMessage(CodeInvalidAPIVersion, fmt.Sprintf("Requested API version is lower than minimum supported (%d)", p.Min))
	}
	if v > int64(p.Max) {
		return 0, NewStatusMessage(CodeInvalidAPIVersion, fmt.Sprintf("Requested API version is higher than maximum supported (%d)", p.Max))
	}
	return uint32(v), nil
}

// ConnInfo describes the caller as seen by the transport.
type ConnInfo struct {
	ID       string
	Tag      string
	ClientIP string
	IsAdmin  bool
}

// MakeWSContext builds the context for a request received on a persistent
// connection. The request object itself carries the parameters, and the
// admin flag is the one established for the session.
func MakeWSContext(ctx context.Context, request map[string]any, conn ConnInfo, rng ledger.Range, parser APIVersionParser) (Context, error) {
	command, ok := request["command"]
	if !ok {
		command = request["method"]
	}
	method, ok := command.(string)
	if !ok {
		return Context{}, NewStatusMessage(CodeCommandIsMissing, "Method/Command is not specified or is not a string.")
	}

	version, err := parser.Parse(request)
	if err != nil {
		return Context{}, err
	}

	return Context{
		Ctx:        ctx,
		Method:     method,
		Params:     request,
		APIVersion: version,
		Range:      rng,
		IsAdmin:    conn.IsAdmin,
		ClientIP:   conn.ClientIP,
		Upgraded:   true,
		ConnID:     conn.ID,
		Tag:        conn.Tag,
	}, nil
}

// MakeHTTPContext builds the context for a one-shot request. Parameters
// must be an array holding exactly one object.
func MakeHTTPContext(ctx context.Context, request map[string]any, conn ConnInfo, rng ledger.Range, parser APIVersionParser) (Context, error) {
	raw, ok := request["method"]
	if !ok {
		return Context{}, NewStatus(CodeCommandIsMissing)
	}
	method, ok := raw.(string)
	if !ok {
		return Context{}, NewStatus(CodeCommandNotString)
	}
	if method == "" {
		return Context{}, NewStatus(CodeCommandIsEmpty)
	}
	if method == "subscribe" || method == "unsubscribe" {
		return Context{}, NewStatusMessage(CodeBadSyntax, "Subscribe and unsubscribe are only allowed or websocket.")
	}

	array, ok := request["params"].([]any)
	if !ok {
		return Context{}, NewStatusMessage(CodeParamsUnparseable, "Missing params array.")
	}
	if len(array) != 1 {
		return Context{}, NewStatus(CodeParamsUnparseable)
	}
	params, ok := Object(array[0])
	if !ok {
		return Context{}, NewStatus(CodeParamsUnparseable)
	}

	version, err := parser.Parse(params)
	if err != nil {
		return Context{}, err
	}

	return Context{
		Ctx:        ctx,
		Method:     method,
		Params:     params,
		APIVersion: version,
		Range:      rng,
		IsAdmin:    conn.IsAdmin,
		ClientIP:   conn.ClientIP,
		Upgraded:   false,
		Tag:        conn.Tag,
	}, nil
}
