package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
)

type fakeForwarder struct {
	calls    int
	request  map[string]any
	response map[string]any
	err      error
}

func (f *fakeForwarder) Forward(_ context.Context, request map[string]any, _ string, _ bool) (map[string]any, error) {
	f.calls++
	f.request = request
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type staticWhitelist map[string]bool

func (w staticWhitelist) IsWhiteListed(ip string) bool { return w[ip] }

func newTestEngine(t *testing.T, fwd Forwarder) (*Engine, *Registry) {
	t.Helper()
	registry := NewRegistry()
	queue := NewWorkQueue(context.Background(), 1, 1, zerolog.Nop())
	t.Cleanup(queue.Stop)

	return NewEngine(EngineOptions{
		Registry:  registry,
		Queue:     queue,
		Forwarder: fwd,
		Whitelist: staticWhitelist{"127.0.0.1": true},
		Logger:    zerolog.Nop(),
	}), registry
}

func testContext(method string, params map[string]any) Context {
	if params == nil {
		params = map[string]any{}
	}
	return Context{
		Ctx:        context.Background(),
		Method:     method,
		Params:     params,
		APIVersion: 1,
		Range:      testRange,
		ClientIP:   "1.1.1.1",
	}
}

func TestEngine_BuildResponse_Handler(t *testing.T) {
	e, registry := newTestEngine(t, nil)
	registry.Register("ping", HandlerFunc(func(ctx Context) (map[string]any, error) {
		return map[string]any{"method": ctx.Method}, nil
	}))

	got, err := e.BuildResponse(testContext("ping", nil))
	if err != nil {
		t.Fatalf("BuildResponse() error = %v", err)
	}
	if got["method"] != "ping" {
		t.Errorf("result = %v", got)
	}
}

func TestEngine_BuildResponse_Errors(t *testing.T) {
	e, registry := newTestEngine(t, nil)
	registry.RegisterAdmin("secret", HandlerFunc(func(Context) (map[string]any, error) {
		return map[string]any{}, nil
	}))
	registry.Register("timeout", HandlerFunc(func(Context) (map[string]any, error) {
		return nil, fmt.Errorf("fetch: %w", backend.ErrDatabaseTimeout)
	}))
	registry.Register("invalid", HandlerFunc(func(Context) (map[string]any, error) {
		return nil, NewStatusMessage(CodeInvalidParams, "markerNotString")
	}))
	registry.Register("broken", HandlerFunc(func(Context) (map[string]any, error) {
		return nil, errors.New("boom")
	}))
	registry.Register("panics", HandlerFunc(func(Context) (map[string]any, error) {
		panic("boom")
	}))

	tests := []struct {
		method string
		want   ErrorCode
	}{
		{"nope", CodeUnknownCmd},
		{"secret", CodeNoPermission},
		{"timeout", CodeTooBusy},
		{"invalid", CodeInvalidParams},
		{"broken", CodeInternal},
		{"panics", CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := e.BuildResponse(testContext(tt.method, nil))
			if code := statusCode(t, err); code != tt.want {
				t.Errorf("code = %d, want %d", code, tt.want)
			}
		})
	}

	report := e.Counters().Report()
	if report["unknown_command_errors"] != uint64(1) {
		t.Errorf("unknown_command_errors = %v, want 1", report["unknown_command_errors"])
	}
	if report["too_busy_errors"] != uint64(1) {
		t.Errorf("too_busy_errors = %v, want 1", report["too_busy_errors"])
	}
	if report["internal_errors"] != uint64(2) {
		t.Errorf("internal_errors = %v, want 2", report["internal_errors"])
	}
}

func TestEngine_AdminHandler(t *testing.T) {
	e, registry := newTestEngine(t, nil)
	registry.RegisterAdmin("secret", HandlerFunc(func(Context) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))

	ctx := testContext("secret", nil)
	ctx.IsAdmin = true
	if _, err := e.BuildResponse(ctx); err != nil {
		t.Errorf("admin call failed: %v", err)
	}
}

func TestEngine_Forwarding(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		params      map[string]any
		isAdmin     bool
		wantForward bool
	}{
		{"forwarded method", "submit", nil, false, true},
		{"fee", "fee", nil, false, true},
		{"current ledger", "ledger_data", map[string]any{"ledger_index": "current"}, false, true},
		{"closed ledger", "ledger_data", map[string]any{"ledger_index": "closed"}, false, true},
		{"validated ledger", "ledger_data", map[string]any{"ledger_index": "validated"}, false, false},
		{"account_info queue", "account_info", map[string]any{"queue": true}, false, true},
		{"admin forward flag", "ledger_data", map[string]any{"forward": true}, true, true},
		{"non-admin forward flag", "ledger_data", map[string]any{"forward": true}, false, false},
		{"local only", "ledger_range", map[string]any{"ledger_index": "current"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &fakeForwarder{response: map[string]any{"result": map[string]any{"x": 1}}}
			e, registry := newTestEngine(t, fwd)
			registry.Register("ledger_data", HandlerFunc(func(Context) (map[string]any, error) {
				return map[string]any{}, nil
			}))
			registry.Register("ledger_range", HandlerFunc(func(Context) (map[string]any, error) {
				return map[string]any{}, nil
			}))

			ctx := testContext(tt.method, tt.params)
			ctx.IsAdmin = tt.isAdmin
			got, err := e.BuildResponse(ctx)

			if !tt.wantForward {
				if fwd.calls != 0 {
					t.Errorf("request was forwarded")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildResponse() error = %v", err)
			}
			if fwd.calls != 1 {
				t.Fatalf("forward calls = %d, want 1", fwd.calls)
			}
			if fwd.request["command"] != tt.method {
				t.Errorf("forwarded command = %v, want %s", fwd.request["command"], tt.method)
			}
			if got["forwarded"] != true {
				t.Error("forwarded flag missing")
			}
			if _, ok := got["result"]; !ok {
				t.Error("upstream result missing")
			}
		})
	}
}

func TestEngine_ForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("connection refused")}
	e, _ := newTestEngine(t, fwd)

	_, err := e.BuildResponse(testContext("submit", nil))
	if code := statusCode(t, err); code != CodeFailedToForward {
		t.Errorf("code = %d, want %d", code, CodeFailedToForward)
	}

	rpc := e.Counters().Report()["rpc"].(map[string]any)
	if rpc["submit"].(map[string]any)["failed_forward"] != uint64(1) {
		t.Errorf("failed_forward counter not updated: %v", rpc["submit"])
	}

	noUpstream, _ := newTestEngine(t, nil)
	_, err = noUpstream.BuildResponse(testContext("submit", nil))
	if code := statusCode(t, err); code != CodeFailedToForward {
		t.Errorf("code without forwarder = %d, want %d", code, CodeFailedToForward)
	}
}

func TestEngine_PostWhitelist(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	e.Post(func(context.Context) {
		close(started)
		<-release
	}, "1.1.1.1")
	<-started
	defer close(release)

	if !e.Post(func(context.Context) {}, "1.1.1.1") {
		t.Fatal("second post should fill the queue")
	}
	if e.Post(func(context.Context) {}, "1.1.1.1") {
		t.Error("queue should be saturated")
	}
	if !e.Post(func(context.Context) {}, "127.0.0.1") {
		t.Error("whitelisted client should bypass saturation")
	}
}

func TestCounters_Report(t *testing.T) {
	c := NewCounters(nil)
	c.RPCComplete("ledger_data", 1500*time.Microsecond)
	c.RPCComplete("ledger_data", 500*time.Microsecond)
	c.RPCErrored("ledger_data")
	c.RPCForwarded("fee")
	c.OnNotReady()
	c.OnBadSyntax()

	report := c.Report()
	rpc := report["rpc"].(map[string]any)
	ld := rpc["ledger_data"].(map[string]any)

	if ld["finished"] != uint64(2) || ld["errored"] != uint64(1) {
		t.Errorf("ledger_data counters = %v", ld)
	}
	if ld["duration_us"] != int64(2000) {
		t.Errorf("duration_us = %v, want 2000", ld["duration_us"])
	}
	if rpc["fee"].(map[string]any)["forwarded"] != uint64(1) {
		t.Errorf("fee counters = %v", rpc["fee"])
	}
	if report["not_ready_errors"] != uint64(1) || report["bad_syntax_errors"] != uint64(1) {
		t.Errorf("global counters = %v", report)
	}
	if _, ok := report["work_queue"]; ok {
		t.Error("work_queue must be absent without a queue")
	}
}
