package rpc

import (
	"sort"
)

// Handler answers one RPC method.
type Handler interface {
	Process(ctx Context) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx Context) (map[string]any, error)

func (f HandlerFunc) Process(ctx Context) (map[string]any, error) {
	return f(ctx)
}

type registration struct {
	handler   Handler
	adminOnly bool
}

// Registry maps method names to handlers. It is filled at startup and
// read-only afterwards.
type Registry struct {
	handlers map[string]registration
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register adds a handler available to every caller.
func (r *Registry) Register(method string, h Handler) {
	r.handlers[method] = registration{handler: h}
}

// RegisterAdmin adds a handler only admin callers may use.
func (r *Registry) RegisterAdmin(method string, h Handler) {
	r.handlers[method] = registration{handler: h, adminOnly: true}
}

// Lookup returns the handler for method and whether it is admin only.
func (r *Registry) Lookup(method string) (h Handler, adminOnly bool, ok bool) {
	reg, ok := r.handlers[method]
	return reg.handler, reg.adminOnly, ok
}

// Methods lists the registered methods in order.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
