// Package handlers implements the RPC methods answered locally.
package handlers

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/pagination"
	"github.com/Bronek/clio/pkg/rpc"
)

// Register adds every local handler to registry.
func Register(registry *rpc.Registry, b backend.Backend, info *ServerInfo, subs *feed.Manager, logger zerolog.Logger) {
	registry.Register("ledger_data", NewLedgerData(b, logger))
	registry.Register("ledger_range", LedgerRange{})
	registry.Register("random", Random{})
	registry.Register("server_info", info)
	registry.Register("subscribe", NewSubscribe(b, subs))
	registry.Register("unsubscribe", NewUnsubscribe(subs))
}

// LedgerData serves ledger_data through the pagination engine.
type LedgerData struct {
	engine *pagination.Engine
}

// NewLedgerData creates the ledger_data handler.
func NewLedgerData(b backend.Backend, logger zerolog.Logger) *LedgerData {
	return &LedgerData{engine: pagination.NewEngine(b, logger)}
}

func (h *LedgerData) Process(ctx rpc.Context) (map[string]any, error) {
	in, err := pagination.DecodeInput(ctx.Params)
	if err != nil {
		return nil, err
	}
	out, err := h.engine.Process(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.ToJSON(), nil
}

// LedgerRange reports the range snapshot taken for the request.
type LedgerRange struct{}

func (LedgerRange) Process(ctx rpc.Context) (map[string]any, error) {
	return map[string]any{
		"ledger_index_min": ctx.Range.MinSequence,
		"ledger_index_max": ctx.Range.MaxSequence,
	}, nil
}

// Random returns 256 bits of entropy.
type Random struct{}

func (Random) Process(rpc.Context) (map[string]any, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return map[string]any{
		"random": strings.ToUpper(fmt.Sprintf("%x", b[:])),
	}, nil
}
