package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/rpc"
)

// ETLReporter is the part of the ingestion state server_info reports.
type ETLReporter interface {
	LastCloseAgeSeconds() uint32
	Report() map[string]any
}

// SubscriptionReporter reports subscriber counts per stream.
type SubscriptionReporter interface {
	Report() map[string]any
}

// StatsReporter is implemented by backends that expose storage statistics.
type StatsReporter interface {
	Stats() map[string]any
}

// ServerInfoOptions wires a ServerInfo handler. Upstream, ETL and
// Subscriptions may be nil.
type ServerInfoOptions struct {
	Backend       backend.Backend
	Counters      *rpc.Counters
	ETL           ETLReporter
	Subscriptions SubscriptionReporter
	Upstream      rpc.Forwarder
	Version       string
}

// ServerInfo describes this gateway, the newest validated ledger and,
// when reachable, the upstream node.
type ServerInfo struct {
	opts  ServerInfoOptions
	start time.Time
	now   func() time.Time
}

// NewServerInfo creates the server_info handler.
func NewServerInfo(opts ServerInfoOptions) *ServerInfo {
	return &ServerInfo{opts: opts, start: time.Now(), now: time.Now}
}

const dropsPerXRP = 1_000_000

func (h *ServerInfo) Process(ctx rpc.Context) (map[string]any, error) {
	seq := ctx.Range.MaxSequence

	header, err := h.opts.Backend.FetchLedgerBySequence(ctx.Ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("fetch validated ledger %d: %w", seq, err)
	}
	fees, err := h.opts.Backend.FetchFees(ctx.Ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("fetch fees at %d: %w", seq, err)
	}

	now := h.now().UTC()
	age := now.Unix() - ledger.NetClockToTime(header.CloseTime).Unix()
	if age < 0 {
		age = 0
	}

	cache := h.opts.Backend.Cache()
	info := map[string]any{
		"complete_ledgers": fmt.Sprintf("%d-%d", ctx.Range.MinSequence, ctx.Range.MaxSequence),
		"load_factor":      1,
		"clio_version":     h.opts.Version,
		"time":             now.Format("2006-Jan-02 15:04:05.000000 UTC"),
		"uptime":           int64(now.Sub(h.start).Seconds()),
		"validated_ledger": map[string]any{
			"age":              age,
			"hash":             header.Hash.String(),
			"seq":              header.Sequence,
			"base_fee_xrp":     float64(fees.BaseFee) / dropsPerXRP,
			"reserve_base_xrp": float64(fees.ReserveBase) / dropsPerXRP,
			"reserve_inc_xrp":  float64(fees.ReserveIncrement) / dropsPerXRP,
		},
		"cache": map[string]any{
			"size":              cache.Size(),
			"is_full":           cache.IsFull(),
			"latest_ledger_seq": cache.LatestLedgerSequence(),
			"object_hit_rate":   cache.ObjectHitRate(),
		},
	}

	if h.opts.Upstream != nil {
		h.addUpstreamInfo(ctx, info)
	}

	if ctx.IsAdmin {
		h.addAdminInfo(ctx, info)
	}

	return map[string]any{"info": info}, nil
}

// addAdminInfo adds counters and ETL state. Backend statistics are costly
// and only added when backend_counters is requested.
func (h *ServerInfo) addAdminInfo(ctx rpc.Context, info map[string]any) {
	counters := map[string]any{}
	if h.opts.Counters != nil {
		counters = h.opts.Counters.Report()
	}
	if h.opts.Subscriptions != nil {
		counters["subscriptions"] = h.opts.Subscriptions.Report()
	}
	info["counters"] = counters

	if h.opts.ETL != nil {
		info["etl"] = h.opts.ETL.Report()
	}

	if want, _ := ctx.Params["backend_counters"].(bool); want {
		if stats, ok := h.opts.Backend.(StatsReporter); ok {
			info["backend_counters"] = stats.Stats()
		}
	}
}

// addUpstreamInfo copies node values from the upstream server_info. An
// unreachable upstream only leaves them out.
func (h *ServerInfo) addUpstreamInfo(ctx rpc.Context, info map[string]any) {
	reqCtx, cancel := context.WithTimeout(ctx.Ctx, 2*time.Second)
	defer cancel()

	res, err := h.opts.Upstream.Forward(reqCtx, map[string]any{"command": "server_info"}, ctx.ClientIP, ctx.IsAdmin)
	if err != nil {
		return
	}
	result, ok := rpc.Object(res["result"])
	if !ok {
		return
	}
	upstream, ok := rpc.Object(result["info"])
	if !ok {
		return
	}

	if v, ok := upstream["load_factor"]; ok {
		info["load_factor"] = v
	}
	if v, ok := upstream["validation_quorum"]; ok {
		info["validation_quorum"] = v
	}
	if v, ok := upstream["build_version"]; ok {
		info["rippled_version"] = v
	}
	if v, ok := upstream["network_id"]; ok {
		info["network_id"] = v
	}
	if v, ok := upstream["amendment_blocked"]; ok {
		info["amendment_blocked"] = v
	}
}
