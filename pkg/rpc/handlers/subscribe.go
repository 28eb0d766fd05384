package handlers

import (
	"errors"
	"fmt"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/rpc"
)

// parseStreams decodes the "streams" parameter.
func parseStreams(params map[string]any) ([]feed.Stream, error) {
	raw, ok := params["streams"]
	if !ok {
		return nil, nil
	}
	array, ok := raw.([]any)
	if !ok {
		return nil, rpc.NewStatusMessage(rpc.CodeInvalidParams, "streamsNotArray")
	}

	streams := make([]feed.Stream, 0, len(array))
	for _, v := range array {
		name, ok := v.(string)
		if !ok {
			return nil, rpc.NewStatusMessage(rpc.CodeInvalidParams, "streamNotString")
		}
		stream, err := feed.ParseStream(name)
		if err != nil {
			return nil, rpc.NewStatusMessage(rpc.CodeInvalidParams, "streamMalformed")
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// Subscribe adds the calling connection to streams. Subscribing to the
// ledger stream answers with the newest validated ledger.
type Subscribe struct {
	backend backend.Backend
	feed    *feed.Manager
}

// NewSubscribe creates the subscribe handler.
func NewSubscribe(b backend.Backend, subs *feed.Manager) *Subscribe {
	return &Subscribe{backend: b, feed: subs}
}

func (h *Subscribe) Process(ctx rpc.Context) (map[string]any, error) {
	if ctx.ConnID == "" {
		return nil, rpc.NewStatusMessage(rpc.CodeBadSyntax, "Subscribe and unsubscribe are only allowed or websocket.")
	}
	streams, err := parseStreams(ctx.Params)
	if err != nil {
		return nil, err
	}

	result := map[string]any{}
	for _, stream := range streams {
		if err := h.feed.Subscribe(ctx.ConnID, stream); err != nil {
			if errors.Is(err, feed.ErrUnknownConnection) {
				return nil, rpc.NewStatusMessage(rpc.CodeInternal, "connection is not registered")
			}
			return nil, err
		}
		if stream == feed.StreamLedger {
			if err := h.ledgerInfo(ctx, result); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (h *Subscribe) ledgerInfo(ctx rpc.Context, out map[string]any) error {
	seq := ctx.Range.MaxSequence
	header, err := h.backend.FetchLedgerBySequence(ctx.Ctx, seq)
	if err != nil {
		return fmt.Errorf("fetch ledger %d: %w", seq, err)
	}
	fees, err := h.backend.FetchFees(ctx.Ctx, seq)
	if err != nil {
		return fmt.Errorf("fetch fees at %d: %w", seq, err)
	}

	out["ledger_index"] = header.Sequence
	out["ledger_hash"] = header.Hash.String()
	out["ledger_time"] = header.CloseTime
	out["fee_base"] = fees.BaseFee
	out["reserve_base"] = fees.ReserveBase
	out["reserve_inc"] = fees.ReserveIncrement
	out["validated_ledgers"] = fmt.Sprintf("%d-%d", ctx.Range.MinSequence, ctx.Range.MaxSequence)
	return nil
}

// Unsubscribe removes the calling connection from streams.
type Unsubscribe struct {
	feed *feed.Manager
}

// NewUnsubscribe creates the unsubscribe handler.
func NewUnsubscribe(subs *feed.Manager) *Unsubscribe {
	return &Unsubscribe{feed: subs}
}

func (h *Unsubscribe) Process(ctx rpc.Context) (map[string]any, error) {
	if ctx.ConnID == "" {
		return nil, rpc.NewStatusMessage(rpc.CodeBadSyntax, "Subscribe and unsubscribe are only allowed or websocket.")
	}
	streams, err := parseStreams(ctx.Params)
	if err != nil {
		return nil, err
	}
	for _, stream := range streams {
		h.feed.Unsubscribe(ctx.ConnID, stream)
	}
	return map[string]any{}, nil
}
