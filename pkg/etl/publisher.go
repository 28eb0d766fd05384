package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/ledgercache"
)

// Store is the part of the ledger store the publisher writes to and reads
// fees and the range back from.
type Store interface {
	backend.Writer
	FetchLedgerRange() (ledger.Range, bool)
	FetchFees(ctx context.Context, seq uint32) (ledger.Fees, error)
}

// Publisher makes a new ledger visible: it writes it, applies its objects
// to the hot cache, advances the state and notifies ledger subscribers.
type Publisher struct {
	store  Store
	cache  *ledgercache.Cache
	state  *State
	feed   *feed.Manager
	logger zerolog.Logger
}

// NewPublisher creates a publisher. subs may be nil.
func NewPublisher(store Store, cache *ledgercache.Cache, state *State, subs *feed.Manager, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		cache:  cache,
		state:  state,
		feed:   subs,
		logger: logger.With().Str("component", "ETL").Logger(),
	}
}

// Publish writes header and the objects it changed. Objects with an empty
// blob are deletions.
func (p *Publisher) Publish(ctx context.Context, header ledger.Header, objects []ledger.Object) error {
	start := time.Now()

	if err := p.store.WriteLedger(ctx, header, objects); err != nil {
		return fmt.Errorf("write ledger %d: %w", header.Sequence, err)
	}

	p.cache.Update(objects, header.Sequence)
	p.state.Update(header)

	publishedLedgers.Inc()
	publishDuration.Observe(time.Since(start).Seconds())

	p.logger.Info().
		Uint32("seq", header.Sequence).
		Int("objects", len(objects)).
		Dur("duration", time.Since(start)).
		Msg("Published ledger")

	if p.feed != nil && p.feed.Count(feed.StreamLedger) > 0 {
		p.publishLedgerClosed(ctx, header, len(objects))
	}
	return nil
}

func (p *Publisher) publishLedgerClosed(ctx context.Context, header ledger.Header, changed int) {
	msg := map[string]any{
		"type":         "ledgerClosed",
		"ledger_index": header.Sequence,
		"ledger_hash":  header.Hash.String(),
		"ledger_time":  header.CloseTime,
		"txn_count":    changed,
	}

	if fees, err := p.store.FetchFees(ctx, header.Sequence); err == nil {
		msg["fee_base"] = fees.BaseFee
		msg["reserve_base"] = fees.ReserveBase
		msg["reserve_inc"] = fees.ReserveIncrement
	} else {
		p.logger.Warn().Err(err).Uint32("seq", header.Sequence).Msg("Publishing ledger without fees")
	}

	if rng, ok := p.store.FetchLedgerRange(); ok {
		msg["validated_ledgers"] = fmt.Sprintf("%d-%d", rng.MinSequence, rng.MaxSequence)
	}

	p.feed.Publish(feed.StreamLedger, msg)
}
