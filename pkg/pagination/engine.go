package pagination

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/rpc"
)

// Engine answers ledger_data requests against a Backend.
type Engine struct {
	backend backend.Backend
	logger  zerolog.Logger
}

// NewEngine creates a ledger_data engine reading from b.
func NewEngine(b backend.Backend, logger zerolog.Logger) *Engine {
	return &Engine{
		backend: b,
		logger:  logger.With().Str("component", "RPC").Str("handler", "ledger_data").Logger(),
	}
}

// Process produces one page for in. Stages run strictly in order: cursor
// validation, ledger resolution, marker check, fetch, deletion
// re-resolution, then decode and filter.
func (e *Engine) Process(ctx rpc.Context, in Input) (Output, error) {
	if in.OutOfOrder && in.Marker != nil {
		return Output{}, invalidParams("outOfOrderMarkerNotInt")
	}
	if !in.OutOfOrder && in.DiffMarker != nil {
		return Output{}, invalidParams("markerNotString")
	}

	header, err := e.resolveLedger(ctx, in)
	if err != nil {
		return Output{}, err
	}

	out := Output{
		LedgerHash:  header.Hash.String(),
		LedgerIndex: header.Sequence,
		Validated:   true,
		States:      []map[string]any{},
	}

	if in.Marker == nil && in.DiffMarker == nil {
		out.Header = header.ToJSON(in.Binary, ctx.APIVersion)
	} else if in.Marker != nil {
		blob, err := e.backend.FetchLedgerObject(ctx.Ctx, *in.Marker, header.Sequence)
		if err != nil {
			return Output{}, fmt.Errorf("fetch marker object: %w", err)
		}
		if blob == nil {
			return Output{}, invalidParams("markerDoesNotExist")
		}
	}

	start := time.Now()

	var results []ledger.Object
	if in.DiffMarker != nil {
		results, err = e.fetchDiff(ctx, *in.DiffMarker, header.Sequence)
		if err != nil {
			return Output{}, err
		}
		if next, ok := nextDiffMarker(*in.DiffMarker, header.Sequence); ok {
			out.DiffMarker = &next
		}
	} else {
		limit := min(in.Limit, in.Ceiling())
		page, err := e.backend.FetchLedgerPage(ctx.Ctx, in.Marker, header.Sequence, limit, in.OutOfOrder)
		if err != nil {
			return Output{}, fmt.Errorf("fetch ledger page: %w", err)
		}
		results = page.Objects

		if page.Cursor != nil {
			out.Marker = page.Cursor
		} else if in.OutOfOrder {
			head := ctx.Range.MaxSequence
			out.DiffMarker = &head
		}
	}

	fetched := time.Now()
	e.logger.Debug().
		Str("tag", ctx.Tag).
		Int("results", len(results)).
		Int64("fetch_us", fetched.Sub(start).Microseconds()).
		Msg("Fetched ledger data")

	// the type filter applies after the limit and never tops a page up
	for _, obj := range results {
		state, keep, err := render(obj, in)
		if err != nil {
			return Output{}, fmt.Errorf("decode object %s: %w", obj.Key, err)
		}
		if keep {
			out.States = append(out.States, state)
		}
	}

	if in.OutOfOrder {
		full := e.backend.Cache().IsFull()
		out.CacheFull = &full
	}

	e.logger.Debug().
		Str("tag", ctx.Tag).
		Int("states", len(out.States)).
		Int64("serialize_us", time.Since(fetched).Microseconds()).
		Msg("Serialized ledger data")

	return out, nil
}

// resolveLedger turns the selector into a header no newer than the
// request's range snapshot.
func (e *Engine) resolveLedger(ctx rpc.Context, in Input) (ledger.Header, error) {
	notFound := rpc.NewStatusMessage(rpc.CodeLgrNotFound, "ledgerNotFound")

	if in.LedgerHash != nil {
		header, err := e.backend.FetchLedgerByHash(ctx.Ctx, *in.LedgerHash)
		if errors.Is(err, backend.ErrNotFound) {
			return ledger.Header{}, notFound
		}
		if err != nil {
			return ledger.Header{}, fmt.Errorf("fetch ledger by hash: %w", err)
		}
		if header.Sequence > ctx.Range.MaxSequence {
			return ledger.Header{}, notFound
		}
		return header, nil
	}

	seq := ctx.Range.MaxSequence
	if in.LedgerIndex != nil {
		seq = *in.LedgerIndex
	}
	if seq > ctx.Range.MaxSequence {
		return ledger.Header{}, notFound
	}

	header, err := e.backend.FetchLedgerBySequence(ctx.Ctx, seq)
	if errors.Is(err, backend.ErrNotFound) {
		return ledger.Header{}, notFound
	}
	if err != nil {
		return ledger.Header{}, fmt.Errorf("fetch ledger by sequence: %w", err)
	}
	return header, nil
}

// fetchDiff returns the objects deleted by ledger diffSeq that exist again
// at seq. The deleted keys are resolved in one batched call; a failure of
// that call fails the page rather than being read as a deletion.
func (e *Engine) fetchDiff(ctx rpc.Context, diffSeq, seq uint32) ([]ledger.Object, error) {
	diff, err := e.backend.FetchLedgerDiff(ctx.Ctx, diffSeq)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger diff: %w", err)
	}

	var deleted []ledger.Key
	for _, obj := range diff {
		if len(obj.Blob) == 0 {
			deleted = append(deleted, obj.Key)
		}
	}
	if len(deleted) == 0 {
		return nil, nil
	}

	blobs, err := e.backend.FetchLedgerObjects(ctx.Ctx, deleted, seq)
	if err != nil {
		return nil, fmt.Errorf("resolve deleted objects: %w", err)
	}
	if len(blobs) != len(deleted) {
		return nil, fmt.Errorf("resolve deleted objects: got %d blobs for %d keys", len(blobs), len(deleted))
	}

	var results []ledger.Object
	for i, blob := range blobs {
		if len(blob) > 0 {
			results = append(results, ledger.Object{Key: deleted[i], Blob: blob})
		}
	}
	return results, nil
}

// nextDiffMarker steps one ledger back. There is no next marker once the
// walk is past the requested ledger or reached genesis.
func nextDiffMarker(marker, seq uint32) (uint32, bool) {
	if marker > seq || marker == 0 {
		return 0, false
	}
	return marker - 1, true
}

func render(obj ledger.Object, in Input) (map[string]any, bool, error) {
	if in.Binary {
		t, err := ledger.BlobType(obj.Blob)
		if err != nil {
			return nil, false, err
		}
		if in.Type != ledger.EntryTypeAny && t != in.Type {
			return nil, false, nil
		}
		return ledger.ToBinaryJSON(obj.Key, obj.Blob), true, nil
	}

	entry, err := ledger.DecodeEntry(obj.Key, obj.Blob)
	if err != nil {
		return nil, false, err
	}
	if in.Type != ledger.EntryTypeAny && entry.Type != in.Type {
		return nil, false, nil
	}
	return entry.ToJSON(), true, nil
}
