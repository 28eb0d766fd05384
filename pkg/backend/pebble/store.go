// Package pebble implements the ledger store on a local pebble database.
//
// Objects are stored once per version under (key, ^seq) so the newest
// version at or below a sequence is found with a single forward seek.
// Each ledger also records its own writes under a per-sequence diff
// prefix, which backs diff-mode paging.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v4"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/ledgercache"
)

// ErrNonContiguous is returned when a ledger is written out of sequence.
var ErrNonContiguous = errors.New("ledger is not contiguous with stored range")

// Store is a pebble-backed Backend and Writer.
type Store struct {
	db     *pebble.DB
	cache  *ledgercache.Cache
	logger zerolog.Logger

	ledgerRange atomic.Pointer[ledger.Range]
}

var (
	_ backend.Backend = (*Store)(nil)
	_ backend.Writer  = (*Store)(nil)
)

// Open opens (or creates) the store in dir. Reads consult cache before
// touching the database.
func Open(dir string, cache *ledgercache.Cache, logger zerolog.Logger) (*Store, error) {
	blockCache := pebble.NewCache(64 << 20)
	defer blockCache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: blockCache})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	s := &Store{
		db:     db,
		cache:  cache,
		logger: logger.With().Str("component", "Backend").Logger(),
	}

	if err := s.loadRange(); err != nil {
		if dbErr := db.Close(); dbErr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close db: %w", dbErr))
		}
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if r, ok := s.FetchLedgerRange(); ok {
		s.logger.Info().
			Uint32("min_seq", r.MinSequence).
			Uint32("max_seq", r.MaxSequence).
			Msg("Opened ledger store")
	} else {
		s.logger.Info().Msg("Opened empty ledger store")
	}
	return s, nil
}

func (s *Store) loadRange() error {
	val, err := s.get(rangeKey())
	if errors.Is(err, backend.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r, err := decodeRange(val)
	if err != nil {
		return err
	}
	s.ledgerRange.Store(&r)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FetchLedgerRange() (ledger.Range, bool) {
	r := s.ledgerRange.Load()
	if r == nil {
		return ledger.Range{}, false
	}
	return *r, true
}

func (s *Store) Cache() backend.Cache {
	return s.cache
}

// Stats reports pebble's own counters for admin server_info.
func (s *Store) Stats() map[string]any {
	m := s.db.Metrics()
	return map[string]any{
		"disk_space_usage": m.DiskSpaceUsage(),
		"read_amp":         m.ReadAmp(),
		"compactions":      m.Compact.Count,
		"flushes":          m.Flush.Count,
		"memtable_size":    m.MemTable.Size,
	}
}

func (s *Store) FetchLedgerBySequence(ctx context.Context, seq uint32) (ledger.Header, error) {
	defer observe("ledger_by_seq", time.Now())
	if err := checkContext(ctx); err != nil {
		return ledger.Header{}, record("ledger_by_seq", err)
	}

	val, err := s.get(headerKey(seq))
	if err != nil {
		return ledger.Header{}, record("ledger_by_seq", err)
	}

	var h ledger.Header
	if err := msgpack.Unmarshal(val, &h); err != nil {
		return ledger.Header{}, record("ledger_by_seq", fmt.Errorf("decode header %d: %w", seq, err))
	}
	return h, record("ledger_by_seq", nil)
}

func (s *Store) FetchLedgerByHash(ctx context.Context, hash ledger.Key) (ledger.Header, error) {
	if err := checkContext(ctx); err != nil {
		return ledger.Header{}, record("ledger_by_hash", err)
	}

	val, err := s.get(hashKey(hash))
	if err != nil {
		return ledger.Header{}, record("ledger_by_hash", err)
	}
	seq, err := decodeSeq(val)
	if err != nil {
		return ledger.Header{}, record("ledger_by_hash", err)
	}
	return s.FetchLedgerBySequence(ctx, seq)
}

func (s *Store) FetchLedgerObject(ctx context.Context, key ledger.Key, seq uint32) ([]byte, error) {
	defer observe("object", time.Now())
	if err := checkContext(ctx); err != nil {
		return nil, record("object", err)
	}

	if blob, ok := s.cache.Get(key, seq); ok {
		return nonEmpty(blob), nil
	}

	it, err := s.objectIter()
	if err != nil {
		return nil, record("object", err)
	}
	defer it.Close()

	blob, err := readVersion(it, key, seq)
	return blob, record("object", err)
}

func (s *Store) FetchLedgerObjects(ctx context.Context, keys []ledger.Key, seq uint32) ([][]byte, error) {
	defer observe("objects", time.Now())
	if err := checkContext(ctx); err != nil {
		return nil, record("objects", err)
	}

	results := make([][]byte, len(keys))
	var misses []int
	for i, key := range keys {
		if blob, ok := s.cache.Get(key, seq); ok {
			results[i] = nonEmpty(blob)
			continue
		}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return results, nil
	}

	it, err := s.objectIter()
	if err != nil {
		return nil, record("objects", err)
	}
	defer it.Close()

	for _, i := range misses {
		blob, err := readVersion(it, keys[i], seq)
		if err != nil {
			return nil, record("objects", err)
		}
		results[i] = blob
	}
	return results, record("objects", nil)
}

func (s *Store) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq uint32, limit uint32, outOfOrder bool) (backend.LedgerPage, error) {
	defer observe("page", time.Now())

	var page backend.LedgerPage
	start := ledger.Key{}
	if cursor != nil {
		next, ok := cursor.Next()
		if !ok {
			return page, nil
		}
		start = next
	}

	it, err := s.objectIter()
	if err != nil {
		return page, record("page", err)
	}
	defer it.Close()

	for uint32(len(page.Objects)) < limit {
		if err := checkContext(ctx); err != nil {
			return backend.LedgerPage{}, record("page", err)
		}
		if !it.SeekGE(objectPrefix(start)) {
			break
		}

		key, _, err := decodeObjectKey(it.Key())
		if err != nil {
			return backend.LedgerPage{}, record("page", err)
		}
		blob, err := readVersion(it, key, seq)
		if err != nil {
			return backend.LedgerPage{}, record("page", err)
		}
		if blob != nil {
			page.Objects = append(page.Objects, ledger.Object{Key: key, Blob: blob})
		}

		next, ok := key.Next()
		if !ok {
			break
		}
		start = next
	}
	if err := it.Error(); err != nil {
		return backend.LedgerPage{}, record("page", err)
	}

	if limit > 0 && uint32(len(page.Objects)) == limit {
		last := page.Objects[len(page.Objects)-1].Key
		page.Cursor = &last
	}

	s.logger.Trace().
		Uint32("seq", seq).
		Int("objects", len(page.Objects)).
		Bool("out_of_order", outOfOrder).
		Msg("Fetched ledger page")

	return page, record("page", nil)
}

func (s *Store) FetchLedgerDiff(ctx context.Context, seq uint32) ([]ledger.Object, error) {
	defer observe("diff", time.Now())
	if err := checkContext(ctx); err != nil {
		return nil, record("diff", err)
	}

	prefix := diffPrefix(seq)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, record("diff", fmt.Errorf("create iterator: %w", err))
	}
	defer it.Close()

	var objects []ledger.Object
	for valid := it.First(); valid; valid = it.Next() {
		key, err := ledger.KeyFromBytes(it.Key()[len(prefix):])
		if err != nil {
			return nil, record("diff", err)
		}
		objects = append(objects, ledger.Object{Key: key, Blob: copyBytes(it.Value())})
	}
	if err := it.Error(); err != nil {
		return nil, record("diff", err)
	}
	return objects, record("diff", nil)
}

func (s *Store) FetchFees(ctx context.Context, seq uint32) (ledger.Fees, error) {
	blob, err := s.FetchLedgerObject(ctx, ledger.FeeSettingsKey, seq)
	if err != nil {
		return ledger.Fees{}, err
	}
	if blob == nil {
		return ledger.Fees{}, fmt.Errorf("fee settings at %d: %w", seq, backend.ErrNotFound)
	}
	return ledger.FeesFromBlob(blob)
}

// WriteLedger atomically stores a ledger header and the objects it
// changed, then advances the range. Objects with an empty blob are
// recorded as deletions.
func (s *Store) WriteLedger(ctx context.Context, header ledger.Header, objects []ledger.Object) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	next := ledger.Range{MinSequence: header.Sequence, MaxSequence: header.Sequence}
	if cur, ok := s.FetchLedgerRange(); ok {
		if header.Sequence != cur.MaxSequence+1 {
			return fmt.Errorf("%w: got %d, range %d-%d", ErrNonContiguous, header.Sequence, cur.MinSequence, cur.MaxSequence)
		}
		next.MinSequence = cur.MinSequence
	}

	encoded, err := msgpack.Marshal(&header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(headerKey(header.Sequence), encoded, nil); err != nil {
		return err
	}
	if err := batch.Set(hashKey(header.Hash), encodeSeq(header.Sequence), nil); err != nil {
		return err
	}
	for _, obj := range objects {
		if err := batch.Set(objectKey(obj.Key, header.Sequence), obj.Blob, nil); err != nil {
			return err
		}
		if err := batch.Set(diffKey(header.Sequence, obj.Key), obj.Blob, nil); err != nil {
			return err
		}
	}
	if err := batch.Set(rangeKey(), encodeRange(next), nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit ledger %d: %w", header.Sequence, err)
	}

	s.ledgerRange.Store(&next)
	storeWrites.Inc()

	s.logger.Debug().
		Uint32("seq", header.Sequence).
		Int("objects", len(objects)).
		Msg("Wrote ledger")
	return nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return copyBytes(val), nil
}

func (s *Store) objectIter() (*pebble.Iterator, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{codeObject},
		UpperBound: []byte{codeObject + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	return it, nil
}

// readVersion returns the newest blob of key at or below seq, or nil if
// there is none or it was deleted.
func readVersion(it *pebble.Iterator, key ledger.Key, seq uint32) ([]byte, error) {
	if !it.SeekGE(objectKey(key, seq)) {
		return nil, it.Error()
	}
	found, _, err := decodeObjectKey(it.Key())
	if err != nil {
		return nil, err
	}
	if found != key {
		return nil, nil
	}
	return nonEmpty(copyBytes(it.Value())), nil
}

// checkContext maps an expired deadline to ErrDatabaseTimeout.
func checkContext(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.ErrDatabaseTimeout
	}
	return err
}

func record(op string, err error) error {
	switch {
	case err == nil:
		storeReads.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, backend.ErrNotFound):
		storeReads.WithLabelValues(op, "not_found").Inc()
	case errors.Is(err, backend.ErrDatabaseTimeout):
		storeReads.WithLabelValues(op, "timeout").Inc()
	default:
		storeReads.WithLabelValues(op, "error").Inc()
	}
	return err
}

func observe(op string, start time.Time) {
	storeReadDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
