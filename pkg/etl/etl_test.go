package etl

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Bronek/clio/internal/testutil"
	"github.com/Bronek/clio/pkg/backend/pebble"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/ledgercache"
)

func TestState(t *testing.T) {
	s := NewState()
	require.Zero(t, s.LastCloseAgeSeconds(), "nothing published yet")
	require.Zero(t, s.LastPublishAgeSeconds())

	header := testutil.Header(5)
	closed := ledger.NetClockToTime(header.CloseTime)

	s.now = func() time.Time { return closed.Add(2 * time.Second) }
	s.Update(header)

	s.now = func() time.Time { return closed.Add(75 * time.Second) }
	require.Equal(t, uint32(75), s.LastCloseAgeSeconds())
	require.Equal(t, uint32(73), s.LastPublishAgeSeconds())

	report := s.Report()
	require.Equal(t, uint32(5), report["last_published_seq"])
	require.Equal(t, uint64(1), report["published_ledgers"])

	// a clock behind the close time never yields a negative age
	s.now = func() time.Time { return closed.Add(-time.Minute) }
	require.Zero(t, s.LastCloseAgeSeconds())
}

func TestState_Restore(t *testing.T) {
	s := NewState()
	header := testutil.Header(9)
	closed := ledger.NetClockToTime(header.CloseTime)
	s.now = func() time.Time { return closed.Add(90 * time.Second) }

	s.Restore(header)

	require.Equal(t, uint32(90), s.LastCloseAgeSeconds())
	require.Zero(t, s.LastPublishAgeSeconds(), "restoring is not a publish")
	require.Equal(t, uint64(0), s.Report()["published_ledgers"])
	require.Equal(t, uint32(9), s.Report()["last_published_seq"])
}

type recorder struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (r *recorder) Send(msg []byte) {
	var m map[string]any
	_ = json.Unmarshal(msg, &m)
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func feeObject() ledger.Object {
	return ledger.Object{
		Key: ledger.FeeSettingsKey,
		Blob: testutil.Blob(ledger.EntryTypeFeeSettings, map[string]any{
			"BaseFee":          uint64(10),
			"ReserveBase":      uint64(10_000_000),
			"ReserveIncrement": uint64(2_000_000),
		}),
	}
}

func newPublisher(t *testing.T) (*Publisher, *pebble.Store, *ledgercache.Cache, *State, *feed.Manager) {
	t.Helper()
	cache, err := ledgercache.New(100)
	require.NoError(t, err)
	store, err := pebble.Open(t.TempDir(), cache, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	state := NewState()
	subs := feed.NewManager(zerolog.Nop())
	return NewPublisher(store, cache, state, subs, zerolog.Nop()), store, cache, state, subs
}

func TestPublisher_Publish(t *testing.T) {
	p, store, cache, state, subs := newPublisher(t)
	ctx := context.Background()

	sub := &recorder{}
	subs.Register("conn-1", sub)
	require.NoError(t, subs.Subscribe("conn-1", feed.StreamLedger))

	account := ledger.Object{Key: ledger.Key{0xA0}, Blob: testutil.Blob(ledger.EntryTypeAccountRoot, map[string]any{"Balance": "1"})}
	require.NoError(t, p.Publish(ctx, testutil.Header(1), []ledger.Object{feeObject(), account}))

	rng, ok := store.FetchLedgerRange()
	require.True(t, ok)
	require.Equal(t, ledger.Range{MinSequence: 1, MaxSequence: 1}, rng)

	blob, hit := cache.Get(account.Key, 1)
	require.True(t, hit, "published objects go to the hot cache")
	require.Equal(t, account.Blob, blob)
	require.Equal(t, uint32(1), cache.LatestLedgerSequence())

	require.Equal(t, uint32(1), state.Report()["last_published_seq"])

	require.Len(t, sub.msgs, 1)
	msg := sub.msgs[0]
	require.Equal(t, "ledgerClosed", msg["type"])
	require.Equal(t, float64(1), msg["ledger_index"])
	require.Equal(t, testutil.HashFor(1).String(), msg["ledger_hash"])
	require.Equal(t, float64(10), msg["fee_base"])
	require.Equal(t, "1-1", msg["validated_ledgers"])
}

func TestPublisher_NonContiguous(t *testing.T) {
	p, _, _, state, _ := newPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, testutil.Header(1), []ledger.Object{feeObject()}))
	err := p.Publish(ctx, testutil.Header(3), nil)
	require.ErrorIs(t, err, pebble.ErrNonContiguous)
	require.Equal(t, uint32(1), state.Report()["last_published_seq"], "state must not advance on failure")
}

func ledgerLine(seq uint32, objects ...ledger.Object) string {
	header := testutil.Header(seq)
	rec := map[string]any{
		"ledger_index":          seq,
		"ledger_hash":           header.Hash.String(),
		"parent_hash":           header.ParentHash.String(),
		"total_coins":           fmt.Sprint(header.TotalCoins),
		"close_time":            header.CloseTime,
		"parent_close_time":     header.ParentCloseTime,
		"close_time_resolution": header.CloseTimeResolution,
	}
	objs := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		objs = append(objs, map[string]any{"index": o.Key.String(), "data": hex.EncodeToString(o.Blob)})
	}
	rec["objects"] = objs
	b, _ := json.Marshal(rec)
	return string(b)
}

func TestReadLedgers(t *testing.T) {
	deleted := ledger.Object{Key: ledger.Key{0xA0}}
	input := strings.Join([]string{
		ledgerLine(1, feeObject()),
		"",
		ledgerLine(2, deleted),
	}, "\n")

	var headers []ledger.Header
	var objects [][]ledger.Object
	err := ReadLedgers(context.Background(), strings.NewReader(input), func(h ledger.Header, o []ledger.Object) error {
		headers = append(headers, h)
		objects = append(objects, o)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, headers, 2)
	require.Equal(t, testutil.Header(1), headers[0])
	require.Equal(t, feeObject().Blob, objects[0][0].Blob)
	require.Empty(t, objects[1][0].Blob, "empty data is a deletion")
}

func TestReadLedgers_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{"},
		{"bad hash", `{"ledger_index":1,"ledger_hash":"zz"}`},
		{"bad object key", `{"ledger_index":1,"ledger_hash":"` + testutil.HashFor(1).String() + `","objects":[{"index":"00","data":""}]}`},
		{"bad object data", `{"ledger_index":1,"ledger_hash":"` + testutil.HashFor(1).String() + `","objects":[{"index":"` + ledger.FeeSettingsKey.String() + `","data":"xyz"}]}`},
		{"bad total coins", `{"ledger_index":1,"ledger_hash":"` + testutil.HashFor(1).String() + `","total_coins":"-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ReadLedgers(context.Background(), strings.NewReader(tt.input), func(ledger.Header, []ledger.Object) error {
				return nil
			})
			require.Error(t, err)
			require.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestReadLedgers_ImportsIntoStore(t *testing.T) {
	p, store, _, _, _ := newPublisher(t)
	ctx := context.Background()

	input := ledgerLine(1, feeObject()) + "\n" + ledgerLine(2)
	require.NoError(t, ReadLedgers(ctx, strings.NewReader(input), func(h ledger.Header, o []ledger.Object) error {
		return p.Publish(ctx, h, o)
	}))

	rng, ok := store.FetchLedgerRange()
	require.True(t, ok)
	require.Equal(t, uint32(2), rng.MaxSequence)

	fees, err := store.FetchFees(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(10), fees.BaseFee)
}
