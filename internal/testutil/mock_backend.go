package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
)

// MockBackend is a testify mock of backend.Backend.
type MockBackend struct {
	mock.Mock
}

var _ backend.Backend = (*MockBackend)(nil)

func (m *MockBackend) FetchLedgerRange() (ledger.Range, bool) {
	args := m.Called()
	return args.Get(0).(ledger.Range), args.Bool(1)
}

func (m *MockBackend) FetchLedgerBySequence(ctx context.Context, seq uint32) (ledger.Header, error) {
	args := m.Called(ctx, seq)
	return args.Get(0).(ledger.Header), args.Error(1)
}

func (m *MockBackend) FetchLedgerByHash(ctx context.Context, hash ledger.Key) (ledger.Header, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(ledger.Header), args.Error(1)
}

func (m *MockBackend) FetchLedgerObject(ctx context.Context, key ledger.Key, seq uint32) ([]byte, error) {
	args := m.Called(ctx, key, seq)
	blob, _ := args.Get(0).([]byte)
	return blob, args.Error(1)
}

func (m *MockBackend) FetchLedgerObjects(ctx context.Context, keys []ledger.Key, seq uint32) ([][]byte, error) {
	args := m.Called(ctx, keys, seq)
	blobs, _ := args.Get(0).([][]byte)
	return blobs, args.Error(1)
}

func (m *MockBackend) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq uint32, limit uint32, outOfOrder bool) (backend.LedgerPage, error) {
	args := m.Called(ctx, cursor, seq, limit, outOfOrder)
	return args.Get(0).(backend.LedgerPage), args.Error(1)
}

func (m *MockBackend) FetchLedgerDiff(ctx context.Context, seq uint32) ([]ledger.Object, error) {
	args := m.Called(ctx, seq)
	objects, _ := args.Get(0).([]ledger.Object)
	return objects, args.Error(1)
}

func (m *MockBackend) FetchFees(ctx context.Context, seq uint32) (ledger.Fees, error) {
	args := m.Called(ctx, seq)
	return args.Get(0).(ledger.Fees), args.Error(1)
}

func (m *MockBackend) Cache() backend.Cache {
	args := m.Called()
	return args.Get(0).(backend.Cache)
}

// FakeCache is a fixed backend.Cache.
type FakeCache struct {
	Full    bool
	Objects int
	Latest  uint32
	HitRate float64
}

func (c *FakeCache) IsFull() bool                 { return c.Full }
func (c *FakeCache) Size() int                    { return c.Objects }
func (c *FakeCache) LatestLedgerSequence() uint32 { return c.Latest }
func (c *FakeCache) ObjectHitRate() float64       { return c.HitRate }

// Header returns a header for seq with a hash derived from seq.
func Header(seq uint32) ledger.Header {
	return ledger.Header{
		Sequence:            seq,
		Hash:                HashFor(seq),
		ParentHash:          HashFor(seq - 1),
		TotalCoins:          99_999_999_999_000_000,
		CloseTime:           700_000_000 + seq,
		ParentCloseTime:     700_000_000 + seq - 4,
		CloseTimeResolution: 10,
	}
}

// HashFor is the ledger hash Header uses for seq.
func HashFor(seq uint32) ledger.Key {
	return ledger.Key{0x4B, 0xC5, byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq)}
}

// Blob encodes an entry of type t, panicking on error.
func Blob(t ledger.EntryType, fields map[string]any) []byte {
	b, err := ledger.EncodeEntry(t, fields)
	if err != nil {
		panic(err)
	}
	return b
}
