// Package backend defines the read interface the RPC layer uses to reach
// ledger state. Implementations live in sub-packages.
package backend

import (
	"context"
	"errors"

	"github.com/Bronek/clio/pkg/ledger"
)

var (
	// ErrNotFound is returned when a ledger header is not stored.
	ErrNotFound = errors.New("not found")

	// ErrDatabaseTimeout is returned when a fetch did not complete in time.
	// The RPC layer reports it as "too busy".
	ErrDatabaseTimeout = errors.New("database timeout")
)

// LedgerPage is one page of full-state results. Cursor is nil when the page
// reached the end of the state.
type LedgerPage struct {
	Objects []ledger.Object
	Cursor  *ledger.Key
}

// Cache reports on the hot object cache kept in front of the store.
type Cache interface {
	IsFull() bool
	Size() int
	LatestLedgerSequence() uint32
	ObjectHitRate() float64
}

// Backend is the read side of the ledger store.
//
// Object fetches return a nil blob when the key has no live version at the
// requested sequence; errors are reserved for failures of the store itself.
type Backend interface {
	// FetchLedgerRange returns the range of stored ledgers and false while
	// nothing has been ingested yet.
	FetchLedgerRange() (ledger.Range, bool)

	FetchLedgerBySequence(ctx context.Context, seq uint32) (ledger.Header, error)
	FetchLedgerByHash(ctx context.Context, hash ledger.Key) (ledger.Header, error)

	FetchLedgerObject(ctx context.Context, key ledger.Key, seq uint32) ([]byte, error)

	// FetchLedgerObjects resolves keys in a single batched call; the result
	// has the same length and order as keys.
	FetchLedgerObjects(ctx context.Context, keys []ledger.Key, seq uint32) ([][]byte, error)

	// FetchLedgerPage returns up to limit live objects with keys strictly
	// greater than cursor (from the start when cursor is nil).
	FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq uint32, limit uint32, outOfOrder bool) (LedgerPage, error)

	// FetchLedgerDiff returns every object written by ledger seq. Deleted
	// objects have an empty blob.
	FetchLedgerDiff(ctx context.Context, seq uint32) ([]ledger.Object, error)

	FetchFees(ctx context.Context, seq uint32) (ledger.Fees, error)

	Cache() Cache
}

// Writer is the ingestion side of the store, used by the ETL publisher.
type Writer interface {
	WriteLedger(ctx context.Context, header ledger.Header, objects []ledger.Object) error
}
