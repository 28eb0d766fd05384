package ledgercache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Bronek/clio/pkg/backend"
	"github.com/Bronek/clio/pkg/ledger"
)

// stateFetcher serves pages over a sorted in-memory state.
type stateFetcher struct {
	mu      sync.Mutex
	objects []ledger.Object
	calls   int
	failOn  *ledger.Key
	onFetch func(call int)
}

func newStateFetcher(n int) *stateFetcher {
	f := &stateFetcher{}
	for i := 0; i < n; i++ {
		var k ledger.Key
		k[0] = byte(i * 7)
		k[31] = byte(i)
		f.objects = append(f.objects, ledger.Object{Key: k, Blob: []byte{byte(i), 1}})
	}
	sort.Slice(f.objects, func(i, j int) bool {
		return f.objects[i].Key.Compare(f.objects[j].Key) < 0
	})
	return f
}

func (f *stateFetcher) FetchLedgerPage(_ context.Context, cursor *ledger.Key, _ uint32, limit uint32, _ bool) (backend.LedgerPage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(call)
	}

	if cursor != nil && f.failOn != nil && *cursor == *f.failOn {
		return backend.LedgerPage{}, errors.New("boom")
	}

	start := 0
	if cursor != nil {
		start = sort.Search(len(f.objects), func(i int) bool {
			return f.objects[i].Key.Compare(*cursor) > 0
		})
	}
	end := start + int(limit)
	if end > len(f.objects) {
		end = len(f.objects)
	}

	page := backend.LedgerPage{Objects: f.objects[start:end]}
	if end < len(f.objects) {
		last := f.objects[end-1].Key
		page.Cursor = &last
	}
	return page, nil
}

func TestLoader_LoadsFullState(t *testing.T) {
	fetcher := newStateFetcher(30)
	cache, _ := New(100)

	loader := NewLoader(fetcher, cache, LoaderConfig{Workers: 3, Partitions: 8, PageSize: 2}, zerolog.Nop())
	if err := loader.Load(context.Background(), 42); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cache.Size() != 30 {
		t.Errorf("Size() = %d, want 30", cache.Size())
	}
	if !cache.IsFull() {
		t.Error("cache should be full after load")
	}
	if cache.LatestLedgerSequence() != 42 {
		t.Errorf("LatestLedgerSequence() = %d, want 42", cache.LatestLedgerSequence())
	}
	for _, obj := range fetcher.objects {
		if _, ok := cache.Get(obj.Key, 42); !ok {
			t.Errorf("object %s missing from cache", obj.Key)
		}
	}
}

func TestLoader_PartitionFailure(t *testing.T) {
	fetcher := newStateFetcher(30)
	cache, _ := New(100)

	loader := NewLoader(fetcher, cache, LoaderConfig{Workers: 2, Partitions: 4, PageSize: 50}, zerolog.Nop())

	// the third partition starts after key 0x7F..FF
	boundary, _ := ledger.Key{0x80}.Prev()
	fetcher.failOn = &boundary

	if err := loader.Load(context.Background(), 7); err == nil {
		t.Fatal("expected error")
	}
	if cache.IsFull() {
		t.Error("cache must not be marked full after a failed load")
	}
}

func TestLoader_OvertakenByIngestion(t *testing.T) {
	fetcher := newStateFetcher(30)
	cache, _ := New(4)
	changed := fetcher.objects[0].Key

	// a newer ledger lands after the first page was fetched
	fetcher.onFetch = func(call int) {
		if call == 2 {
			cache.Update([]ledger.Object{{Key: changed, Blob: []byte("v43")}}, 43)
		}
	}

	loader := NewLoader(fetcher, cache, LoaderConfig{Workers: 1, Partitions: 1, PageSize: 2}, zerolog.Nop())
	err := loader.Load(context.Background(), 42)
	if !errors.Is(err, ErrLoadOutdated) {
		t.Fatalf("Load() error = %v, want ErrLoadOutdated", err)
	}
	if cache.IsFull() {
		t.Error("cache must not be marked full after an abandoned load")
	}
	if got, hit := cache.Get(changed, 43); hit && string(got) != "v43" {
		t.Errorf("Get() = %q, want the ingested version or a miss", got)
	}
	for _, obj := range fetcher.objects[2:] {
		if blob, hit := cache.Get(obj.Key, 43); hit {
			t.Errorf("object %s = %q served at 43 from the outdated load", obj.Key, blob)
		}
	}
}

func TestLoader_Partitions(t *testing.T) {
	loader := NewLoader(nil, nil, LoaderConfig{Partitions: 4}, zerolog.Nop())
	parts := loader.partitions()

	if len(parts) != 4 {
		t.Fatalf("len(partitions) = %d, want 4", len(parts))
	}
	if parts[0].start != nil {
		t.Error("first partition should start at the beginning")
	}
	if parts[3].end != nil {
		t.Error("last partition should be open ended")
	}
	if (*parts[1].end)[0] != 0x80 {
		t.Errorf("partition 1 end = %s, want 0x80 prefix", parts[1].end)
	}
	for i := 1; i < len(parts); i++ {
		next, _ := parts[i].start.Next()
		if next != *parts[i-1].end {
			t.Errorf("partition %d does not start where %d ends", i, i-1)
		}
	}
}
