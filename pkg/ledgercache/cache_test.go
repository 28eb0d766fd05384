package ledgercache

import (
	"bytes"
	"testing"

	"github.com/Bronek/clio/pkg/ledger"
)

func TestCache_GetByVersion(t *testing.T) {
	c, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := ledger.Key{0xAA}
	c.Update([]ledger.Object{{Key: key, Blob: []byte("v10")}}, 10)
	c.Update([]ledger.Object{{Key: key, Blob: []byte("v12")}}, 12)

	tests := []struct {
		name    string
		seq     uint32
		want    []byte
		wantHit bool
	}{
		{"latest", 12, []byte("v12"), true},
		{"older than cached version", 11, nil, false},
		{"beyond latest sequence", 13, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := c.Get(key, tt.seq)
			if hit != tt.wantHit {
				t.Fatalf("Get() hit = %v, want %v", hit, tt.wantHit)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCache_UpdateKeepsNewerVersion(t *testing.T) {
	c, _ := New(16)
	key := ledger.Key{0x01}

	c.Update([]ledger.Object{{Key: key, Blob: []byte("new")}}, 20)
	c.Update([]ledger.Object{{Key: key, Blob: []byte("old")}}, 15)

	got, hit := c.Get(key, 20)
	if !hit || string(got) != "new" {
		t.Errorf("Get() = %q, %v; want \"new\", true", got, hit)
	}
	if c.LatestLedgerSequence() != 20 {
		t.Errorf("LatestLedgerSequence() = %d, want 20", c.LatestLedgerSequence())
	}
}

func TestCache_OlderWriteAfterEviction(t *testing.T) {
	c, _ := New(1)
	key := ledger.Key{0x0A}

	c.Update([]ledger.Object{{Key: key, Blob: []byte("v11")}}, 11)
	// evicts key
	c.Update([]ledger.Object{{Key: ledger.Key{0x0B}, Blob: []byte("other")}}, 11)

	if applied := c.Update([]ledger.Object{{Key: key, Blob: []byte("v10")}}, 10); applied {
		t.Error("Update() at an older sequence should not be applied")
	}
	if got, hit := c.Get(key, 11); hit {
		t.Errorf("Get() = %q, hit; want miss after eviction", got)
	}
	if c.LatestLedgerSequence() != 11 {
		t.Errorf("LatestLedgerSequence() = %d, want 11", c.LatestLedgerSequence())
	}
}

func TestCache_DeletedObject(t *testing.T) {
	c, _ := New(16)
	key := ledger.Key{0x02}

	c.Update([]ledger.Object{{Key: key, Blob: []byte("x")}}, 5)
	c.Update([]ledger.Object{{Key: key}}, 6)

	got, hit := c.Get(key, 6)
	if !hit {
		t.Fatal("expected hit for deleted object")
	}
	if len(got) != 0 {
		t.Errorf("Get() = %q, want empty blob", got)
	}
}

func TestCache_Fullness(t *testing.T) {
	c, _ := New(2)
	if c.IsFull() {
		t.Fatal("empty cache should not be full")
	}

	c.Update([]ledger.Object{{Key: ledger.Key{1}, Blob: []byte("a")}}, 1)
	if c.IsFull() {
		t.Error("cache below capacity should not be full")
	}
	c.SetFull()
	if !c.IsFull() {
		t.Error("SetFull() should mark cache full")
	}

	c2, _ := New(2)
	c2.Update([]ledger.Object{
		{Key: ledger.Key{1}, Blob: []byte("a")},
		{Key: ledger.Key{2}, Blob: []byte("b")},
	}, 1)
	if !c2.IsFull() {
		t.Error("cache at capacity should be full")
	}
	if c2.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c2.Size())
	}
}

func TestCache_ObjectHitRate(t *testing.T) {
	c, _ := New(4)
	if got := c.ObjectHitRate(); got != 1 {
		t.Errorf("ObjectHitRate() with no requests = %v, want 1", got)
	}

	c.Update([]ledger.Object{{Key: ledger.Key{1}, Blob: []byte("a")}}, 3)
	c.Get(ledger.Key{1}, 3)
	c.Get(ledger.Key{2}, 3)

	if got := c.ObjectHitRate(); got != 0.5 {
		t.Errorf("ObjectHitRate() = %v, want 0.5", got)
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for zero capacity")
	}
}
