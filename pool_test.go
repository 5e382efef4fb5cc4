package strata

import (
	"testing"
	"time"
)

func TestPoolInsertAndGetMut(t *testing.T) {
	p := NewPool(4)
	h, ok := p.Insert(PoolContext{Sequence: 1}, []byte("payload"))
	if !ok {
		t.Fatal("expected Insert to succeed with spare capacity")
	}
	ctx, payload, ok := p.GetMut(h)
	if !ok {
		t.Fatal("expected GetMut to resolve a freshly inserted handle")
	}
	if ctx.Sequence != 1 || string(payload) != "payload" {
		t.Fatalf("unexpected entry: %+v %q", ctx, payload)
	}
	if p.Len() != 1 {
		t.Fatalf("expected pool length 1, got %d", p.Len())
	}
}

func TestPoolFullRejectsInsert(t *testing.T) {
	p := NewPool(2)
	if _, ok := p.Insert(PoolContext{Sequence: 1}, nil); !ok {
		t.Fatal("expected first insert to succeed")
	}
	if _, ok := p.Insert(PoolContext{Sequence: 2}, nil); !ok {
		t.Fatal("expected second insert to succeed")
	}
	if _, ok := p.Insert(PoolContext{Sequence: 3}, nil); ok {
		t.Fatal("expected a full pool to reject further inserts")
	}
}

func TestPoolHandleForSeqResolves(t *testing.T) {
	p := NewPool(4)
	h, _ := p.Insert(PoolContext{Sequence: 42}, []byte("x"))

	got, ok := p.HandleForSeq(42)
	if !ok || got != h {
		t.Fatalf("expected HandleForSeq(42) to resolve the inserted handle, got %+v ok=%v", got, ok)
	}
	if _, ok := p.HandleForSeq(99); ok {
		t.Fatal("expected HandleForSeq for an unknown sequence to fail")
	}
}

func TestPoolStaleHandleAfterPurge(t *testing.T) {
	p := NewPool(4)
	h, _ := p.Insert(PoolContext{Sequence: 1}, []byte("x"))

	p.MarkAcked(h)
	p.PurgeAcked()

	if _, _, ok := p.GetMut(h); ok {
		t.Fatal("expected a handle from a purged slot to be stale")
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool to be empty after purge, got %d", p.Len())
	}
}

func TestPoolGenerationPreventsAliasing(t *testing.T) {
	p := NewPool(1)
	h1, _ := p.Insert(PoolContext{Sequence: 1}, []byte("first"))
	p.MarkAcked(h1)
	p.PurgeAcked()

	h2, ok := p.Insert(PoolContext{Sequence: 2}, []byte("second"))
	if !ok {
		t.Fatal("expected the freed slot to be reused")
	}
	if h1 == h2 {
		t.Fatal("expected the reused slot's handle to differ by generation")
	}
	if _, _, ok := p.GetMut(h1); ok {
		t.Fatal("expected the old handle to remain stale even after slot reuse")
	}
	ctx, payload, ok := p.GetMut(h2)
	if !ok || ctx.Sequence != 2 || string(payload) != "second" {
		t.Fatalf("expected the new handle to resolve the new entry, got %+v %q ok=%v", ctx, payload, ok)
	}
}

func TestPoolMarkAckedUpToIsInclusive(t *testing.T) {
	p := NewPool(4)
	p.Insert(PoolContext{Sequence: 0}, nil)
	p.Insert(PoolContext{Sequence: 1}, nil)
	p.Insert(PoolContext{Sequence: 2}, nil)

	p.MarkAckedUpTo(1)
	p.PurgeAcked()

	if p.Len() != 1 {
		t.Fatalf("expected only seq 2 to remain (seqs 0,1 purged), got %d entries", p.Len())
	}
	if _, ok := p.HandleForSeq(2); !ok {
		t.Fatal("expected seq 2 to still be present")
	}
}

func TestPoolDrainExpiredRemovesOldEntries(t *testing.T) {
	p := NewPool(4)
	base := time.Unix(0, 0)
	p.Insert(PoolContext{Sequence: 1, InsertedAt: base}, nil)
	p.Insert(PoolContext{Sequence: 2, InsertedAt: base.Add(time.Hour)}, nil)

	expired := p.DrainExpired(base.Add(time.Minute))
	if len(expired) != 1 || expired[0].Sequence != 1 {
		t.Fatalf("expected only seq 1 to expire, got %+v", expired)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", p.Len())
	}
}
