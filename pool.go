package strata

//
// Packet pool: a slab-backed in-flight store keyed by an opaque handle.
//

import "time"

// PacketHandle is an opaque reference into a [Pool] slab slot. The zero
// value never refers to a live entry.
type PacketHandle struct {
	index      int
	generation uint64
}

// PoolContext is the metadata a [Pool] entry carries alongside its payload.
type PoolContext struct {
	Sequence    uint64
	TimestampUs uint32
	Priority    Priority
	Fragment    FragmentKind
	IsKeyframe  bool
	IsConfig    bool
	RetryCount  int
	InsertedAt  time.Time
}

type poolSlot struct {
	used       bool
	acked      bool
	generation uint64
	context    PoolContext
	payload    []byte
}

// Pool is a slab-allocated in-flight packet store of fixed capacity.
// Handles are reused only after [Pool.PurgeAcked]; a generation counter
// makes a stale handle observably invalid rather than silently aliasing
// a new entry. Pool is not safe for concurrent use: each Sender owns
// its Pool exclusively.
type Pool struct {
	slots    []poolSlot
	free     []int
	seqIndex map[uint64]PacketHandle
	count    int
}

// NewPool creates a [Pool] with room for capacity in-flight entries.
func NewPool(capacity int) *Pool {
	return &Pool{
		slots:    make([]poolSlot, capacity),
		free:     identitySlice(capacity),
		seqIndex: make(map[uint64]PacketHandle, capacity),
	}
}

func identitySlice(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = n - 1 - i // pop from the back in ascending slot order
	}
	return out
}

// Insert adds a new entry, returning its handle, or ok=false if the pool is full.
func (p *Pool) Insert(ctx PoolContext, payload []byte) (handle PacketHandle, ok bool) {
	if len(p.free) == 0 {
		return PacketHandle{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	slot := &p.slots[idx]
	slot.used = true
	slot.acked = false
	slot.context = ctx
	slot.payload = payload
	p.count++

	h := PacketHandle{index: idx, generation: slot.generation}
	p.seqIndex[ctx.Sequence] = h
	return h, true
}

// valid reports whether h still refers to the live entry it was issued for.
func (p *Pool) valid(h PacketHandle) bool {
	if h.index < 0 || h.index >= len(p.slots) {
		return false
	}
	slot := &p.slots[h.index]
	return slot.used && slot.generation == h.generation
}

// GetMut returns a pointer to the entry's context and its payload, or
// ok=false if the handle is stale.
func (p *Pool) GetMut(h PacketHandle) (ctx *PoolContext, payload []byte, ok bool) {
	if !p.valid(h) {
		return nil, nil, false
	}
	slot := &p.slots[h.index]
	return &slot.context, slot.payload, true
}

// HandleForSeq resolves the handle currently bound to seq, if any.
func (p *Pool) HandleForSeq(seq uint64) (PacketHandle, bool) {
	h, ok := p.seqIndex[seq]
	if !ok || !p.valid(h) {
		return PacketHandle{}, false
	}
	return h, true
}

// MarkAcked marks h's entry acked. It is idempotent and a no-op on a stale handle.
func (p *Pool) MarkAcked(h PacketHandle) {
	if !p.valid(h) {
		return
	}
	p.slots[h.index].acked = true
}

// MarkAckedUpTo marks every live entry with Sequence <= cumulative as
// acked, scanning slots rather than sequence numbers so it costs
// O(pool size) regardless of how large cumulative is.
func (p *Pool) MarkAckedUpTo(cumulative uint64) {
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.used && slot.context.Sequence <= cumulative {
			slot.acked = true
		}
	}
}

// PurgeAcked drops every acked entry, bumping its generation so
// outstanding handles become stale. It scans every slot, so its cost is
// O(pool capacity), not O(# acked).
func (p *Pool) PurgeAcked() {
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.used && slot.acked {
			p.freeSlot(i)
		}
	}
}

// DrainExpired removes and returns every entry inserted before cutoff.
func (p *Pool) DrainExpired(cutoff time.Time) []PoolContext {
	var out []PoolContext
	for i := range p.slots {
		slot := &p.slots[i]
		if slot.used && slot.context.InsertedAt.Before(cutoff) {
			out = append(out, slot.context)
			p.freeSlot(i)
		}
	}
	return out
}

func (p *Pool) freeSlot(i int) {
	slot := &p.slots[i]
	delete(p.seqIndex, slot.context.Sequence)
	slot.used = false
	slot.acked = false
	slot.payload = nil
	slot.generation++
	p.count--
	p.free = append(p.free, i)
}

// Len returns the number of live entries.
func (p *Pool) Len() int {
	return p.count
}
