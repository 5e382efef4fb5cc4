package strata

//
// ReassemblyBuffer: the shared jitter buffer sitting downstream of the
// receiver pipeline. Single-producer-aggregate (the runtime pushes
// every delivered packet as it arrives), single-consumer (one drain
// task calls Release on a steady tick).
//

import "time"

// ReassemblyConfig configures a [ReassemblyBuffer].
type ReassemblyConfig struct {
	StartLatency time.Duration
	GapTimeout   time.Duration
	MaxLatency   time.Duration
	MinLatency   time.Duration
}

func (c ReassemblyConfig) withDefaults() ReassemblyConfig {
	if c.StartLatency == 0 {
		c.StartLatency = 150 * time.Millisecond
	}
	if c.GapTimeout == 0 {
		c.GapTimeout = 300 * time.Millisecond
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = 1 * time.Second
	}
	if c.MinLatency == 0 {
		c.MinLatency = 20 * time.Millisecond
	}
	return c
}

// ReassemblyBuffer merges the (possibly duplicate, possibly
// out-of-order) delivery stream into a single seq-ordered,
// latency-smoothed output keyed by bonding seq_id.
type ReassemblyBuffer struct {
	cfg ReassemblyConfig

	buffered  map[uint64]DeliveredPacket
	nextSeq   uint64
	haveFirst bool

	lostPackets uint64
	latePackets uint64
}

// NewReassemblyBuffer creates a [ReassemblyBuffer] applying cfg's defaults.
func NewReassemblyBuffer(cfg ReassemblyConfig) *ReassemblyBuffer {
	return &ReassemblyBuffer{
		cfg:      cfg.withDefaults(),
		buffered: make(map[uint64]DeliveredPacket),
	}
}

// Push enqueues a delivered packet. A packet below next_seq (one that
// next_seq has already advanced past) is counted as late, not buffered;
// a second copy of a seq that is still buffered is dropped.
func (b *ReassemblyBuffer) Push(dp DeliveredPacket) {
	if !b.haveFirst {
		b.nextSeq = dp.SeqID
		b.haveFirst = true
	}
	if dp.SeqID < b.nextSeq {
		b.latePackets++
		return
	}
	if _, exists := b.buffered[dp.SeqID]; exists {
		return
	}
	b.buffered[dp.SeqID] = dp
}

// Release drains every packet ready for emission: next_seq once its
// start latency has elapsed, or a forward jump over a gap that has
// exceeded gap_timeout (declaring the skipped seqs lost).
func (b *ReassemblyBuffer) Release(now time.Time) []DeliveredPacket {
	var out []DeliveredPacket
	for {
		if dp, ok := b.buffered[b.nextSeq]; ok {
			if now.Sub(dp.ArrivalTime) < b.cfg.StartLatency {
				break
			}
			delete(b.buffered, b.nextSeq)
			out = append(out, dp)
			b.nextSeq++
			continue
		}

		seq, dp, found := b.earliestBuffered()
		if !found {
			break
		}
		if now.Sub(dp.ArrivalTime) >= b.cfg.GapTimeout {
			b.lostPackets += seq - b.nextSeq
			b.nextSeq = seq
			continue
		}
		break
	}
	return out
}

func (b *ReassemblyBuffer) earliestBuffered() (uint64, DeliveredPacket, bool) {
	var (
		minSeq uint64
		minDp  DeliveredPacket
		found  bool
	)
	for seq, dp := range b.buffered {
		if !found || seq < minSeq {
			minSeq, minDp, found = seq, dp, true
		}
	}
	return minSeq, minDp, found
}

// Stats returns a [ReassemblyStats] snapshot for publication.
func (b *ReassemblyBuffer) Stats() ReassemblyStats {
	return ReassemblyStats{
		QueueDepth:       len(b.buffered),
		NextSeq:          b.nextSeq,
		LostPackets:      b.lostPackets,
		LatePackets:      b.latePackets,
		CurrentLatencyMs: float64(b.cfg.StartLatency.Microseconds()) / 1000,
	}
}
