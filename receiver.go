package strata

//
// Receiver state machine: ingest -> dedup -> reorder -> assemble ->
// deliver, with FEC repair integration and ACK/NACK/Report emission.
//

import "time"

// ReceiverConfig configures a [Receiver].
type ReceiverConfig struct {
	NackRearmMs    int
	MaxNackRetries int
	PacketTTL      time.Duration // playout deadline, used by cleanup
	StaleChainGap  uint64        // fragment chains this far behind next_expected are GC'd
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.MaxNackRetries == 0 {
		c.MaxNackRetries = 5
	}
	if c.PacketTTL == 0 {
		c.PacketTTL = 2 * time.Second
	}
	if c.StaleChainGap == 0 {
		c.StaleChainGap = 1000
	}
	return c
}

type fragmentChain struct {
	startSeq   uint64
	parts      [][]byte
	nextWanted uint64
	keyframe   bool
	config     bool
	fecParts   map[uint64]bool // which parts of this chain were FEC-recovered
}

// Receiver is the per-link receiver state machine.
type Receiver struct {
	cfg ReceiverConfig

	loss *LossDetector
	fec  *RLNCDecoder

	nextExpected uint64
	haveFirst    bool
	reorder      map[uint64][]byte // seq -> payload, for seqs not yet drained to the assembler
	reorderCtl   map[uint64]Header

	chains map[uint64]*fragmentChain // keyed by start seq

	duplicates      uint64
	lastReportAt    time.Time
	deliveredCount  uint64
	fecRecoveredSeq map[uint64]bool
}

// NewReceiver creates a [Receiver] applying cfg's defaults.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	cfg = cfg.withDefaults()
	return &Receiver{
		cfg:             cfg,
		loss:            NewLossDetector(LossDetectorConfig{RearmInterval: time.Duration(cfg.NackRearmMs) * time.Millisecond, MaxNacks: cfg.MaxNackRetries}),
		fec:             NewRLNCDecoder(),
		reorder:         make(map[uint64][]byte),
		reorderCtl:      make(map[uint64]Header),
		chains:          make(map[uint64]*fragmentChain),
		fecRecoveredSeq: make(map[uint64]bool),
	}
}

// ReceiveResult is the outcome of [Receiver.Receive].
type ReceiveResult struct {
	Delivered    []DeliveredPacket
	OtherControl *ControlBody // Ack/Nack/Ping/Pong/Session, for the owning link to dispatch
	Duplicate    bool
	Decoded      bool // false if raw bytes failed to decode at all
}

// Receive ingests one raw datagram.
func (r *Receiver) Receive(now time.Time, raw []byte) ReceiveResult {
	pkt, ok := DecodePacket(raw)
	if !ok {
		return ReceiveResult{Decoded: false}
	}

	if pkt.Header.PacketType == PacketTypeControl {
		body, ok := DecodeControlBody(pkt.Payload)
		if !ok {
			return ReceiveResult{Decoded: false}
		}
		if body.Tag == ControlFecRepair {
			r.fec.SetWindowStart(body.FecRepair.WindowStart)
			r.fec.AddCoded(body.FecRepair.WindowStart, body.FecRepair.WindowLen, body.FecRepair.Coefficients, body.FecRepair.Data)
			recovered := r.fec.TryRecover()
			var delivered []DeliveredPacket
			for _, rec := range recovered {
				r.fecRecoveredSeq[rec.Seq] = true
				if r.ingestData(now, rec.Seq, defaultRecoveredHeader(rec.Seq), rec.Data) {
					continue // duplicate
				}
				delivered = append(delivered, r.drainReady(now)...)
			}
			return ReceiveResult{Decoded: true, Delivered: delivered}
		}
		return ReceiveResult{Decoded: true, OtherControl: &body}
	}

	dup := r.ingestData(now, pkt.Header.Sequence, pkt.Header, pkt.Payload)
	if dup {
		r.duplicates++
		return ReceiveResult{Decoded: true, Duplicate: true}
	}
	return ReceiveResult{Decoded: true, Delivered: r.drainReady(now)}
}

// defaultRecoveredHeader synthesises a header for an FEC-recovered
// symbol: recovered symbols are always whole, un-fragmented packets
// from the sender's point of view because the FEC layer operates on
// already-fragmented wire packets.
func defaultRecoveredHeader(seq uint64) Header {
	return Header{PacketType: PacketTypeData, Sequence: seq, Fragment: FragmentComplete}
}

// ingestData applies dedup + reorder buffering for a data packet,
// returning true if it was a duplicate.
func (r *Receiver) ingestData(now time.Time, seq uint64, hdr Header, payload []byte) (duplicate bool) {
	// Known-column cancellation needs every directly arrived symbol, not
	// just coded repair rows; duplicates just overwrite the same data.
	r.fec.AddSource(seq, payload)

	if !r.haveFirst {
		r.nextExpected = seq
		r.haveFirst = true
	}
	if seq < r.nextExpected {
		return true
	}
	if _, exists := r.reorder[seq]; exists {
		return true
	}
	r.reorder[seq] = payload
	r.reorderCtl[seq] = hdr
	return r.loss.OnReceive(seq)
}

// drainReady pulls contiguous sequences starting at nextExpected
// through the fragment assembler, in order, emitting [DeliveredPacket]s.
func (r *Receiver) drainReady(now time.Time) []DeliveredPacket {
	var out []DeliveredPacket
	for {
		payload, ok := r.reorder[r.nextExpected]
		if !ok {
			break
		}
		hdr := r.reorderCtl[r.nextExpected]
		delete(r.reorder, r.nextExpected)
		delete(r.reorderCtl, r.nextExpected)

		if dp, ok := r.assemble(now, hdr, payload); ok {
			out = append(out, dp)
		}
		r.nextExpected++
	}
	r.gcStaleChains()
	return out
}

// assemble feeds one in-order data packet's payload through the
// fragment assembler, returning a completed [DeliveredPacket] if this
// packet completed a chain.
func (r *Receiver) assemble(now time.Time, hdr Header, payload []byte) (DeliveredPacket, bool) {
	switch hdr.Fragment {
	case FragmentComplete:
		return r.deliver(now, hdr.Sequence, hdr.IsKeyframe, hdr.IsConfig, payload), true

	case FragmentStart:
		r.chains[hdr.Sequence] = &fragmentChain{
			startSeq:   hdr.Sequence,
			parts:      [][]byte{payload},
			nextWanted: hdr.Sequence + 1,
			keyframe:   hdr.IsKeyframe,
			config:     hdr.IsConfig,
		}
		return DeliveredPacket{}, false

	case FragmentMiddle:
		chain := r.findChain(hdr.Sequence)
		if chain == nil || chain.nextWanted != hdr.Sequence {
			return DeliveredPacket{}, false // no preceding Start, or out of order: drop
		}
		chain.parts = append(chain.parts, payload)
		chain.nextWanted++
		return DeliveredPacket{}, false

	case FragmentEnd:
		chain := r.findChain(hdr.Sequence)
		if chain == nil || chain.nextWanted != hdr.Sequence {
			return DeliveredPacket{}, false
		}
		chain.parts = append(chain.parts, payload)
		delete(r.chains, chain.startSeq)

		total := 0
		for _, p := range chain.parts {
			total += len(p)
		}
		whole := make([]byte, 0, total)
		for _, p := range chain.parts {
			whole = append(whole, p...)
		}
		return r.deliver(now, chain.startSeq, chain.keyframe, chain.config, whole), true
	}
	return DeliveredPacket{}, false
}

// findChain locates the chain whose nextWanted equals seq, scanning
// tracked chains (bounded by StaleChainGap worth of concurrent chains
// in practice).
func (r *Receiver) findChain(seq uint64) *fragmentChain {
	for _, c := range r.chains {
		if c.nextWanted == seq {
			return c
		}
	}
	return nil
}

func (r *Receiver) gcStaleChains() {
	for start, chain := range r.chains {
		if r.nextExpected > start && r.nextExpected-start > r.cfg.StaleChainGap {
			delete(r.chains, start)
			_ = chain
		}
	}
}

func (r *Receiver) deliver(now time.Time, seqID uint64, keyframe, config bool, payload []byte) DeliveredPacket {
	r.deliveredCount++
	recovered := r.fecRecoveredSeq[seqID]
	delete(r.fecRecoveredSeq, seqID)
	return DeliveredPacket{
		SeqID:        seqID,
		Payload:      payload,
		IsKeyframe:   keyframe,
		IsConfig:     config,
		FecRecovered: recovered,
		ArrivalTime:  now,
	}
}

// GenerateAck builds the current cumulative+SACK acknowledgement.
func (r *Receiver) GenerateAck() AckPacket {
	cum := r.loss.HighestContiguous()
	var bitmap uint64
	for seq := range r.reorder {
		if seq > cum && seq <= cum+64 {
			bitmap |= uint64(1) << (seq - cum - 1)
		}
	}
	return AckPacket{CumulativeSeq: cum, SackBitmap: bitmap}
}

// GenerateNacks delegates to the loss detector.
func (r *Receiver) GenerateNacks(now time.Time) []NackRange {
	return r.loss.GenerateNacks(now)
}

// CleanupStale ages out stale NACK bookkeeping at the playout deadline.
func (r *Receiver) CleanupStale(now time.Time) {
	r.loss.CleanupStale(now.Add(-r.cfg.PacketTTL))
}

// Duplicates returns the running count of duplicate data packets seen.
func (r *Receiver) Duplicates() uint64 {
	return r.duplicates
}

// ReceiverReportStats is the data needed to build a [ReceiverReportPacket].
type ReceiverReportStats struct {
	GoodputBps     uint64
	FecRepairRate  float64
	JitterBufferMs uint32
	LossAfterFec   float64
}

// GenerateReport builds a [ReceiverReportPacket] from the supplied stats.
func (r *Receiver) GenerateReport(s ReceiverReportStats) ReceiverReportPacket {
	return ReceiverReportPacket{
		GoodputBps:     s.GoodputBps,
		FecRepairRate:  clampF64(s.FecRepairRate, 0, 1),
		JitterBufferMs: s.JitterBufferMs,
		LossAfterFec:   clampF64(s.LossAfterFec, 0, 1),
	}
}
