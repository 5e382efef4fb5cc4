package strata

//
// Sender state machine: submit -> fragment -> pool -> FEC -> output;
// apply ACK/NACK; expire.
//

import "time"

// SenderConfig configures a [Sender].
type SenderConfig struct {
	MaxPayloadSize int           // fragmentation threshold, bytes
	PoolCapacity   int
	PacketTTL      time.Duration
	MaxRetries     int
	FecK           int    // source symbols per RLNC generation (encoder window)
	FecR           int    // repair symbols emitted per generation
	FecSeed        uint64
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = 1200
	}
	if c.PoolCapacity == 0 {
		c.PoolCapacity = 4096
	}
	if c.PacketTTL == 0 {
		c.PacketTTL = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 8
	}
	if c.FecK == 0 {
		c.FecK = 16
	}
	return c
}

// QueuedPacket is an encoded datagram ready for the output queue,
// tagged with the scheduling hints the scheduler needs.
type QueuedPacket struct {
	Bytes        []byte
	Priority     Priority
	IsRetransmit bool
}

// Sender is the per-link (or, before scheduling, per-session) sender
// state machine: it owns a [Pool], an [RLNCEncoder], and a
// [RetransmitTracker] exclusively.
type Sender struct {
	cfg SenderConfig

	pool    *Pool
	fec     *RLNCEncoder
	rtx     *RetransmitTracker
	seqsOut int // generation counter within the current FEC window, for FecR pacing

	nextSeq uint64
	queue   []QueuedPacket
}

// NewSender creates a [Sender] applying cfg's defaults.
func NewSender(cfg SenderConfig) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{
		cfg:  cfg,
		pool: NewPool(cfg.PoolCapacity),
		fec:  NewRLNCEncoder(cfg.FecK, cfg.FecSeed),
		rtx:  NewRetransmitTracker(cfg.MaxRetries),
	}
}

// Send fragments payload per MaxPayloadSize, pools each fragment, feeds
// the FEC encoder, and appends the resulting packets (data, then any
// FEC repairs due) to the output queue. It returns [ErrPoolFull] as
// soon as any fragment cannot be pooled, having already queued the
// fragments that did fit.
func (s *Sender) Send(now time.Time, payload []byte, priority Priority) error {
	isKeyframe := priority >= PriorityReference
	isConfig := priority >= PriorityCritical

	chunks := fragmentPayload(payload, s.cfg.MaxPayloadSize)
	for i, chunk := range chunks {
		frag := FragmentComplete
		if len(chunks) > 1 {
			switch {
			case i == 0:
				frag = FragmentStart
			case i == len(chunks)-1:
				frag = FragmentEnd
			default:
				frag = FragmentMiddle
			}
		}

		seq := s.nextSeq
		s.nextSeq++
		nowUs := uint32(now.UnixMicro())

		ctx := PoolContext{
			Sequence:    seq,
			TimestampUs: nowUs,
			Priority:    priority,
			Fragment:    frag,
			IsKeyframe:  isKeyframe,
			IsConfig:    isConfig,
			InsertedAt:  now,
		}
		if _, ok := s.pool.Insert(ctx, chunk); !ok {
			return ErrPoolFull
		}

		pkt := Packet{
			Header: Header{
				PacketType:  PacketTypeData,
				Sequence:    seq,
				TimestampUs: nowUs,
				Length:      uint16(len(chunk)),
				Fragment:    frag,
				IsKeyframe:  isKeyframe,
				IsConfig:    isConfig,
			},
			Payload: chunk,
		}
		s.queue = append(s.queue, QueuedPacket{Bytes: EncodePacket(&pkt), Priority: priority})

		s.fec.AddSource(seq, chunk)
		s.seqsOut++
		if s.seqsOut >= s.cfg.FecK {
			s.emitRepairs(s.cfg.FecR)
			s.seqsOut = 0
		}
	}
	return nil
}

// fragmentPayload splits payload into chunks no larger than maxSize.
// An empty payload still produces a single (empty) chunk.
func fragmentPayload(payload []byte, maxSize int) [][]byte {
	if len(payload) <= maxSize {
		return [][]byte{payload}
	}
	var chunks [][]byte
	for len(payload) > 0 {
		n := maxSize
		if n > len(payload) {
			n = len(payload)
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}

// emitRepairs asks the FEC encoder for up to n coded symbols and queues
// each as a control packet.
func (s *Sender) emitRepairs(n int) {
	for i := 0; i < n; i++ {
		sym, ok := s.fec.GenerateRepair()
		if !ok {
			return
		}
		body := ControlBody{Tag: ControlFecRepair, FecRepair: sym}
		pkt := Packet{
			Header:  Header{PacketType: PacketTypeControl},
			Payload: EncodeControlBody(&body),
		}
		s.queue = append(s.queue, QueuedPacket{Bytes: EncodePacket(&pkt)})
	}
}

// FlushFec forces the FEC encoder to emit repairs for a partial
// generation, e.g. at a GOP boundary or under deadline pressure.
func (s *Sender) FlushFec() {
	if s.seqsOut == 0 {
		return
	}
	s.emitRepairs(s.cfg.FecR)
	s.seqsOut = 0
}

// DrainQueue returns and clears the queued output packets.
func (s *Sender) DrainQueue() []QueuedPacket {
	out := s.queue
	s.queue = nil
	return out
}

// ProcessAck applies an [AckPacket]: every seq <= CumulativeSeq and
// every set SACK bit is marked acked, the retransmit tracker is
// cleaned up below the cumulative point, and the pool is purged.
func (s *Sender) ProcessAck(ack AckPacket) {
	s.ackUpTo(ack.CumulativeSeq)
	for bit := 0; bit < 64; bit++ {
		if ack.SackBitmap&(uint64(1)<<bit) == 0 {
			continue
		}
		seq := ack.CumulativeSeq + 1 + uint64(bit)
		if h, ok := s.pool.HandleForSeq(seq); ok {
			s.pool.MarkAcked(h)
		}
		s.fec.Acknowledge(seq)
	}
	s.rtx.CleanupBelow(ack.CumulativeSeq + 1)
	s.pool.PurgeAcked()
}

func (s *Sender) ackUpTo(cumulative uint64) {
	s.pool.MarkAckedUpTo(cumulative)
	s.fec.Acknowledge(cumulative)
}

// ProcessNack applies a [NackPacket]: for each still-pooled seq whose
// retransmit budget allows it, the packet is re-serialised (bumping
// RetryCount) and queued with IsRetransmit=true at its original
// priority. Seqs no longer in the pool are silently ignored.
func (s *Sender) ProcessNack(nack NackPacket) {
	for _, r := range nack.Ranges {
		for i := uint64(0); i < r.Count; i++ {
			seq := r.StartSeq + i
			h, ok := s.pool.HandleForSeq(seq)
			if !ok {
				continue
			}
			if !s.rtx.RequestRetransmit(seq) {
				continue
			}
			ctx, payload, ok := s.pool.GetMut(h)
			if !ok {
				continue
			}
			ctx.RetryCount++

			pkt := Packet{
				Header: Header{
					PacketType:  PacketTypeData,
					Sequence:    seq,
					TimestampUs: ctx.TimestampUs,
					Length:      uint16(len(payload)),
					Fragment:    ctx.Fragment,
					IsKeyframe:  ctx.IsKeyframe,
					IsConfig:    ctx.IsConfig,
				},
				Payload: payload,
			}
			s.queue = append(s.queue, QueuedPacket{
				Bytes:        EncodePacket(&pkt),
				Priority:     ctx.Priority,
				IsRetransmit: true,
			})
		}
	}
}

// ExpireOldPackets drains pool entries older than PacketTTL, forgetting
// their seq->handle mappings so future NACKs for them are no-ops.
func (s *Sender) ExpireOldPackets(now time.Time) []PoolContext {
	return s.pool.DrainExpired(now.Add(-s.cfg.PacketTTL))
}

// PoolLen returns the number of in-flight entries, for back-pressure signalling.
func (s *Sender) PoolLen() int {
	return s.pool.Len()
}
