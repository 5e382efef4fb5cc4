package strata

//
// Wire codec: header framing, varint sequencing, and control bodies.
//
// Encoding is total: EncodePacket/EncodeControlBody never fail given a
// well-formed Go value. Decoding is partial: DecodePacket/DecodeControlBody
// reject truncation and unknown tags by returning ok=false, never by
// panicking.
//

import "encoding/binary"

const (
	flagPacketType  = 1 << 0
	flagFragmentLo  = 1 << 1
	flagFragmentHi  = 1 << 2
	flagIsKeyframe  = 1 << 3
	flagIsConfig    = 1 << 4
)

// EncodePacket serialises p as a wire datagram.
func EncodePacket(p *Packet) []byte {
	flags := byte(0)
	if p.Header.PacketType == PacketTypeControl {
		flags |= flagPacketType
	}
	flags |= byte(p.Header.Fragment&0x3) << 1
	if p.Header.IsKeyframe {
		flags |= flagIsKeyframe
	}
	if p.Header.IsConfig {
		flags |= flagIsConfig
	}

	buf := make([]byte, 0, 1+binary.MaxVarintLen64+4+2+len(p.Payload))
	buf = append(buf, flags)
	buf = putUvarint(buf, p.Header.Sequence)

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], p.Header.TimestampUs)
	buf = append(buf, ts[:]...)

	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(p.Payload)))
	buf = append(buf, length[:]...)

	buf = append(buf, p.Payload...)
	return buf
}

// DecodePacket decodes a wire datagram produced by [EncodePacket]. It
// returns ok=false on truncation. It does not check that a Middle or
// End fragment follows a Start: one packet alone cannot show that, and
// the [Receiver]'s fragment assembler drops such fragments.
func DecodePacket(raw []byte) (pkt Packet, ok bool) {
	if len(raw) < 1 {
		return Packet{}, false
	}
	flags := raw[0]
	rest := raw[1:]

	seq, n := getUvarint(rest)
	if n == 0 {
		return Packet{}, false
	}
	rest = rest[n:]

	if len(rest) < 6 {
		return Packet{}, false
	}
	ts := binary.BigEndian.Uint32(rest[0:4])
	length := binary.BigEndian.Uint16(rest[4:6])
	rest = rest[6:]

	if uint16(len(rest)) < length {
		return Packet{}, false
	}
	payload := rest[:length]

	ptype := PacketTypeData
	if flags&flagPacketType != 0 {
		ptype = PacketTypeControl
	}
	frag := FragmentKind((flags >> 1) & 0x3)

	pkt = Packet{
		Header: Header{
			PacketType:  ptype,
			Sequence:    seq,
			TimestampUs: ts,
			Length:      length,
			Fragment:    frag,
			IsKeyframe:  flags&flagIsKeyframe != 0,
			IsConfig:    flags&flagIsConfig != 0,
		},
		Payload: payload,
	}
	return pkt, true
}

// EncodeControlBody serialises a control body with its leading tag byte.
func EncodeControlBody(b *ControlBody) []byte {
	buf := []byte{byte(b.Tag)}
	switch b.Tag {
	case ControlAck:
		buf = putUvarint(buf, b.Ack.CumulativeSeq)
		var bm [8]byte
		binary.LittleEndian.PutUint64(bm[:], b.Ack.SackBitmap)
		buf = append(buf, bm[:]...)
	case ControlNack:
		buf = putUvarint(buf, uint64(len(b.Nack.Ranges)))
		for _, r := range b.Nack.Ranges {
			buf = putUvarint(buf, r.StartSeq)
			buf = putUvarint(buf, r.Count)
		}
	case ControlPing:
		var tmp [6]byte
		binary.BigEndian.PutUint32(tmp[0:4], b.Ping.OriginTsUs)
		binary.BigEndian.PutUint16(tmp[4:6], b.Ping.PingID)
		buf = append(buf, tmp[:]...)
	case ControlPong:
		var tmp [10]byte
		binary.BigEndian.PutUint32(tmp[0:4], b.Pong.OriginTsUs)
		binary.BigEndian.PutUint16(tmp[4:6], b.Pong.PingID)
		binary.BigEndian.PutUint32(tmp[6:10], b.Pong.ReceiveTsUs)
		buf = append(buf, tmp[:]...)
	case ControlFecRepair:
		buf = putUvarint(buf, uint64(len(b.FecRepair.Coefficients)))
		buf = putUvarint(buf, b.FecRepair.WindowStart)
		buf = putUvarint(buf, b.FecRepair.WindowLen)
		buf = append(buf, b.FecRepair.Coefficients...)
		buf = append(buf, b.FecRepair.Data...)
	case ControlReceiverReport:
		var tmp [18]byte
		binary.BigEndian.PutUint64(tmp[0:8], b.ReceiverReport.GoodputBps)
		binary.BigEndian.PutUint16(tmp[8:10], fracToU16(b.ReceiverReport.FecRepairRate))
		binary.BigEndian.PutUint32(tmp[10:14], b.ReceiverReport.JitterBufferMs)
		binary.BigEndian.PutUint16(tmp[14:16], fracToU16(b.ReceiverReport.LossAfterFec))
		buf = append(buf, tmp[:16]...)
	case ControlSession:
		buf = append(buf, byte(b.Session.State))
		buf = putUvarint(buf, b.Session.Nonce)
	}
	return buf
}

// DecodeControlBody decodes the body of a control packet's payload.
func DecodeControlBody(raw []byte) (body ControlBody, ok bool) {
	if len(raw) < 1 {
		return ControlBody{}, false
	}
	tag := ControlTag(raw[0])
	rest := raw[1:]

	switch tag {
	case ControlAck:
		cum, n := getUvarint(rest)
		if n == 0 {
			return ControlBody{}, false
		}
		rest = rest[n:]
		if len(rest) < 8 {
			return ControlBody{}, false
		}
		bitmap := binary.LittleEndian.Uint64(rest[:8])
		return ControlBody{Tag: tag, Ack: AckPacket{CumulativeSeq: cum, SackBitmap: bitmap}}, true

	case ControlNack:
		count, n := getUvarint(rest)
		if n == 0 {
			return ControlBody{}, false
		}
		rest = rest[n:]
		ranges := make([]NackRange, 0, count)
		for i := uint64(0); i < count; i++ {
			start, n1 := getUvarint(rest)
			if n1 == 0 {
				return ControlBody{}, false
			}
			rest = rest[n1:]
			cnt, n2 := getUvarint(rest)
			if n2 == 0 {
				return ControlBody{}, false
			}
			rest = rest[n2:]
			ranges = append(ranges, NackRange{StartSeq: start, Count: cnt})
		}
		return ControlBody{Tag: tag, Nack: NackPacket{Ranges: ranges}}, true

	case ControlPing:
		if len(rest) < 6 {
			return ControlBody{}, false
		}
		return ControlBody{Tag: tag, Ping: PingPacket{
			OriginTsUs: binary.BigEndian.Uint32(rest[0:4]),
			PingID:     binary.BigEndian.Uint16(rest[4:6]),
		}}, true

	case ControlPong:
		if len(rest) < 10 {
			return ControlBody{}, false
		}
		return ControlBody{Tag: tag, Pong: PongPacket{
			OriginTsUs:  binary.BigEndian.Uint32(rest[0:4]),
			PingID:      binary.BigEndian.Uint16(rest[4:6]),
			ReceiveTsUs: binary.BigEndian.Uint32(rest[6:10]),
		}}, true

	case ControlFecRepair:
		clen, n := getUvarint(rest)
		if n == 0 {
			return ControlBody{}, false
		}
		rest = rest[n:]
		windowStart, n1 := getUvarint(rest)
		if n1 == 0 {
			return ControlBody{}, false
		}
		rest = rest[n1:]
		windowLen, n2 := getUvarint(rest)
		if n2 == 0 {
			return ControlBody{}, false
		}
		rest = rest[n2:]
		if uint64(len(rest)) < clen {
			return ControlBody{}, false
		}
		coeffs := append([]byte(nil), rest[:clen]...)
		data := append([]byte(nil), rest[clen:]...)
		return ControlBody{Tag: tag, FecRepair: FecRepairPacket{
			Coefficients: coeffs,
			WindowStart:  windowStart,
			WindowLen:    windowLen,
			Data:         data,
		}}, true

	case ControlReceiverReport:
		if len(rest) < 16 {
			return ControlBody{}, false
		}
		return ControlBody{Tag: tag, ReceiverReport: ReceiverReportPacket{
			GoodputBps:     binary.BigEndian.Uint64(rest[0:8]),
			FecRepairRate:  u16ToFrac(binary.BigEndian.Uint16(rest[8:10])),
			JitterBufferMs: binary.BigEndian.Uint32(rest[10:14]),
			LossAfterFec:   u16ToFrac(binary.BigEndian.Uint16(rest[14:16])),
		}}, true

	case ControlSession:
		if len(rest) < 1 {
			return ControlBody{}, false
		}
		state := SessionState(rest[0])
		nonce, n := getUvarint(rest[1:])
		if n == 0 {
			return ControlBody{}, false
		}
		return ControlBody{Tag: tag, Session: SessionPacket{State: state, Nonce: nonce}}, true

	default:
		return ControlBody{}, false
	}
}

// fracToU16 maps a probability in [0,1] to the wire's 0..10000 fixed-point range.
func fracToU16(f float64) uint16 {
	f = clampF64(f, 0, 1)
	return uint16(f * 10000)
}

// u16ToFrac is the inverse of fracToU16.
func u16ToFrac(v uint16) float64 {
	return float64(v) / 10000
}

// bondingMagic is the 4-byte prefix of every [BondingHeader].
var bondingMagic = [4]byte{'S', 'T', 'R', 'B'}

// BondingHeader lets the receiver order packets across links
// independently of per-link sequence numbering.
type BondingHeader struct {
	Seq uint64
}

// WrapBonding prefixes payload with a [BondingHeader] for seq.
func WrapBonding(seq uint64, payload []byte) []byte {
	buf := make([]byte, 0, 4+binary.MaxVarintLen64+len(payload))
	buf = append(buf, bondingMagic[:]...)
	buf = putUvarint(buf, seq)
	buf = append(buf, payload...)
	return buf
}

// UnwrapBonding parses a [BondingHeader] prefix, returning the seq and
// remaining payload. It rejects bad magic and truncation.
func UnwrapBonding(raw []byte) (seq uint64, payload []byte, ok bool) {
	if len(raw) < 4 || raw[0] != bondingMagic[0] || raw[1] != bondingMagic[1] ||
		raw[2] != bondingMagic[2] || raw[3] != bondingMagic[3] {
		return 0, nil, false
	}
	seq, n := getUvarint(raw[4:])
	if n == 0 {
		return 0, nil, false
	}
	return seq, raw[4+n:], true
}
