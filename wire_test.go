package strata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  Packet
	}{
		{"data, no flags", Packet{
			Header:  Header{PacketType: PacketTypeData, Sequence: 42, TimestampUs: 123456, Length: 5},
			Payload: []byte("hello"),
		}},
		{"control, keyframe+config", Packet{
			Header: Header{
				PacketType: PacketTypeControl, Sequence: 1 << 40, TimestampUs: 7,
				Length: 3, Fragment: FragmentStart, IsKeyframe: true, IsConfig: true,
			},
			Payload: []byte("abc"),
		}},
		{"empty payload", Packet{
			Header:  Header{PacketType: PacketTypeData, Sequence: 0},
			Payload: []byte{},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := EncodePacket(&tc.pkt)
			got, ok := DecodePacket(raw)
			if !ok {
				t.Fatal("expected DecodePacket to succeed on a valid encoding")
			}
			// Length/Payload interplay: DecodePacket fills Header.Length
			// from the wire and Payload from the trailing bytes.
			want := tc.pkt
			want.Header.Length = uint16(len(tc.pkt.Payload))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodePacketRejectsTruncation(t *testing.T) {
	pkt := Packet{Header: Header{PacketType: PacketTypeData, Sequence: 1}, Payload: []byte("payload")}
	raw := EncodePacket(&pkt)

	for n := 0; n < len(raw); n++ {
		if _, ok := DecodePacket(raw[:n]); ok {
			t.Fatalf("expected DecodePacket to reject a %d-byte truncation of a %d-byte packet", n, len(raw))
		}
	}
}

func TestControlBodyRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body ControlBody
	}{
		{"ack", ControlBody{Tag: ControlAck, Ack: AckPacket{CumulativeSeq: 99, SackBitmap: 0xF0F0}}},
		{"nack", ControlBody{Tag: ControlNack, Nack: NackPacket{Ranges: []NackRange{{StartSeq: 1, Count: 3}, {StartSeq: 10, Count: 1}}}}},
		{"ping", ControlBody{Tag: ControlPing, Ping: PingPacket{OriginTsUs: 1000, PingID: 7}}},
		{"pong", ControlBody{Tag: ControlPong, Pong: PongPacket{OriginTsUs: 1000, PingID: 7, ReceiveTsUs: 1050}}},
		{"fec repair", ControlBody{Tag: ControlFecRepair, FecRepair: FecRepairPacket{
			Coefficients: []byte{1, 2, 3}, WindowStart: 5, WindowLen: 4, Data: []byte("coded"),
		}}},
		{"receiver report", ControlBody{Tag: ControlReceiverReport, ReceiverReport: ReceiverReportPacket{
			GoodputBps: 500_000, FecRepairRate: 0.25, JitterBufferMs: 80, LossAfterFec: 0.01,
		}}},
		{"session", ControlBody{Tag: ControlSession, Session: SessionPacket{State: SessionAccept, Nonce: 12345}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := EncodeControlBody(&tc.body)
			got, ok := DecodeControlBody(raw)
			if !ok {
				t.Fatal("expected DecodeControlBody to succeed on a valid encoding")
			}
			if diff := cmp.Diff(tc.body, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBondingHeaderRoundTrip(t *testing.T) {
	payload := []byte("bonded frame")
	wrapped := WrapBonding(7, payload)

	seq, got, ok := UnwrapBonding(wrapped)
	if !ok {
		t.Fatal("expected UnwrapBonding to succeed")
	}
	if seq != 7 {
		t.Fatalf("expected seq 7, got %d", seq)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, got)
	}
}

func TestUnwrapBondingRejectsBadMagic(t *testing.T) {
	if _, _, ok := UnwrapBonding([]byte("XXXXnotbonding")); ok {
		t.Fatal("expected UnwrapBonding to reject a bad magic prefix")
	}
}

func TestFracToU16RoundTrip(t *testing.T) {
	for _, f := range []float64{0, 0.01, 0.5, 0.9999, 1.0} {
		got := u16ToFrac(fracToU16(f))
		if diff := got - f; diff < -0.001 || diff > 0.001 {
			t.Fatalf("fracToU16/u16ToFrac round trip for %v: got %v", f, got)
		}
	}
}
