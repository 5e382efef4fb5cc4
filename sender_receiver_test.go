package strata

import (
	"testing"
	"time"
)

// TestSenderReceiverLosslessRoundTrip is the E1 scenario: every packet
// the sender queues arrives at the receiver, in order, with no drops.
func TestSenderReceiverLosslessRoundTrip(t *testing.T) {
	sender := NewSender(SenderConfig{MaxPayloadSize: 32, FecK: 1_000_000}) // disable FEC pacing for this test
	receiver := NewReceiver(ReceiverConfig{})

	now := time.Unix(0, 0)
	payloads := [][]byte{
		[]byte("short"),
		[]byte("this payload is longer than the fragmentation threshold of 32 bytes"),
		[]byte("x"),
	}

	for _, p := range payloads {
		if err := sender.Send(now, p, PriorityStandard); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	var delivered []DeliveredPacket
	for _, qp := range sender.DrainQueue() {
		result := receiver.Receive(now, qp.Bytes)
		if !result.Decoded {
			t.Fatal("expected every sender-produced packet to decode on the receiver side")
		}
		delivered = append(delivered, result.Delivered...)
	}

	if len(delivered) != len(payloads) {
		t.Fatalf("expected %d delivered application payloads, got %d", len(payloads), len(delivered))
	}
	for i, dp := range delivered {
		if string(dp.Payload) != string(payloads[i]) {
			t.Fatalf("payload %d mismatch: want %q got %q", i, payloads[i], dp.Payload)
		}
	}
	if receiver.Duplicates() != 0 {
		t.Fatalf("expected no duplicates in a lossless run, got %d", receiver.Duplicates())
	}
}

// TestSenderReceiverOutOfOrderReorders checks that packets arriving out
// of sequence order are still delivered to the application in order.
func TestSenderReceiverOutOfOrderReorders(t *testing.T) {
	sender := NewSender(SenderConfig{FecK: 1_000_000})
	receiver := NewReceiver(ReceiverConfig{})
	now := time.Unix(0, 0)

	for _, p := range [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")} {
		if err := sender.Send(now, p, PriorityStandard); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	queued := sender.DrainQueue()
	if len(queued) != 4 {
		t.Fatalf("expected 4 queued packets, got %d", len(queued))
	}

	// Seq 0 establishes next_expected; subsequent seqs arrive reordered: 2, 1, 3.
	order := []int{0, 2, 1, 3}
	var delivered []DeliveredPacket
	for _, idx := range order {
		result := receiver.Receive(now, queued[idx].Bytes)
		delivered = append(delivered, result.Delivered...)
	}

	want := []string{"a", "b", "c", "d"}
	if len(delivered) != len(want) {
		t.Fatalf("expected %d delivered packets once reordering completes, got %d", len(want), len(delivered))
	}
	for i, dp := range delivered {
		if string(dp.Payload) != want[i] {
			t.Fatalf("delivery %d: want %q got %q", i, want[i], dp.Payload)
		}
	}
}

// TestSenderReceiverAckPurgesPool exercises ProcessAck trimming the
// sender's retransmit pool once the receiver confirms delivery.
func TestSenderReceiverAckPurgesPool(t *testing.T) {
	sender := NewSender(SenderConfig{FecK: 1_000_000})
	receiver := NewReceiver(ReceiverConfig{})
	now := time.Unix(0, 0)

	for _, p := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		Must0(sender.Send(now, p, PriorityStandard))
	}
	for _, qp := range sender.DrainQueue() {
		receiver.Receive(now, qp.Bytes)
	}
	if got := sender.PoolLen(); got == 0 {
		t.Fatal("expected in-flight packets to remain pooled before any ACK")
	}

	ack := receiver.GenerateAck()
	sender.ProcessAck(ack)

	if got := sender.PoolLen(); got != 0 {
		t.Fatalf("expected the pool to be purged after a cumulative ACK covering all sent packets, got %d entries", got)
	}
}

// TestSenderReceiverNackRetransmits checks that a NACK range triggers
// a retransmission queued with IsRetransmit set.
func TestSenderReceiverNackRetransmits(t *testing.T) {
	sender := NewSender(SenderConfig{FecK: 1_000_000})
	now := time.Unix(0, 0)

	Must0(sender.Send(now, []byte("payload"), PriorityStandard))
	sender.DrainQueue() // simulate the original send leaving the queue

	sender.ProcessNack(NackPacket{Ranges: []NackRange{{StartSeq: 0, Count: 1}}})

	retx := sender.DrainQueue()
	if len(retx) != 1 {
		t.Fatalf("expected exactly one retransmission queued, got %d", len(retx))
	}
	if !retx[0].IsRetransmit {
		t.Fatal("expected the NACK-triggered packet to be marked IsRetransmit")
	}
}
