package strata

import (
	"testing"
	"time"
)

// pipeSocket connects two [LinkSocket] instances back to back over
// buffered channels, standing in for a UDP path between two runtimes
// under test.
type pipeSocket struct {
	to   chan<- []byte
	from <-chan []byte
}

func newPipeSockets() (a, b *pipeSocket) {
	chAtoB := make(chan []byte, 64)
	chBtoA := make(chan []byte, 64)
	return &pipeSocket{to: chAtoB, from: chBtoA}, &pipeSocket{to: chBtoA, from: chAtoB}
}

func (p *pipeSocket) SendTo(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	select {
	case p.to <- cp:
	default:
	}
	return len(b), nil
}

func (p *pipeSocket) RecvFrom(deadline time.Time) ([]byte, bool, error) {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	select {
	case b := <-p.from:
		return b, true, nil
	case <-time.After(d):
		return nil, false, nil
	}
}

func (p *pipeSocket) LocalAddr() string { return "pipe" }
func (p *pipeSocket) Close() error      { return nil }

var _ LinkSocket = &pipeSocket{}

func newTestRuntimePair(t *testing.T) (rtA, rtB *Runtime, cleanup func()) {
	t.Helper()
	cfg := RuntimeConfig{MetricsInterval: 10 * time.Millisecond}

	rtA = NewRuntime(cfg, NewSender(SenderConfig{FecK: 1_000_000}), NewReceiver(ReceiverConfig{}), NewScheduler(SchedulerConfig{}), &NullLogger{})
	rtB = NewRuntime(cfg, NewSender(SenderConfig{FecK: 1_000_000}), NewReceiver(ReceiverConfig{}), NewScheduler(SchedulerConfig{}), &NullLogger{})

	sockA, sockB := newPipeSockets()
	linkCfg := TransportLinkConfig{ID: 1, PollInterval: 10 * time.Millisecond}
	linkA := NewTransportLink(linkCfg, sockA, &NullLogger{}, rtA.Incoming())
	linkB := NewTransportLink(linkCfg, sockB, &NullLogger{}, rtB.Incoming())

	rtA.AddLink(linkA)
	rtB.AddLink(linkB)

	// let the metrics tick run at least once so the scheduler sees an alive link.
	time.Sleep(50 * time.Millisecond)

	return rtA, rtB, func() {
		rtA.Shutdown()
		rtB.Shutdown()
	}
}

func TestRuntimeDeliversPacketAcrossLinkedPair(t *testing.T) {
	rtA, rtB, cleanup := newTestRuntimePair(t)
	defer cleanup()

	if outcome := rtA.TrySendPacket([]byte("hello from A"), PriorityStandard); outcome != SendOk {
		t.Fatalf("expected SendOk, got %v", outcome)
	}

	deadline := time.Now().Add(2 * time.Second)
	var delivered []DeliveredPacket
	for time.Now().Before(deadline) {
		delivered = append(delivered, rtB.DrainDelivered()...)
		if len(delivered) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(delivered) != 1 {
		t.Fatalf("expected exactly one delivered packet at B, got %d", len(delivered))
	}
	if string(delivered[0].Payload) != "hello from A" {
		t.Fatalf("unexpected payload: %q", delivered[0].Payload)
	}
}

func TestRuntimeMetricsReportAliveLink(t *testing.T) {
	rtA, _, cleanup := newTestRuntimePair(t)
	defer cleanup()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rtA.Metrics().AliveLinks > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rtA.Metrics().AliveLinks == 0 {
		t.Fatal("expected the runtime's metrics snapshot to report the link alive")
	}
}

func TestRuntimeShutdownStopsAcceptingSends(t *testing.T) {
	rtA, _, cleanup := newTestRuntimePair(t)
	cleanup()

	if outcome := rtA.TrySendPacket([]byte("x"), PriorityStandard); outcome != SendDisconnected {
		t.Fatalf("expected SendDisconnected after Shutdown, got %v", outcome)
	}
}
