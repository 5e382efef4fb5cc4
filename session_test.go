package strata

import (
	"testing"
	"time"
)

func TestSessionMachineHandshakeInitiator(t *testing.T) {
	sm := NewSessionMachine()
	hello := sm.StartHandshake(123)
	if sm.Phase() != SessionHandshaking {
		t.Fatalf("expected SessionHandshaking after StartHandshake, got %v", sm.Phase())
	}
	if hello.State != SessionHello || hello.Nonce != 123 {
		t.Fatalf("unexpected hello packet: %+v", hello)
	}

	reply, ok := sm.OnSessionPacket(SessionPacket{State: SessionAccept, Nonce: 123})
	if ok {
		t.Fatalf("expected no reply to an Accept, got %+v", reply)
	}
	if sm.Phase() != SessionEstablished {
		t.Fatalf("expected SessionEstablished after matching Accept, got %v", sm.Phase())
	}
}

func TestSessionMachineHandshakeResponder(t *testing.T) {
	sm := NewSessionMachine()
	reply, ok := sm.OnSessionPacket(SessionPacket{State: SessionHello, Nonce: 77})
	if !ok {
		t.Fatal("expected a reply to a Hello")
	}
	if reply.State != SessionAccept || reply.Nonce != 77 {
		t.Fatalf("expected Accept echoing nonce 77, got %+v", reply)
	}
	if sm.Phase() != SessionEstablished {
		t.Fatalf("expected responder to move directly to SessionEstablished, got %v", sm.Phase())
	}
}

func TestSessionMachineAcceptWithMismatchedNonceIgnored(t *testing.T) {
	sm := NewSessionMachine()
	sm.StartHandshake(1)
	sm.OnSessionPacket(SessionPacket{State: SessionAccept, Nonce: 999})
	if sm.Phase() != SessionHandshaking {
		t.Fatalf("expected a mismatched nonce Accept to leave the machine handshaking, got %v", sm.Phase())
	}
}

func TestSessionMachineClose(t *testing.T) {
	sm := NewSessionMachine()
	sm.StartHandshake(5)
	sm.OnSessionPacket(SessionPacket{State: SessionAccept, Nonce: 5})

	bye := sm.Close()
	if bye.State != SessionBye {
		t.Fatalf("expected Close to produce a Bye packet, got %+v", bye)
	}
	if sm.Phase() != SessionClosing {
		t.Fatalf("expected SessionClosing after Close, got %v", sm.Phase())
	}

	sm.OnSessionPacket(SessionPacket{State: SessionBye})
	if sm.Phase() != SessionClosed {
		t.Fatalf("expected SessionClosed after peer Bye, got %v", sm.Phase())
	}
}

func TestRTTTrackerShouldPingRespectsInterval(t *testing.T) {
	rt := NewRTTTracker(RTTTrackerConfig{PingInterval: time.Second})
	now := time.Unix(0, 0)
	if !rt.ShouldPing(now) {
		t.Fatal("expected ShouldPing to be true before any ping has been sent")
	}
	rt.SendPing(now, 0)
	if rt.ShouldPing(now.Add(500 * time.Millisecond)) {
		t.Fatal("expected ShouldPing to be false before the interval elapses")
	}
	if !rt.ShouldPing(now.Add(2 * time.Second)) {
		t.Fatal("expected ShouldPing to be true once the interval elapses")
	}
}

func TestRTTTrackerOnPongFirstSampleSeedsSRTT(t *testing.T) {
	rt := NewRTTTracker(RTTTrackerConfig{})
	now := time.Unix(0, 0)
	ping := rt.SendPing(now, 1000)

	sample, ok := rt.OnPong(now.Add(40*time.Millisecond), PongPacket{PingID: ping.PingID})
	if !ok {
		t.Fatal("expected OnPong to match the pending ping")
	}
	if sample != 40*time.Millisecond {
		t.Fatalf("expected a 40ms sample, got %v", sample)
	}
	if rt.SRTT() != 40*time.Millisecond {
		t.Fatalf("expected SRTT to seed directly from the first sample, got %v", rt.SRTT())
	}
}

func TestRTTTrackerOnPongUnknownIDFails(t *testing.T) {
	rt := NewRTTTracker(RTTTrackerConfig{})
	if _, ok := rt.OnPong(time.Unix(0, 0), PongPacket{PingID: 999}); ok {
		t.Fatal("expected an unmatched ping id to fail")
	}
}

func TestRTTTrackerRTOFloor(t *testing.T) {
	rt := NewRTTTracker(RTTTrackerConfig{})
	now := time.Unix(0, 0)
	ping := rt.SendPing(now, 0)
	rt.OnPong(now.Add(time.Millisecond), PongPacket{PingID: ping.PingID})

	if rt.RTO() < 100*time.Millisecond {
		t.Fatalf("expected RTO to be floored at 100ms even after a 1ms sample, got %v", rt.RTO())
	}
}

func TestRTTTrackerAgeOutPending(t *testing.T) {
	rt := NewRTTTracker(RTTTrackerConfig{PendingTTL: 50 * time.Millisecond})
	now := time.Unix(0, 0)
	ping := rt.SendPing(now, 0)

	rt.AgeOutPending(now.Add(100 * time.Millisecond))

	if _, ok := rt.OnPong(now.Add(100*time.Millisecond), PongPacket{PingID: ping.PingID}); ok {
		t.Fatal("expected the pending ping to have aged out before its pong arrived")
	}
}
