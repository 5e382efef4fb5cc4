package strata

//
// Session: handshake/teardown state machine and per-link RTT tracking
// (PING/PONG, SRTT/RTTVAR/RTO per Jacobson/Karels).
//

import (
	"time"
)

// SessionPhase is the lifecycle state of a [SessionMachine].
type SessionPhase uint8

const (
	SessionIdle SessionPhase = iota
	SessionHandshaking
	SessionEstablished
	SessionClosing
	SessionClosed
)

// SessionMachine drives the handshake/teardown exchange carried by
// [SessionPacket]. It is deliberately minimal: a nonce exchanged on
// Hello/Accept authenticates nothing on its own, it only lets both
// ends agree the session epoch matches before data flows.
type SessionMachine struct {
	phase SessionPhase
	nonce uint64
}

// NewSessionMachine creates a [SessionMachine] in SessionIdle.
func NewSessionMachine() *SessionMachine {
	return &SessionMachine{phase: SessionIdle}
}

// Phase returns the current phase.
func (sm *SessionMachine) Phase() SessionPhase {
	return sm.phase
}

// StartHandshake moves to SessionHandshaking and returns the Hello to send.
func (sm *SessionMachine) StartHandshake(nonce uint64) SessionPacket {
	sm.phase = SessionHandshaking
	sm.nonce = nonce
	return SessionPacket{State: SessionHello, Nonce: nonce}
}

// OnSessionPacket applies an incoming [SessionPacket], returning a reply
// to send (if any) and ok=true if a reply should be sent.
func (sm *SessionMachine) OnSessionPacket(pkt SessionPacket) (reply SessionPacket, ok bool) {
	switch pkt.State {
	case SessionHello:
		sm.phase = SessionEstablished
		sm.nonce = pkt.Nonce
		return SessionPacket{State: SessionAccept, Nonce: pkt.Nonce}, true
	case SessionAccept:
		if sm.phase == SessionHandshaking && pkt.Nonce == sm.nonce {
			sm.phase = SessionEstablished
		}
		return SessionPacket{}, false
	case SessionBye:
		sm.phase = SessionClosed
		return SessionPacket{}, false
	}
	return SessionPacket{}, false
}

// Close moves to SessionClosing and returns the Bye to send.
func (sm *SessionMachine) Close() SessionPacket {
	sm.phase = SessionClosing
	return SessionPacket{State: SessionBye, Nonce: sm.nonce}
}

// --- RTT tracker ------------------------------------------------------

// RTTTrackerConfig configures an [RTTTracker].
type RTTTrackerConfig struct {
	PingInterval time.Duration
	PendingTTL   time.Duration // pending pings older than this are aged out
}

func (c RTTTrackerConfig) withDefaults() RTTTrackerConfig {
	if c.PingInterval == 0 {
		c.PingInterval = 1 * time.Second
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = 5 * time.Second
	}
	return c
}

type pendingPing struct {
	sentAt time.Time
	sentUs uint32
}

// RTTTracker estimates SRTT/RTTVAR/RTO from PING/PONG round trips using
// the standard Jacobson/Karels smoothing equations.
type RTTTracker struct {
	cfg       RTTTrackerConfig
	nextID    uint16
	pending   map[uint16]pendingPing
	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	haveSRTT  bool
	lastPing  time.Time
}

// NewRTTTracker creates an [RTTTracker] with an initial conservative RTO.
func NewRTTTracker(cfg RTTTrackerConfig) *RTTTracker {
	cfg = cfg.withDefaults()
	return &RTTTracker{
		cfg:     cfg,
		pending: make(map[uint16]pendingPing),
		rto:     time.Second,
	}
}

// ShouldPing reports whether the ping interval has elapsed since the last ping.
func (rt *RTTTracker) ShouldPing(now time.Time) bool {
	return now.Sub(rt.lastPing) >= rt.cfg.PingInterval
}

// SendPing records a new outstanding ping and returns the packet to send.
func (rt *RTTTracker) SendPing(now time.Time, originTsUs uint32) PingPacket {
	rt.lastPing = now
	id := rt.nextID
	rt.nextID++
	rt.pending[id] = pendingPing{sentAt: now, sentUs: originTsUs}
	return PingPacket{OriginTsUs: originTsUs, PingID: id}
}

// OnPong consumes a matching pong, updating SRTT/RTTVAR/RTO. It returns
// ok=false if the ping id is unknown (already aged out or foreign).
func (rt *RTTTracker) OnPong(now time.Time, pong PongPacket) (sample time.Duration, ok bool) {
	pp, found := rt.pending[pong.PingID]
	if !found {
		return 0, false
	}
	delete(rt.pending, pong.PingID)

	sample = now.Sub(pp.sentAt)
	if !rt.haveSRTT {
		rt.srtt = sample
		rt.rttvar = sample / 2
		rt.haveSRTT = true
	} else {
		delta := rt.srtt - sample
		if delta < 0 {
			delta = -delta
		}
		rt.rttvar = rt.rttvar - rt.rttvar/4 + delta/4
		rt.srtt = rt.srtt - rt.srtt/8 + sample/8
	}
	rt.rto = rt.srtt + 4*rt.rttvar
	if rt.rto < 100*time.Millisecond {
		rt.rto = 100 * time.Millisecond
	}
	return sample, true
}

// AgeOutPending drops pending pings older than PendingTTL.
func (rt *RTTTracker) AgeOutPending(now time.Time) {
	for id, pp := range rt.pending {
		if now.Sub(pp.sentAt) > rt.cfg.PendingTTL {
			delete(rt.pending, id)
		}
	}
}

// SRTT returns the smoothed RTT estimate, 0 if no sample has landed yet.
func (rt *RTTTracker) SRTT() time.Duration {
	return rt.srtt
}

// RTO returns the current retransmission timeout estimate.
func (rt *RTTTracker) RTO() time.Duration {
	return rt.rto
}
