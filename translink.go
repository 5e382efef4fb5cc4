package strata

//
// TransportLink: one physical path. Owns a congestion controller, an
// RTT tracker, and the datagram socket; forwards everything that isn't
// link-local control traffic (ping/pong) to the runtime's shared
// sender/receiver pair.
//

import (
	"sync"
	"time"
)

// IncomingFrame is a decoded-enough-to-route datagram handed from a
// [TransportLink]'s receive loop up to the [Runtime].
type IncomingFrame struct {
	LinkID  uint32
	Payload []byte
	RecvAt  time.Time
}

// LinkConfig is the spec §6.1 wire-level description of a link to add:
// an id, a submission URI (see [parseLinkURI]), and an optional
// interface name. [DialTransportLink] turns one into a live
// [TransportLink]; Interface only becomes the link's Iface label, and
// the socket is not bound to that interface.
type LinkConfig struct {
	ID        uint32
	URI       string
	Interface string
}

// DialTransportLink dials the UDP socket named by cfg.URI and wraps it
// in a [TransportLink]. It is the concrete implementation of the spec's
// `AddLink(LinkConfig)` submitted operation.
func DialTransportLink(cfg LinkConfig, logger Logger, up chan<- IncomingFrame) (*TransportLink, error) {
	sock, err := DialUDPSocket("", cfg.URI)
	if err != nil {
		return nil, err
	}
	tlCfg := TransportLinkConfig{ID: cfg.ID, Iface: cfg.Interface}
	return NewTransportLink(tlCfg, sock, logger, up), nil
}

// TransportLinkConfig configures a [TransportLink].
type TransportLinkConfig struct {
	ID       uint32
	Iface    string
	LinkKind string
	MTU      int
	PollInterval time.Duration // recv loop poll granularity
}

func (c TransportLinkConfig) withDefaults() TransportLinkConfig {
	if c.MTU == 0 {
		c.MTU = 1500
	}
	if c.PollInterval == 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// TransportLink drives one physical path: a datagram socket paired
// with a [BiscayController] and an [RTTTracker]. Data, Ack, Nack,
// FecRepair, ReceiverReport and Session control bodies are forwarded
// unmodified (past bonding-header removal) to the runtime via the
// incoming channel supplied at construction; Ping/Pong are answered
// locally since they measure this path alone.
type TransportLink struct {
	cfg    TransportLinkConfig
	socket LinkSocket
	rtt    *RTTTracker
	cc     *BiscayController
	logger Logger

	up chan<- IncomingFrame

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	mu            sync.Mutex
	alive         bool
	osUp          bool
	windowStart   time.Time
	windowBytes   uint64
	observedBps   float64
	queueDepth    int
	lossRate      float64
	transport     TransportMetrics
	receiverRep   *ReceiverReportMetrics
	lastRF        RFMetrics
	haveRF        bool

	localBondingSeq uint64
}

// NewTransportLink creates a [TransportLink] bound to socket and spawns
// its background goroutines. Call [TransportLink.Close] to stop them.
func NewTransportLink(cfg TransportLinkConfig, socket LinkSocket, logger Logger, up chan<- IncomingFrame) *TransportLink {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewApexLogger(nil)
	}
	tl := &TransportLink{
		cfg:    cfg,
		socket: socket,
		rtt:    NewRTTTracker(RTTTrackerConfig{}),
		cc:     NewBiscayController(),
		logger: logger,
		up:     up,
		closed: make(chan struct{}),
		alive:  true,
		osUp:   true,
	}
	tl.wg.Add(2)
	go tl.recvLoop()
	go tl.pingLoop()
	return tl
}

// ID implements [SchedulerLink].
func (tl *TransportLink) ID() uint32 { return tl.cfg.ID }

// SendBytes implements [SchedulerLink]: writes payload to the socket.
func (tl *TransportLink) SendBytes(payload []byte) (int, error) {
	if !tl.isAlive() {
		return 0, ErrDisconnected
	}
	n, err := tl.socket.SendTo(payload)
	if err != nil {
		tl.logger.Warnf("strata: link %s send: %s", tl.cfg.Iface, err.Error())
		return n, err
	}
	tl.noteSent(len(payload))
	return n, nil
}

func (tl *TransportLink) isAlive() bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.alive
}

func (tl *TransportLink) noteSent(n int) {
	tl.mu.Lock()
	tl.transport.PacketsSent++
	tl.mu.Unlock()
}

func (tl *TransportLink) noteReceivedBytes(now time.Time, n int) {
	tl.mu.Lock()
	if tl.windowStart.IsZero() {
		tl.windowStart = now
	}
	tl.windowBytes += uint64(n)
	tl.mu.Unlock()
}

// SetOsUp reports whether the OS-level link (e.g. a cellular modem's
// registration state) is currently up, feeding the scheduler's
// effective-capacity penalty.
func (tl *TransportLink) SetOsUp(up bool) {
	tl.mu.Lock()
	tl.osUp = up
	tl.mu.Unlock()
}

// ObserveRFMetrics feeds a cellular radio measurement to this link's
// congestion controller. Called by the modem supervisor.
func (tl *TransportLink) ObserveRFMetrics(now time.Time, rf RFMetrics) {
	tl.cc.OnRFMetrics(now, rf)
	tl.mu.Lock()
	tl.lastRF = rf
	tl.haveRF = true
	tl.mu.Unlock()
}

// ObserveReceiverReport records the peer's latest [ReceiverReportPacket]
// for this link, updating the loss-rate figure the scheduler consumes.
func (tl *TransportLink) ObserveReceiverReport(rep ReceiverReportPacket) {
	tl.mu.Lock()
	tl.receiverRep = &ReceiverReportMetrics{
		GoodputBps:     rep.GoodputBps,
		FecRepairRate:  rep.FecRepairRate,
		JitterBufferMs: rep.JitterBufferMs,
		LossAfterFec:   rep.LossAfterFec,
	}
	tl.lossRate = rep.LossAfterFec
	tl.mu.Unlock()
}

// SetQueueDepth reports the current outbound queue depth for this
// link, for the scheduler's metrics snapshot.
func (tl *TransportLink) SetQueueDepth(n int) {
	tl.mu.Lock()
	tl.queueDepth = n
	tl.mu.Unlock()
}

// Metrics implements [SchedulerLink]: a point-in-time snapshot.
func (tl *TransportLink) Metrics() LinkMetrics {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	osUp := tl.osUp
	m := LinkMetrics{
		RttMs:         float64(tl.rtt.SRTT().Microseconds()) / 1000,
		CapacityBps:   tl.cc.BtlBw() * 8,
		ObservedBps:   tl.observedBps,
		ObservedBytes: tl.windowBytes,
		LossRate:      tl.lossRate,
		QueueDepth:    tl.queueDepth,
		Alive:         tl.alive,
		Phase:         tl.phase(),
		OsUp:          &osUp,
		MTU:           tl.cfg.MTU,
		Iface:         tl.cfg.Iface,
		LinkKind:      tl.cfg.LinkKind,
	}
	transport := tl.transport
	m.Transport = &transport
	if tl.receiverRep != nil {
		rep := *tl.receiverRep
		m.ReceiverReport = &rep
	}
	return m
}

// phase maps the Biscay state machine onto the scheduler's coarser
// lifecycle phase vocabulary.
func (tl *TransportLink) phase() LinkPhase {
	switch tl.cc.State() {
	case BiscayPreHandover:
		return PhaseDegrade
	case BiscayCautious:
		return PhaseWarm
	default:
		if tl.cc.Phase() == BBRSlowStart {
			return PhaseProbe
		}
		return PhaseLive
	}
}

// recvLoop polls the socket and routes decoded frames.
func (tl *TransportLink) recvLoop() {
	defer tl.wg.Done()
	for {
		select {
		case <-tl.closed:
			return
		default:
		}

		raw, ok, err := tl.socket.RecvFrom(time.Now().Add(tl.cfg.PollInterval))
		if err != nil {
			tl.logger.Warnf("strata: link %s recv: %s", tl.cfg.Iface, err.Error())
			continue
		}
		if !ok {
			continue
		}
		now := time.Now()
		tl.noteReceivedBytes(now, len(raw))

		seq, payload, ok := UnwrapBonding(raw)
		if !ok {
			continue
		}
		tl.handleFrame(now, seq, payload)
	}
}

func (tl *TransportLink) handleFrame(now time.Time, seq uint64, payload []byte) {
	pkt, ok := DecodePacket(payload)
	if !ok {
		return
	}
	if pkt.Header.PacketType == PacketTypeControl {
		body, ok := DecodeControlBody(pkt.Payload)
		if ok {
			switch body.Tag {
			case ControlPing:
				tl.replyPong(now, body.Ping)
				return
			case ControlPong:
				if sample, ok := tl.rtt.OnPong(now, body.Pong); ok {
					tl.cc.OnRTTSample(now, sample)
				}
				return
			}
		}
	}

	select {
	case tl.up <- IncomingFrame{LinkID: tl.cfg.ID, Payload: payload, RecvAt: now}:
	default:
		tl.logger.Debugf("strata: link %s: incoming queue full, dropping frame", tl.cfg.Iface)
	}
}

func (tl *TransportLink) replyPong(now time.Time, ping PingPacket) {
	pong := PongPacket{OriginTsUs: ping.OriginTsUs, PingID: ping.PingID, ReceiveTsUs: uint32(now.UnixMicro())}
	body := ControlBody{Tag: ControlPong, Pong: pong}
	pkt := Packet{Header: Header{PacketType: PacketTypeControl}, Payload: EncodeControlBody(&body)}
	_, _ = tl.SendBytes(tl.wrapLocal(EncodePacket(&pkt)))
}

// pingLoop drives periodic RTT probes and bandwidth-sample accounting.
func (tl *TransportLink) pingLoop() {
	defer tl.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-tl.closed:
			return
		case now := <-ticker.C:
			tl.rtt.AgeOutPending(now)
			if tl.rtt.ShouldPing(now) {
				ping := tl.rtt.SendPing(now, uint32(now.UnixMicro()))
				body := ControlBody{Tag: ControlPing, Ping: ping}
				pkt := Packet{Header: Header{PacketType: PacketTypeControl}, Payload: EncodeControlBody(&body)}
				_, _ = tl.SendBytes(tl.wrapLocal(EncodePacket(&pkt)))
			}
			tl.flushBandwidthSample(now)
		}
	}
}

// wrapLocal wraps link-local control traffic (ping/pong) with the
// bonding header using a private sequence space: these frames never
// enter reassembly, so they don't need the scheduler's bonding
// sequence counter.
func (tl *TransportLink) wrapLocal(payload []byte) []byte {
	seq := tl.localBondingSeq
	tl.localBondingSeq++
	return WrapBonding(seq, payload)
}

func (tl *TransportLink) flushBandwidthSample(now time.Time) {
	tl.mu.Lock()
	if tl.windowStart.IsZero() {
		tl.mu.Unlock()
		return
	}
	elapsed := now.Sub(tl.windowStart)
	bytes := tl.windowBytes
	tl.windowBytes = 0
	tl.windowStart = now
	tl.mu.Unlock()

	if elapsed <= 0 {
		return
	}
	tl.cc.OnBandwidthSample(now, int(bytes), elapsed)
	tl.mu.Lock()
	tl.observedBps = float64(bytes) * 8 / elapsed.Seconds()
	tl.mu.Unlock()
}

// Close stops the background goroutines and closes the socket.
func (tl *TransportLink) Close() error {
	tl.closeOnce.Do(func() {
		tl.mu.Lock()
		tl.alive = false
		tl.mu.Unlock()
		close(tl.closed)
		tl.wg.Wait()
		_ = tl.socket.Close()
	})
	return nil
}

var _ SchedulerLink = &TransportLink{}
