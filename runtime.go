package strata

//
// Runtime: the cooperative single-worker bonding loop. One goroutine
// owns the [Sender], [Receiver], [Scheduler] and the full set of
// [TransportLink]s; every other goroutine talks to it through an SPSC
// outbound ring, an inbound frame mailbox, and a control mailbox.
//

import (
	"sync"
	"time"
)

// RuntimeConfig configures a [Runtime].
type RuntimeConfig struct {
	MetricsInterval time.Duration
	RingCapacity    int
	IncomingBuffer  int
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.MetricsInterval == 0 {
		c.MetricsInterval = 200 * time.Millisecond
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = 2048
	}
	if c.IncomingBuffer == 0 {
		c.IncomingBuffer = 1024
	}
	return c
}

type controlKind uint8

const (
	controlAddLink controlKind = iota
	controlRemoveLink
	controlApplyConfig
)

type controlMsg struct {
	kind   controlKind
	link   *TransportLink
	linkID uint32
	apply  RuntimeApplyConfig
	done   chan struct{}
}

// RuntimeApplyConfig is the subset of runtime behavior reconfigurable
// at runtime, applied by the worker goroutine between ticks.
type RuntimeApplyConfig struct {
	FailoverWindow time.Duration
}

type outboundItem struct {
	payload  []byte
	priority Priority
}

// RuntimeMetrics is the point-in-time snapshot published once per
// metrics interval for any goroutine to read via [Runtime.Metrics].
type RuntimeMetrics struct {
	Links           []LinkMetrics
	AliveLinks      int
	AggregateBps    float64
	PoolLen         int
	Duplicates      uint64
	DeliveredTotal  uint64
	Reassembly      ReassemblyStats
}

// Runtime is the single-worker bonding engine.
type Runtime struct {
	cfg RuntimeConfig

	sender    *Sender
	receiver  *Receiver
	scheduler *Scheduler
	session   *SessionMachine
	logger    Logger
	hub       *MetricsHub

	ring     chan outboundItem
	incoming chan IncomingFrame
	control  chan controlMsg

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	links map[uint32]*TransportLink

	reassembly *ReassemblyBuffer

	metricsMu sync.Mutex
	metrics   RuntimeMetrics

	deliveredMu sync.Mutex
	delivered   []DeliveredPacket
}

// NewRuntime creates a [Runtime] around sender/receiver/scheduler and
// starts its worker goroutine. Call [Runtime.Shutdown] to stop it.
func NewRuntime(cfg RuntimeConfig, sender *Sender, receiver *Receiver, scheduler *Scheduler, logger Logger) *Runtime {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewApexLogger(nil)
	}
	rt := &Runtime{
		cfg:        cfg,
		sender:     sender,
		receiver:   receiver,
		scheduler:  scheduler,
		session:    NewSessionMachine(),
		logger:     logger,
		ring:       make(chan outboundItem, cfg.RingCapacity),
		incoming:   make(chan IncomingFrame, cfg.IncomingBuffer),
		control:    make(chan controlMsg),
		closed:     make(chan struct{}),
		links:      make(map[uint32]*TransportLink),
		reassembly: NewReassemblyBuffer(ReassemblyConfig{}),
		hub:        NewMetricsHub(MetricsConfig{}),
	}
	rt.wg.Add(1)
	go rt.workerMain()
	return rt
}

// Incoming returns the channel a [TransportLink] should be constructed
// with, so its receive loop can hand frames to this runtime's worker.
func (rt *Runtime) Incoming() chan<- IncomingFrame {
	return rt.incoming
}

// AddLink registers link with the scheduler. It blocks until the
// worker has processed the request.
func (rt *Runtime) AddLink(link *TransportLink) {
	rt.sendControl(controlMsg{kind: controlAddLink, link: link})
}

// RemoveLink unregisters and closes the link with the given id.
func (rt *Runtime) RemoveLink(id uint32) {
	rt.sendControl(controlMsg{kind: controlRemoveLink, linkID: id})
}

// ApplyConfig applies a runtime reconfiguration.
func (rt *Runtime) ApplyConfig(apply RuntimeApplyConfig) {
	rt.sendControl(controlMsg{kind: controlApplyConfig, apply: apply})
}

func (rt *Runtime) sendControl(msg controlMsg) {
	msg.done = make(chan struct{})
	select {
	case <-rt.closed:
		return
	case rt.control <- msg:
	}
	<-msg.done
}

// TrySendPacket enqueues payload on the outbound ring without blocking.
// The ring is a buffered Go channel, not a lock-free structure, and is
// safe for concurrent producers.
func (rt *Runtime) TrySendPacket(payload []byte, priority Priority) SendOutcome {
	select {
	case <-rt.closed:
		return SendDisconnected
	default:
	}
	select {
	case rt.ring <- outboundItem{payload: payload, priority: priority}:
		return SendOk
	default:
		return SendQueueFull
	}
}

// DrainDelivered returns and clears application payloads delivered
// since the last call.
func (rt *Runtime) DrainDelivered() []DeliveredPacket {
	rt.deliveredMu.Lock()
	defer rt.deliveredMu.Unlock()
	out := rt.delivered
	rt.delivered = nil
	return out
}

// Metrics returns the most recently published [RuntimeMetrics] snapshot.
func (rt *Runtime) Metrics() RuntimeMetrics {
	rt.metricsMu.Lock()
	defer rt.metricsMu.Unlock()
	return rt.metrics
}

// Hub returns the runtime's [MetricsHub] so callers can subscribe to
// strata-stats and congestion-control events before traffic starts.
func (rt *Runtime) Hub() *MetricsHub {
	return rt.hub
}

// Shutdown stops the worker goroutine and closes every registered link.
func (rt *Runtime) Shutdown() {
	rt.closeOnce.Do(func() {
		close(rt.closed)
		rt.wg.Wait()
	})
}

func (rt *Runtime) workerMain() {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.cfg.MetricsInterval)
	defer ticker.Stop()

	reassemblyTicker := time.NewTicker(10 * time.Millisecond)
	defer reassemblyTicker.Stop()

	for {
		select {
		case <-rt.closed:
			for id, link := range rt.links {
				_ = link.Close()
				delete(rt.links, id)
			}
			return

		case msg := <-rt.control:
			rt.handleControl(msg)
			close(msg.done)

		case item := <-rt.ring:
			rt.handleOutbound(item)

		case frame := <-rt.incoming:
			rt.handleIncoming(frame)

		case now := <-reassemblyTicker.C:
			rt.releaseReassembly(now)

		case now := <-ticker.C:
			rt.tick(now)
		}
	}
}

func (rt *Runtime) releaseReassembly(now time.Time) {
	out := rt.reassembly.Release(now)
	if len(out) == 0 {
		return
	}
	rt.deliveredMu.Lock()
	rt.delivered = append(rt.delivered, out...)
	rt.deliveredMu.Unlock()
}

func (rt *Runtime) handleControl(msg controlMsg) {
	switch msg.kind {
	case controlAddLink:
		rt.links[msg.link.ID()] = msg.link
		rt.scheduler.AddLink(msg.link)
	case controlRemoveLink:
		if link, ok := rt.links[msg.linkID]; ok {
			rt.scheduler.RemoveLink(msg.linkID)
			delete(rt.links, msg.linkID)
			_ = link.Close()
		}
	case controlApplyConfig:
		if msg.apply.FailoverWindow > 0 {
			rt.scheduler.cfg.FailoverWindow = msg.apply.FailoverWindow
		}
	}
}

func (rt *Runtime) handleOutbound(item outboundItem) {
	now := time.Now()
	if err := rt.sender.Send(now, item.payload, item.priority); err != nil {
		rt.logger.Warnf("strata: sender.Send: %s", err.Error())
	}
	rt.flushSenderQueue(item.priority)
}

func (rt *Runtime) flushSenderQueue(priority Priority) {
	for _, qp := range rt.sender.DrainQueue() {
		profile := PacketProfile{
			IsCritical: priority >= PriorityCritical,
			CanDrop:    priority == PriorityDroppable && !qp.IsRetransmit,
			SizeBytes:  len(qp.Bytes),
		}
		if _, err := rt.scheduler.Send(time.Now(), qp.Bytes, profile); err != nil {
			rt.logger.Debugf("strata: scheduler.Send: %s", err.Error())
		}
	}
}

func (rt *Runtime) handleIncoming(frame IncomingFrame) {
	result := rt.receiver.Receive(frame.RecvAt, frame.Payload)
	if !result.Decoded {
		return
	}
	for _, dp := range result.Delivered {
		rt.reassembly.Push(dp)
	}
	if result.OtherControl != nil {
		rt.dispatchControl(frame.LinkID, *result.OtherControl)
	}
}

func (rt *Runtime) dispatchControl(linkID uint32, body ControlBody) {
	switch body.Tag {
	case ControlAck:
		rt.sender.ProcessAck(body.Ack)
	case ControlNack:
		rt.sender.ProcessNack(body.Nack)
	case ControlReceiverReport:
		if link, ok := rt.links[linkID]; ok {
			link.ObserveReceiverReport(body.ReceiverReport)
		}
	case ControlSession:
		if reply, ok := rt.session.OnSessionPacket(body.Session); ok {
			rt.sendControlPacket(ControlBody{Tag: ControlSession, Session: reply}, true)
		}
	}
}

// sendControlPacket encodes and schedules a locally-originated control
// packet, e.g. a session reply or a periodic ACK/NACK/report.
func (rt *Runtime) sendControlPacket(body ControlBody, critical bool) {
	pkt := Packet{Header: Header{PacketType: PacketTypeControl}, Payload: EncodeControlBody(&body)}
	raw := EncodePacket(&pkt)
	profile := PacketProfile{IsCritical: critical, CanDrop: !critical, SizeBytes: len(raw)}
	if _, err := rt.scheduler.Send(time.Now(), raw, profile); err != nil {
		rt.logger.Debugf("strata: sendControlPacket: %s", err.Error())
	}
}

func (rt *Runtime) tick(now time.Time) {
	rt.scheduler.RefreshMetrics(now)
	rt.sender.ExpireOldPackets(now)
	rt.receiver.CleanupStale(now)

	ack := rt.receiver.GenerateAck()
	rt.sendControlPacket(ControlBody{Tag: ControlAck, Ack: ack}, false)

	if nacks := rt.receiver.GenerateNacks(now); len(nacks) > 0 {
		rt.sendControlPacket(ControlBody{Tag: ControlNack, Nack: NackPacket{Ranges: nacks}}, false)
	}

	report := rt.receiver.GenerateReport(ReceiverReportStats{})
	rt.sendControlPacket(ControlBody{Tag: ControlReceiverReport, ReceiverReport: report}, false)

	rt.publishMetrics()
}

func (rt *Runtime) publishMetrics() {
	snap := RuntimeMetrics{PoolLen: rt.sender.PoolLen(), Duplicates: rt.receiver.Duplicates(), Reassembly: rt.reassembly.Stats()}
	for _, link := range rt.links {
		m := link.Metrics()
		snap.Links = append(snap.Links, m)
		if m.Alive {
			snap.AliveLinks++
			snap.AggregateBps += m.CapacityBps
		}
	}
	rt.metricsMu.Lock()
	rt.metrics = snap
	rt.metricsMu.Unlock()

	rt.hub.PublishStats(snap, snap.AggregateBps, time.Now().UnixNano(), time.Now().Unix())
}
