package strata

//
// Modem supervisor: per-link Kalman-smoothed health scoring feeding
// degradation/recovery/handover-warning/capacity-change events.
//

// kalman1D is a scalar Kalman filter: state estimate plus its
// variance, with fixed process and measurement noise. Used to smooth
// every raw RF/transport reading the supervisor tracks.
type kalman1D struct {
	estimate float64
	variance float64
	q        float64 // process noise
	r        float64 // measurement noise
	have     bool
}

func newKalman1D(q, r float64) kalman1D {
	return kalman1D{q: q, r: r, variance: 1}
}

func (k *kalman1D) update(measurement float64) float64 {
	if !k.have {
		k.estimate = measurement
		k.variance = k.r
		k.have = true
		return k.estimate
	}
	predVariance := k.variance + k.q
	gain := predVariance / (predVariance + k.r)
	k.estimate += gain * (measurement - k.estimate)
	k.variance = (1 - gain) * predVariance
	return k.estimate
}

// linkHealth smooths one link's RF and transport metrics and derives a
// composite score and a short-horizon SINR prediction.
type linkHealth struct {
	sinr kalman1D
	rsrp kalman1D
	rsrq kalman1D
	loss kalman1D
	rtt  kalman1D
	jit  kalman1D

	sinrHistory []float64 // recent smoothed SINR values, for slope/prediction
	haveRF      bool
	haveTp      bool
}

const sinrHistoryWindow = 8

func newLinkHealth() *linkHealth {
	return &linkHealth{
		sinr: newKalman1D(0.3, 4.0),
		rsrp: newKalman1D(0.3, 9.0),
		rsrq: newKalman1D(0.2, 2.0),
		loss: newKalman1D(0.01, 0.02),
		rtt:  newKalman1D(2.0, 25.0),
		jit:  newKalman1D(1.0, 16.0),
	}
}

func (h *linkHealth) updateRF(rf RFMetrics) {
	h.sinr.update(rf.SinrDb)
	h.rsrp.update(rf.RsrpDbm)
	h.rsrq.update(rf.RsrqDb)
	h.haveRF = true

	h.sinrHistory = append(h.sinrHistory, h.sinr.estimate)
	if len(h.sinrHistory) > sinrHistoryWindow {
		h.sinrHistory = h.sinrHistory[len(h.sinrHistory)-sinrHistoryWindow:]
	}
}

func (h *linkHealth) updateTransport(tm HealthTransportMetrics) {
	h.loss.update(tm.LossRate)
	h.rtt.update(tm.RttMs)
	h.jit.update(tm.JitterMs)
	h.haveTp = true
}

// score composites the smoothed metrics into [0,100]. Each term is
// normalised against a generous operating range and clamped before
// weighting, so a single bad metric cannot swing the score past its
// weight's contribution.
func (h *linkHealth) score() float64 {
	if !h.haveRF && !h.haveTp {
		return 100
	}
	rfScore := 100.0
	if h.haveRF {
		sinrNorm := clampF64((h.sinr.estimate+10)/30*100, 0, 100)
		rsrqNorm := clampF64((h.rsrq.estimate+20)/14*100, 0, 100)
		rfScore = 0.7*sinrNorm + 0.3*rsrqNorm
	}
	tpScore := 100.0
	if h.haveTp {
		lossNorm := clampF64(100-h.loss.estimate*300, 0, 100)
		rttNorm := clampF64(100-h.rtt.estimate/3, 0, 100)
		jitNorm := clampF64(100-h.jit.estimate*2, 0, 100)
		tpScore = 0.5*lossNorm + 0.3*rttNorm + 0.2*jitNorm
	}
	if !h.haveRF {
		return tpScore
	}
	if !h.haveTp {
		return rfScore
	}
	return 0.6*rfScore + 0.4*tpScore
}

// isSinrDegrading reports whether the smoothed SINR trend is falling.
func (h *linkHealth) isSinrDegrading() bool {
	n := len(h.sinrHistory)
	if n < 2 {
		return false
	}
	return h.sinrHistory[n-1] < h.sinrHistory[0]
}

// predictedSinr linearly extrapolates the recent SINR slope horizonSteps ahead.
func (h *linkHealth) predictedSinr(horizonSteps int) float64 {
	n := len(h.sinrHistory)
	if n < 2 {
		if n == 1 {
			return h.sinrHistory[0]
		}
		return h.sinr.estimate
	}
	slope := (h.sinrHistory[n-1] - h.sinrHistory[0]) / float64(n-1)
	return h.sinrHistory[n-1] + slope*float64(horizonSteps)
}

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	DegradedThreshold     float64
	RecoveryThreshold     float64
	HandoverSinrThreshold float64
	CapacityChangeRatio   float64
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.DegradedThreshold == 0 {
		c.DegradedThreshold = 40
	}
	if c.RecoveryThreshold == 0 {
		c.RecoveryThreshold = 55
	}
	if c.HandoverSinrThreshold == 0 {
		c.HandoverSinrThreshold = 3
	}
	if c.CapacityChangeRatio == 0 {
		c.CapacityChangeRatio = 0.15
	}
	return c
}

// SupervisorEventKind identifies a [SupervisorEvent] variant.
type SupervisorEventKind uint8

const (
	EventLinkDegraded SupervisorEventKind = iota
	EventLinkRecovered
	EventHandoverWarning
	EventCapacityChanged
)

// SupervisorEvent is an adaptation signal emitted by the [Supervisor].
type SupervisorEvent struct {
	Kind            SupervisorEventKind
	LinkID          uint32
	Score           float64
	PredictedSinr   float64
	TotalCapacity   float64
	AliveLinks      int
}

type supervisorLinkState struct {
	health   *linkHealth
	degraded bool
	lastRF   RFMetrics
	haveRF   bool
}

// Supervisor is the modem intelligence daemon: it collates RF and
// transport telemetry per link, runs each link's Kalman-smoothed
// health estimator, and surfaces actionable events.
type Supervisor struct {
	cfg                  SupervisorConfig
	links                map[uint32]*supervisorLinkState
	prevTotalCapacity    float64
}

// NewSupervisor creates a [Supervisor] applying cfg's defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		cfg:   cfg.withDefaults(),
		links: make(map[uint32]*supervisorLinkState),
	}
}

// RegisterLink begins tracking a link.
func (s *Supervisor) RegisterLink(id uint32) {
	s.linkState(id)
}

// RemoveLink stops tracking a link.
func (s *Supervisor) RemoveLink(id uint32) {
	delete(s.links, id)
}

func (s *Supervisor) linkState(id uint32) *supervisorLinkState {
	st, ok := s.links[id]
	if !ok {
		st = &supervisorLinkState{health: newLinkHealth()}
		s.links[id] = st
	}
	return st
}

// UpdateRF feeds a radio measurement for id, returning any triggered events.
func (s *Supervisor) UpdateRF(id uint32, rf RFMetrics) []SupervisorEvent {
	st := s.linkState(id)
	st.health.updateRF(rf)
	st.lastRF = rf
	st.haveRF = true

	var events []SupervisorEvent
	s.checkLinkStatus(id, &events)
	s.checkHandover(id, &events)
	s.checkCapacity(&events)
	return events
}

// UpdateTransport feeds a transport-quality measurement for id.
func (s *Supervisor) UpdateTransport(id uint32, tm HealthTransportMetrics) []SupervisorEvent {
	st := s.linkState(id)
	st.health.updateTransport(tm)

	var events []SupervisorEvent
	s.checkLinkStatus(id, &events)
	s.checkCapacity(&events)
	return events
}

// LinkScore returns the current composite score, ok=false if unknown.
func (s *Supervisor) LinkScore(id uint32) (float64, bool) {
	st, ok := s.links[id]
	if !ok {
		return 0, false
	}
	return st.health.score(), true
}

// IsDegraded reports whether id is currently marked degraded.
func (s *Supervisor) IsDegraded(id uint32) bool {
	st, ok := s.links[id]
	return ok && st.degraded
}

// LinkCapacityKbps estimates id's throughput ceiling from its last RF
// reading: the more conservative of the SINR-derived and CQI-derived estimates.
func (s *Supervisor) LinkCapacityKbps(id uint32) float64 {
	st, ok := s.links[id]
	if !ok || !st.haveRF {
		return 0
	}
	return minF64(sinrToCapacityKbps(st.lastRF.SinrDb), cqiToThroughputKbps(st.lastRF.Cqi))
}

// TotalCapacityKbps sums [Supervisor.LinkCapacityKbps] over every tracked link.
func (s *Supervisor) TotalCapacityKbps() float64 {
	var total float64
	for id := range s.links {
		total += s.LinkCapacityKbps(id)
	}
	return total
}

func (s *Supervisor) checkLinkStatus(id uint32, events *[]SupervisorEvent) {
	st, ok := s.links[id]
	if !ok {
		return
	}
	score := st.health.score()
	if st.degraded {
		if score > s.cfg.RecoveryThreshold {
			st.degraded = false
			*events = append(*events, SupervisorEvent{Kind: EventLinkRecovered, LinkID: id, Score: score})
		}
	} else if score < s.cfg.DegradedThreshold {
		st.degraded = true
		*events = append(*events, SupervisorEvent{Kind: EventLinkDegraded, LinkID: id, Score: score})
	}
}

func (s *Supervisor) checkHandover(id uint32, events *[]SupervisorEvent) {
	st, ok := s.links[id]
	if !ok {
		return
	}
	if !st.health.isSinrDegrading() {
		return
	}
	predicted := st.health.predictedSinr(5)
	if predicted < s.cfg.HandoverSinrThreshold {
		*events = append(*events, SupervisorEvent{Kind: EventHandoverWarning, LinkID: id, PredictedSinr: predicted})
	}
}

func (s *Supervisor) checkCapacity(events *[]SupervisorEvent) {
	total := s.TotalCapacityKbps()
	alive := 0
	for _, st := range s.links {
		if !st.degraded {
			alive++
		}
	}
	if s.prevTotalCapacity > 0 {
		ratio := (total - s.prevTotalCapacity) / s.prevTotalCapacity
		if ratio < 0 {
			ratio = -ratio
		}
		if ratio >= s.cfg.CapacityChangeRatio {
			*events = append(*events, SupervisorEvent{Kind: EventCapacityChanged, TotalCapacity: total, AliveLinks: alive})
		}
	}
	s.prevTotalCapacity = total
}
