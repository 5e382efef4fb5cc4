package strata

//
// DWRR multi-link scheduler: quality-weighted credit scheduling,
// predictive scoring, broadcast, duplication, and fast-failover.
//

import (
	"sort"
	"time"
)

// SchedulerLink is the capability the scheduler needs from a link. Any
// link implementation satisfying this interface (or a tagged variant
// wrapping one) can be scheduled; [TransportLink] is the production
// implementation.
type SchedulerLink interface {
	ID() uint32
	SendBytes(payload []byte) (int, error)
	Metrics() LinkMetrics
}

var burstWindowBase = map[LinkPhase]float64{
	PhaseProbe:    0.02,
	PhaseWarm:     0.05,
	PhaseLive:     0.1,
	PhaseDegrade:  0.04,
	PhaseCooldown: 0.01,
	PhaseReset:    0.01,
	PhaseInit:     0.01,
}

var phaseWeight = map[LinkPhase]float64{
	PhaseProbe:    0.2,
	PhaseWarm:     0.6,
	PhaseLive:     1.0,
	PhaseDegrade:  0.7,
	PhaseCooldown: 0.1,
	PhaseReset:    0.1,
	PhaseInit:     0.1,
}

type linkSchedState struct {
	link SchedulerLink

	credits    float64
	lastUpdate time.Time

	metrics LinkMetrics

	prevCapacity, prevRtt, prevLoss          float64
	bwSlope, rttSlope, lossSlope             float64
	penaltyFactor                            float64
	havePrev                                 bool
	prevPhase                                LinkPhase
}

// SchedulerConfig configures a [Scheduler].
type SchedulerConfig struct {
	FailoverWindow time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.FailoverWindow == 0 {
		c.FailoverWindow = 3 * time.Second
	}
	return c
}

// Scheduler implements the DWRR+quality-credit link selection policy.
// It is driven by a single worker ([Runtime]); it is not safe for
// concurrent use.
type Scheduler struct {
	cfg SchedulerConfig

	links  map[uint32]*linkSchedState
	order  []uint32 // sorted link ids, rebuilt on AddLink/RemoveLink
	cursor int

	bondingSeq uint64

	failoverUntil time.Time
}

// NewScheduler creates an empty [Scheduler].
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg:   cfg.withDefaults(),
		links: make(map[uint32]*linkSchedState),
	}
}

// AddLink registers a link with the scheduler.
func (s *Scheduler) AddLink(link SchedulerLink) {
	s.links[link.ID()] = &linkSchedState{link: link, penaltyFactor: 1.0}
	s.rebuildOrder()
}

// RemoveLink unregisters a link. It is a no-op for an unknown id.
func (s *Scheduler) RemoveLink(id uint32) {
	delete(s.links, id)
	s.rebuildOrder()
}

func (s *Scheduler) rebuildOrder() {
	s.order = s.order[:0]
	for id := range s.links {
		s.order = append(s.order, id)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	if s.cursor >= len(s.order) {
		s.cursor = 0
	}
}

// RefreshMetrics pulls fresh [LinkMetrics] from every link, updates
// penalty factors and slopes, and evaluates the fast-failover trigger.
func (s *Scheduler) RefreshMetrics(now time.Time) {
	for _, st := range s.links {
		m := st.link.Metrics()
		dt := 1.0
		if !st.lastUpdate.IsZero() {
			dt = now.Sub(st.lastUpdate).Seconds()
			if dt <= 0 {
				dt = 1e-3
			}
		}

		if st.havePrev {
			if m.CapacityBps < st.prevCapacity*0.5 {
				st.penaltyFactor = maxF64(st.penaltyFactor*0.7, 0.3)
			} else {
				st.penaltyFactor = minF64(st.penaltyFactor+0.05, 1.0)
			}
			st.bwSlope = (m.CapacityBps - st.prevCapacity) / dt
			st.rttSlope = (m.RttMs - st.prevRtt) / dt
			st.lossSlope = (m.LossRate - st.prevLoss) / dt

			if s.isFailoverTrigger(st, m) {
				s.failoverUntil = now.Add(s.cfg.FailoverWindow)
			}
		} else {
			st.penaltyFactor = 1.0
		}

		st.prevCapacity, st.prevRtt, st.prevLoss = m.CapacityBps, m.RttMs, m.LossRate
		st.prevPhase = m.Phase
		st.metrics = m
		st.havePrev = true
		st.lastUpdate = now

		s.accrueCredits(st, now, dt)
	}
}

func (s *Scheduler) isFailoverTrigger(st *linkSchedState, m LinkMetrics) bool {
	if st.prevPhase == PhaseLive && m.Phase == PhaseDegrade {
		return true
	}
	if m.Phase == PhaseCooldown || m.Phase == PhaseReset {
		return true
	}
	if st.prevRtt > 0 && m.RttMs > 3*st.prevRtt {
		return true
	}
	return false
}

// effectiveCapacity computes the predicted effective bandwidth per
// spec §4.9's formula.
func (s *Scheduler) effectiveCapacity(st *linkSchedState) (effectiveBps float64) {
	m := st.metrics
	predictedBw := maxF64(m.CapacityBps+st.bwSlope*0.5, 0)
	predictedRtt := maxF64(m.RttMs+st.rttSlope*0.5, 0)
	predictedLoss := clampF64(m.LossRate+st.lossSlope*0.5, 0, 1)

	quality := (1 - predictedLoss)
	quality = quality * quality * quality * quality
	rttScale := 1 / (1 + predictedRtt/200)
	phase := phaseWeight[m.Phase]
	osUp := 1.0
	if m.OsUp != nil && !*m.OsUp {
		osUp = 0.2
	}
	return predictedBw * quality * st.penaltyFactor * phase * osUp * rttScale
}

func (s *Scheduler) accrueCredits(st *linkSchedState, now time.Time, dt float64) {
	effectiveBps := s.effectiveCapacity(st)
	bytesPerS := effectiveBps / 8
	st.credits += bytesPerS * dt

	base := burstWindowBase[st.metrics.Phase]
	burstWindowS := clampF64(base*(1-st.metrics.LossRate), 0.01, 0.1)
	cap := bytesPerS * burstWindowS
	if st.credits > cap {
		st.credits = cap
	}
}

func (s *Scheduler) inFailover(now time.Time) bool {
	return now.Before(s.failoverUntil)
}

// Send selects link(s) for payload according to profile and writes to
// them, returning the number of links written.
func (s *Scheduler) Send(now time.Time, payload []byte, profile PacketProfile) (int, error) {
	if profile.IsCritical || (s.inFailover(now) && !profile.CanDrop) {
		return s.broadcast(payload)
	}

	if s.wantsDuplication(profile) {
		if n := s.duplicate(payload); n > 0 {
			return n, nil
		}
	}

	return s.standardSend(payload, profile)
}

func (s *Scheduler) broadcast(payload []byte) (int, error) {
	seq := s.bondingSeq
	s.bondingSeq++
	wrapped := WrapBonding(seq, payload)

	sent := 0
	for _, id := range s.order {
		st := s.links[id]
		if !st.metrics.Alive {
			continue
		}
		if n, err := st.link.SendBytes(wrapped); err == nil && n > 0 {
			st.credits -= float64(len(wrapped))
			sent++
		}
	}
	if sent == 0 {
		return 0, ErrNoActiveLinks
	}
	return sent, nil
}

func (s *Scheduler) wantsDuplication(profile PacketProfile) bool {
	if profile.CanDrop || profile.SizeBytes >= 10*1024 {
		return false
	}
	return s.spareCapacityRatio() >= 0.5
}

// spareCapacityRatio is the fraction of aggregate effective capacity
// not currently claimed by credit debt, a coarse proxy for headroom.
func (s *Scheduler) spareCapacityRatio() float64 {
	var total, spare float64
	for _, id := range s.order {
		st := s.links[id]
		if !st.metrics.Alive {
			continue
		}
		eff := s.effectiveCapacity(st)
		total += eff
		if st.credits > 0 {
			spare += eff
		}
	}
	if total == 0 {
		return 0
	}
	return spare / total
}

func (s *Scheduler) duplicate(payload []byte) int {
	type scored struct {
		st    *linkSchedState
		score float64
	}
	var candidates []scored
	for _, id := range s.order {
		st := s.links[id]
		if !st.metrics.Alive {
			continue
		}
		candidates = append(candidates, scored{st: st, score: s.effectiveCapacity(st)})
	}
	if len(candidates) < 2 {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	seq := s.bondingSeq
	s.bondingSeq++
	wrapped := WrapBonding(seq, payload)

	sent := 0
	for _, c := range candidates[:2] {
		if n, err := c.st.link.SendBytes(wrapped); err == nil && n > 0 {
			c.st.credits -= float64(len(wrapped))
			sent++
		}
	}
	return sent
}

func (s *Scheduler) standardSend(payload []byte, profile PacketProfile) (int, error) {
	seq := s.bondingSeq
	s.bondingSeq++
	wrapped := WrapBonding(seq, payload)
	size := float64(len(wrapped))

	n := len(s.order)
	if n == 0 {
		return 0, ErrNoActiveLinks
	}

	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		st := s.links[s.order[idx]]
		if !st.metrics.Alive {
			continue
		}
		if st.credits >= size {
			if sent, err := st.link.SendBytes(wrapped); err == nil && sent > 0 {
				st.credits -= size
				s.cursor = (idx + 1) % n
				return 1, nil
			}
		}
	}

	// fallback: alive link with the greatest current credit, may go negative
	var best *linkSchedState
	for _, id := range s.order {
		st := s.links[id]
		if !st.metrics.Alive {
			continue
		}
		if best == nil || st.credits > best.credits {
			best = st
		}
	}
	if best == nil {
		return 0, ErrNoActiveLinks
	}
	if sent, err := best.link.SendBytes(wrapped); err == nil && sent > 0 {
		best.credits -= size
		return 1, nil
	}
	return 0, ErrNoActiveLinks
}

// AliveLinkCount returns how many registered links are currently alive.
func (s *Scheduler) AliveLinkCount() int {
	n := 0
	for _, st := range s.links {
		if st.metrics.Alive {
			n++
		}
	}
	return n
}

// TotalEffectiveCapacity sums effective capacity across alive links.
func (s *Scheduler) TotalEffectiveCapacity() float64 {
	var total float64
	for _, st := range s.links {
		if st.metrics.Alive {
			total += s.effectiveCapacity(st)
		}
	}
	return total
}
