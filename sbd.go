package strata

//
// Shared Bottleneck Detection (RFC 8382): per-link one-way-delay
// statistics summarised into skew/variability/oscillation/loss, then
// clustered to flag links that share a physical bottleneck so the
// scheduler's congestion response can be coupled across them.
//

import (
	"sort"

	"github.com/montanaflynn/stats"
)

const sbdHistoryCap = 16

// linkSbdState accumulates one base interval's worth of OWD samples
// and the rolling history of summarised per-interval statistics.
type linkSbdState struct {
	delaySamples []float64
	pktCount     uint64
	pktLost      uint64

	skewHistory []float64
	varHistory  []float64
	freqHistory []float64
	lossHistory []float64
}

func newLinkSbdState() *linkSbdState {
	return &linkSbdState{}
}

func (s *linkSbdState) recordDelay(delayMs float64) {
	s.delaySamples = append(s.delaySamples, delayMs)
	s.pktCount++
}

func (s *linkSbdState) recordLoss() {
	s.pktLost++
}

func pushBounded(hist []float64, v float64, max int) []float64 {
	hist = append(hist, v)
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	return hist
}

// SBDEngine implements RFC 8382-style shared bottleneck detection
// across the bonded links: per-link OWD statistics over base
// intervals, summarised over M intervals, then greedily clustered.
type SBDEngine struct {
	links map[uint32]*linkSbdState

	n   int // samples per base interval
	cS  float64
	cH  float64
	pL  float64
	m   int // base intervals summarised
}

// NewSBDEngine creates an [SBDEngine]. n is floored at 5 samples per
// base interval; m (intervals summarised) defaults to 3, matching the
// reference RFC 8382 implementation this is ported from.
func NewSBDEngine(n int, cS, cH, pL float64) *SBDEngine {
	if n < 5 {
		n = 5
	}
	return &SBDEngine{
		links: make(map[uint32]*linkSbdState),
		n:     n,
		cS:    cS,
		cH:    cH,
		pL:    pL,
		m:     3,
	}
}

// AddLink registers a link for SBD tracking.
func (e *SBDEngine) AddLink(linkID uint32) {
	if _, ok := e.links[linkID]; !ok {
		e.links[linkID] = newLinkSbdState()
	}
}

// RemoveLink stops tracking a link.
func (e *SBDEngine) RemoveLink(linkID uint32) {
	delete(e.links, linkID)
}

// RecordDelay records a one-way-delay sample (ms) for linkID.
func (e *SBDEngine) RecordDelay(linkID uint32, delayMs float64) {
	if st, ok := e.links[linkID]; ok {
		st.recordDelay(delayMs)
	}
}

// RecordLoss records a lost-packet event for linkID.
func (e *SBDEngine) RecordLoss(linkID uint32) {
	if st, ok := e.links[linkID]; ok {
		st.recordLoss()
	}
}

// ProcessInterval closes out the current base interval for every
// tracked link: computes skew_est/var_est/freq_est/loss_rate from the
// accumulated samples and appends them to each link's history. Called
// once per sbd_interval_ms.
func (e *SBDEngine) ProcessInterval() {
	for _, st := range e.links {
		if len(st.delaySamples) < 2 {
			st.skewHistory = pushBounded(st.skewHistory, 0, sbdHistoryCap)
			st.varHistory = pushBounded(st.varHistory, 0, sbdHistoryCap)
			st.freqHistory = pushBounded(st.freqHistory, 0, sbdHistoryCap)
			lossRate := 0.0
			if st.pktCount > 0 {
				lossRate = float64(st.pktLost) / float64(st.pktCount+st.pktLost)
			}
			st.lossHistory = pushBounded(st.lossHistory, lossRate, sbdHistoryCap)
			st.delaySamples = nil
			st.pktCount, st.pktLost = 0, 0
			continue
		}

		if len(st.delaySamples) > e.n {
			st.delaySamples = st.delaySamples[len(st.delaySamples)-e.n:]
		}

		samples := append([]float64(nil), st.delaySamples...)
		count := float64(len(samples))

		var sum float64
		for _, v := range samples {
			sum += v
		}
		mean := sum / count

		median, err := stats.Median(stats.Float64Data(samples))
		if err != nil {
			median = mean
		}
		skewEst := mean - median

		absDevs := make([]float64, len(samples))
		for i, v := range samples {
			d := v - median
			if d < 0 {
				d = -d
			}
			absDevs[i] = d
		}
		sort.Float64s(absDevs)
		var varEst float64
		if n := len(absDevs); n%2 == 0 {
			varEst = (absDevs[n/2-1] + absDevs[n/2]) / 2
		} else {
			varEst = absDevs[len(absDevs)/2]
		}

		var signChanges uint32
		prevSign := 0
		for _, v := range samples {
			sign := 0
			switch {
			case v > mean:
				sign = 1
			case v < mean:
				sign = -1
			}
			if sign != 0 && prevSign != 0 && sign != prevSign {
				signChanges++
			}
			if sign != 0 {
				prevSign = sign
			}
		}
		freqEst := float64(signChanges) / count

		totalPkts := st.pktCount + st.pktLost
		lossRate := 0.0
		if totalPkts > 0 {
			lossRate = float64(st.pktLost) / float64(totalPkts)
		}

		normSkew, normVar := 0.0, 0.0
		if absF64(mean) > 1e-9 {
			normSkew = skewEst / mean
			normVar = varEst / mean
		}

		st.skewHistory = pushBounded(st.skewHistory, normSkew, sbdHistoryCap)
		st.varHistory = pushBounded(st.varHistory, normVar, sbdHistoryCap)
		st.freqHistory = pushBounded(st.freqHistory, freqEst, sbdHistoryCap)
		st.lossHistory = pushBounded(st.lossHistory, lossRate, sbdHistoryCap)

		st.delaySamples = nil
		st.pktCount, st.pktLost = 0, 0
	}
}

func absF64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func tailAverage(hist []float64, m int) (float64, bool) {
	if len(hist) < m {
		return 0, false
	}
	tail := hist[len(hist)-m:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(m), true
}

// ComputeGroups runs the RFC 8382 §3 grouping algorithm: every link is
// assigned a group id, with 0 meaning no shared bottleneck was
// detected and any positive id shared by two or more links meaning
// they're believed to sit behind the same bottleneck.
func (e *SBDEngine) ComputeGroups() map[uint32]int {
	groups := make(map[uint32]int)

	type candidate struct {
		linkID   uint32
		avgSkew  float64
		avgVar   float64
	}
	var bottlenecked []candidate

	for linkID, st := range e.links {
		avgSkew, ok := tailAverage(st.skewHistory, e.m)
		if !ok {
			groups[linkID] = 0
			continue
		}
		avgVar, _ := tailAverage(st.varHistory, e.m)
		avgLoss, _ := tailAverage(st.lossHistory, e.m)

		isBottlenecked := avgSkew > e.cS && (avgVar > e.cH || avgLoss > e.pL)
		if isBottlenecked {
			bottlenecked = append(bottlenecked, candidate{linkID, avgSkew, avgVar})
		} else {
			groups[linkID] = 0
		}
	}

	nextGroup := 1
	tolerance := 2.0 * maxF64(absF64(e.cH), 0.05)

	for _, c := range bottlenecked {
		assigned := false
		for _, other := range bottlenecked {
			if other.linkID == c.linkID {
				continue
			}
			otherGroup, ok := groups[other.linkID]
			if !ok || otherGroup == 0 {
				continue
			}
			skewDiff := absF64(c.avgSkew - other.avgSkew)
			varDiff := absF64(c.avgVar - other.avgVar)
			if skewDiff < tolerance && varDiff < tolerance {
				groups[c.linkID] = otherGroup
				assigned = true
				break
			}
		}
		if !assigned {
			groups[c.linkID] = nextGroup
			nextGroup++
		}
	}

	return groups
}
