package strata

//
// Biscay: per-link congestion control. A BBR-style delivery-rate /
// min-RTT estimator augmented with cellular radio feed-forward and a
// three-state machine (Normal / Cautious / Pre-Handover).
//

import "time"

// BiscayState is the outer state of a [BiscayController].
type BiscayState uint8

const (
	BiscayNormal BiscayState = iota
	BiscayCautious
	BiscayPreHandover
)

// BBRPhase is the inner BBR sublayer's pacing phase.
type BBRPhase uint8

const (
	BBRSlowStart BBRPhase = iota
	BBRProbeBW
	BBRProbeRTT
)

const (
	biscayMTU          = 1500
	biscayPacingFloor  = 10 * 1000 // bytes/s, 10 kB/s
	btlBwWindow        = 10        // number of delivery-rate samples retained
	rtPropExpiry       = 10 * time.Second
	probeRTTPacingGain = 0.5 // open question (d): design keeps 0.5, not BBRv3's 0.75
)

// sinrTable is the documented, monotone non-decreasing SINR(dB)->kbps
// piecewise ceiling used by the radio feed-forward term.
var sinrTable = []struct {
	sinrDb float64
	kbps   float64
}{
	{-10, 100},
	{-5, 500},
	{0, 1500},
	{5, 5000},
	{10, 15000},
	{15, 30000},
	{20, 60000},
	{30, 150000},
}

// sinrToCapacityKbps maps a SINR reading to a capacity ceiling in kbps
// by linear interpolation over [sinrTable], clamped at the ends.
func sinrToCapacityKbps(sinrDb float64) float64 {
	t := sinrTable
	if sinrDb <= t[0].sinrDb {
		return t[0].kbps
	}
	if sinrDb >= t[len(t)-1].sinrDb {
		return t[len(t)-1].kbps
	}
	for i := 1; i < len(t); i++ {
		if sinrDb <= t[i].sinrDb {
			lo, hi := t[i-1], t[i]
			frac := (sinrDb - lo.sinrDb) / (hi.sinrDb - lo.sinrDb)
			return lo.kbps + frac*(hi.kbps-lo.kbps)
		}
	}
	return t[len(t)-1].kbps
}

// cqiToThroughputKbps maps a 3GPP CQI index (0..15) to an approximate
// throughput ceiling in kbps, monotone non-decreasing.
func cqiToThroughputKbps(cqi int) float64 {
	if cqi < 0 {
		cqi = 0
	}
	if cqi > 15 {
		cqi = 15
	}
	return float64(cqi) * float64(cqi) * 150 // quadratic ramp, 0 at cqi=0, 33750 at cqi=15
}

type deliverySample struct {
	rate float64 // bytes/s
	at   time.Time
}

// BiscayController is the per-link congestion controller: BBR-style
// pacing plus radio feed-forward and the Normal/Cautious/Pre-Handover
// state machine.
type BiscayController struct {
	state    BiscayState
	bbrPhase BBRPhase

	deliverySamples []deliverySample
	btlBw           float64 // bytes/s

	rtProp       time.Duration
	rtPropAt     time.Time
	haveRTProp   bool

	lastRF  RFMetrics
	haveRF  bool

	cqiDropStreak  int
	cqiStableStreak int
	rsrpSlopeGoodStreak int
	prevCqi        int
	haveCqi        bool

	rsrp        []float64 // recent readings, newest last
	pacingRate  float64   // bytes/s
	cwnd        int
}

// NewBiscayController creates a controller in BiscayNormal/BBRSlowStart.
func NewBiscayController() *BiscayController {
	return &BiscayController{
		state:      BiscayNormal,
		bbrPhase:   BBRSlowStart,
		pacingRate: biscayPacingFloor,
		cwnd:       2 * biscayMTU,
	}
}

// OnBandwidthSample feeds a delivery-rate sample (bytes delivered over interval).
func (bc *BiscayController) OnBandwidthSample(now time.Time, deliveredBytes int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	rate := float64(deliveredBytes) / interval.Seconds()
	bc.deliverySamples = append(bc.deliverySamples, deliverySample{rate: rate, at: now})
	if len(bc.deliverySamples) > btlBwWindow {
		bc.deliverySamples = bc.deliverySamples[len(bc.deliverySamples)-btlBwWindow:]
	}
	max := 0.0
	for _, s := range bc.deliverySamples {
		if s.rate > max {
			max = s.rate
		}
	}
	bc.btlBw = max

	if bc.bbrPhase == BBRSlowStart && rate > 0 {
		bc.bbrPhase = BBRProbeBW
	}
}

// OnRTTSample feeds a round-trip-time sample from the session RTT tracker.
func (bc *BiscayController) OnRTTSample(now time.Time, rtt time.Duration) {
	if !bc.haveRTProp || rtt < bc.rtProp {
		bc.rtProp = rtt
		bc.rtPropAt = now
		bc.haveRTProp = true
	}
	if bc.haveRTProp && now.Sub(bc.rtPropAt) > rtPropExpiry {
		bc.bbrPhase = BBRProbeRTT
		bc.rtProp = rtt
		bc.rtPropAt = now
	}

	// bufferbloat guard
	bloat := bc.haveRTProp && bc.rtProp > 0 && rtt > time.Duration(1.5*float64(bc.rtProp))
	bc.recomputePacing(bloat)
}

// OnRFMetrics feeds a cellular radio measurement and drives the state machine.
func (bc *BiscayController) OnRFMetrics(now time.Time, rf RFMetrics) {
	bc.updateCqiStreaks(rf.Cqi)
	bc.updateRsrpSlope(rf)
	bc.lastRF = rf
	bc.haveRF = true

	switch bc.state {
	case BiscayNormal:
		if bc.cqiDropStreak >= 3 {
			bc.state = BiscayCautious
		}
		if bc.rsrpSlope() < -2.5 && rf.RsrqDb < -12 {
			bc.state = BiscayPreHandover
		}
	case BiscayCautious:
		if bc.rsrpSlope() < -2.5 && rf.RsrqDb < -12 {
			bc.state = BiscayPreHandover
		} else if bc.cqiStableStreak >= 3 {
			bc.state = BiscayNormal
		}
	case BiscayPreHandover:
		if bc.rsrpSlopeGoodStreak >= 3 {
			bc.state = BiscayNormal
			bc.resetBBR()
		}
	}

	bc.recomputePacing(false)
}

func (bc *BiscayController) updateCqiStreaks(cqi int) {
	if !bc.haveCqi {
		bc.prevCqi = cqi
		bc.haveCqi = true
		return
	}
	if cqi < bc.prevCqi {
		bc.cqiDropStreak++
		bc.cqiStableStreak = 0
	} else {
		bc.cqiDropStreak = 0
		bc.cqiStableStreak++
	}
	bc.prevCqi = cqi
}

// rsrpSlopeWindow is the number of recent RSRP samples kept for slope estimation.
const rsrpSlopeWindow = 5

func (bc *BiscayController) updateRsrpSlope(rf RFMetrics) {
	bc.rsrp = append(bc.rsrp, rf.RsrpDbm)
	if len(bc.rsrp) > rsrpSlopeWindow {
		bc.rsrp = bc.rsrp[len(bc.rsrp)-rsrpSlopeWindow:]
	}
	slope := bc.rsrpSlope()
	if slope > -1 {
		bc.rsrpSlopeGoodStreak++
	} else {
		bc.rsrpSlopeGoodStreak = 0
	}
}

// rsrpSlope estimates dB/s assuming one reading per second (the
// supervisor's refresh cadence); with fewer than 2 samples it is 0.
func (bc *BiscayController) rsrpSlope() float64 {
	n := len(bc.rsrp)
	if n < 2 {
		return 0
	}
	return bc.rsrp[n-1] - bc.rsrp[n-2]
}

func (bc *BiscayController) resetBBR() {
	bc.bbrPhase = BBRSlowStart
	bc.deliverySamples = nil
	bc.btlBw = 0
	bc.haveRTProp = false
}

// recomputePacing derives pacing_rate and cwnd from the current BBR
// estimate, radio ceiling, and state factor.
func (bc *BiscayController) recomputePacing(bloat bool) {
	bbrRate := bc.btlBw
	switch bc.bbrPhase {
	case BBRSlowStart:
		if bbrRate == 0 {
			bbrRate = biscayPacingFloor * 2
		} else {
			bbrRate *= 2
		}
	case BBRProbeRTT:
		bbrRate *= probeRTTPacingGain
	}

	stateFactor := 1.0
	switch bc.state {
	case BiscayCautious:
		stateFactor = 0.7
	case BiscayPreHandover:
		stateFactor = 0.1
	}

	sinrCeilingBps := bbrRate // no ceiling if we have no RF reading yet
	if bc.haveRF {
		sinrCeilingBps = sinrToCapacityKbps(bc.lastRF.SinrDb) * 1000 / 8
	}

	rate := bbrRate * stateFactor
	if bc.haveRF {
		rate = minF64(rate, sinrCeilingBps)
	}
	if bloat {
		rate *= 0.9
	}
	if rate < biscayPacingFloor {
		rate = biscayPacingFloor
	}
	bc.pacingRate = rate

	cwndBytes := int(bc.btlBw * bc.rtProp.Seconds())
	if cwndBytes < 2*biscayMTU {
		cwndBytes = 2 * biscayMTU
	}
	bc.cwnd = cwndBytes
}

// PacingRate returns the current pacing rate in bytes/s.
func (bc *BiscayController) PacingRate() float64 { return bc.pacingRate }

// BtlBw returns the windowed max delivery rate in bytes/s.
func (bc *BiscayController) BtlBw() float64 { return bc.btlBw }

// RTPropUs returns the current min-RTT estimate in microseconds.
func (bc *BiscayController) RTPropUs() int64 { return bc.rtProp.Microseconds() }

// Cwnd returns the current congestion window in bytes.
func (bc *BiscayController) Cwnd() int { return bc.cwnd }

// State returns the outer state.
func (bc *BiscayController) State() BiscayState { return bc.state }

// Phase returns the inner BBR phase.
func (bc *BiscayController) Phase() BBRPhase { return bc.bbrPhase }

// CanEnqueue reports whether new traffic should be admitted; false in Pre-Handover.
func (bc *BiscayController) CanEnqueue() bool {
	return bc.state != BiscayPreHandover
}

// BytesToSend returns how many bytes the pacing rate permits sending
// over an interval of intervalUs microseconds.
func (bc *BiscayController) BytesToSend(intervalUs int64) int {
	return int(bc.pacingRate * float64(intervalUs) / 1e6)
}
