package strata

//
// Bitrate adapter: translates aggregate bonded capacity into an
// encoder target, with hysteresis against flapping and a degradation
// stage the media pipeline can use to drop non-essential layers first.
//

import "time"

// AdaptationReason explains why a [BitrateCommand] was issued.
type AdaptationReason uint8

const (
	ReasonCapacity AdaptationReason = iota
	ReasonCongestion
	ReasonLinkFailure
	ReasonRecovery
)

// DegradationStage is the media pipeline's current quality tier,
// driven by how much headroom the bonded capacity has over the
// current encoder target.
type DegradationStage uint8

const (
	StageNormal DegradationStage = iota
	StageReduced
	StageMinimal
	StageEmergencyOnly
)

// degradationStageFromPressure maps a capacity ratio (usable capacity
// divided by target bitrate) onto a stage: plenty of headroom stays
// Normal, a tight margin trims to Reduced/Minimal, and a ratio below 1
// means the link can't sustain the current target at all.
func degradationStageFromPressure(capacityRatio float64) DegradationStage {
	switch {
	case capacityRatio >= 1.0:
		return StageNormal
	case capacityRatio >= 0.7:
		return StageReduced
	case capacityRatio >= 0.4:
		return StageMinimal
	default:
		return StageEmergencyOnly
	}
}

// LinkCapacity is one link's contribution to the aggregate bitrate
// budget, as seen by the [BitrateAdapter].
type LinkCapacity struct {
	LinkID       uint32
	CapacityKbps float64
	Alive        bool
	LossRate     float64
	RttMs        float64
}

// BitrateCommand is the adapter's output: a new encoder target.
type BitrateCommand struct {
	TargetKbps float64
	Reason     AdaptationReason
	Stage      DegradationStage
}

// AdaptationConfig configures a [BitrateAdapter].
type AdaptationConfig struct {
	MinBitrateKbps    float64
	MaxBitrateKbps    float64
	Headroom          float64
	RampUpKbpsPerStep float64
	RampDownFactor    float64
	MinInterval       time.Duration
	PressureThreshold float64
}

func (c AdaptationConfig) withDefaults() AdaptationConfig {
	if c.MinBitrateKbps == 0 {
		c.MinBitrateKbps = 500
	}
	if c.MaxBitrateKbps == 0 {
		c.MaxBitrateKbps = 20_000
	}
	if c.Headroom == 0 {
		c.Headroom = 0.15
	}
	if c.RampUpKbpsPerStep == 0 {
		c.RampUpKbpsPerStep = 200
	}
	if c.RampDownFactor == 0 {
		c.RampDownFactor = 0.7
	}
	if c.MinInterval == 0 {
		c.MinInterval = 200 * time.Millisecond
	}
	if c.PressureThreshold == 0 {
		c.PressureThreshold = 0.9
	}
	return c
}

// BitrateAdapter tracks the aggregate bonded capacity and decides when
// to step the encoder's target bitrate up or down.
type BitrateAdapter struct {
	cfg AdaptationConfig

	currentTargetKbps float64
	stage             DegradationStage

	haveLastCommand bool
	lastCommandTime time.Time

	prevCapacityKbps    float64
	consecutiveIncrease int
	consecutiveDecrease int
}

// NewBitrateAdapter creates a [BitrateAdapter] starting at cfg's
// maximum bitrate, applying cfg's defaults.
func NewBitrateAdapter(cfg AdaptationConfig) *BitrateAdapter {
	cfg = cfg.withDefaults()
	return &BitrateAdapter{
		cfg:               cfg,
		currentTargetKbps: cfg.MaxBitrateKbps,
		stage:             StageNormal,
	}
}

// CurrentTargetKbps returns the adapter's current encoder target.
func (a *BitrateAdapter) CurrentTargetKbps() float64 { return a.currentTargetKbps }

// Stage returns the adapter's current [DegradationStage].
func (a *BitrateAdapter) Stage() DegradationStage { return a.stage }

// Update feeds the current per-link capacity snapshot and returns a
// [BitrateCommand] if the target should change, applying the min
// interval and minimum step-size hysteresis.
func (a *BitrateAdapter) Update(now time.Time, links []LinkCapacity) (BitrateCommand, bool) {
	var aggregate float64
	aliveCount := 0
	for _, l := range links {
		if !l.Alive {
			continue
		}
		aliveCount++
		aggregate += l.CapacityKbps * (1 - l.LossRate)
	}

	usable := aggregate * (1 - a.cfg.Headroom)

	var pressure float64
	switch {
	case aliveCount == 0:
		pressure = 5.0
	case usable == 0:
		pressure = 2.0
	default:
		pressure = a.currentTargetKbps / usable
	}

	var ratio float64
	if pressure > 0 {
		ratio = 1 / pressure
	}
	a.stage = degradationStageFromPressure(ratio)

	switch {
	case a.prevCapacityKbps > 0 && aggregate >= a.prevCapacityKbps*0.95:
		a.consecutiveIncrease++
		a.consecutiveDecrease = 0
	case a.prevCapacityKbps > 0 && aggregate < a.prevCapacityKbps*0.90:
		a.consecutiveDecrease++
		a.consecutiveIncrease = 0
	}
	a.prevCapacityKbps = aggregate

	newTarget, reason := a.computeTarget(usable, pressure, aliveCount)

	if !a.shouldEmit(now, newTarget) {
		return BitrateCommand{}, false
	}

	a.currentTargetKbps = newTarget
	a.haveLastCommand = true
	a.lastCommandTime = now

	return BitrateCommand{TargetKbps: newTarget, Reason: reason, Stage: a.stage}, true
}

func (a *BitrateAdapter) shouldEmit(now time.Time, newTarget float64) bool {
	delta := newTarget - a.currentTargetKbps
	if delta < 0 {
		delta = -delta
	}
	if delta <= a.cfg.RampUpKbpsPerStep/2 {
		return false
	}
	if a.haveLastCommand && now.Sub(a.lastCommandTime) < a.cfg.MinInterval {
		return false
	}
	return true
}

func (a *BitrateAdapter) computeTarget(usable, pressure float64, aliveCount int) (float64, AdaptationReason) {
	if aliveCount == 0 {
		return a.cfg.MinBitrateKbps, ReasonLinkFailure
	}
	if pressure > a.cfg.PressureThreshold {
		target := clampF64(a.currentTargetKbps*a.cfg.RampDownFactor, a.cfg.MinBitrateKbps, usable)
		reason := ReasonCapacity
		if a.consecutiveDecrease >= 3 {
			reason = ReasonCongestion
		}
		return target, reason
	}
	if pressure < 0.7 && a.consecutiveIncrease >= 3 {
		target := clampF64(a.currentTargetKbps+a.cfg.RampUpKbpsPerStep, a.cfg.MinBitrateKbps, minF64(a.cfg.MaxBitrateKbps, usable))
		return target, ReasonRecovery
	}
	return a.currentTargetKbps, ReasonCapacity
}

// ForceReduce immediately cuts the target by the ramp-down factor,
// bypassing the normal hysteresis. Used when a link dies abruptly
// between [BitrateAdapter.Update] calls.
func (a *BitrateAdapter) ForceReduce(reason AdaptationReason) BitrateCommand {
	a.currentTargetKbps = maxF64(a.currentTargetKbps*a.cfg.RampDownFactor, a.cfg.MinBitrateKbps)
	return BitrateCommand{TargetKbps: a.currentTargetKbps, Reason: reason, Stage: a.stage}
}

// Reset returns the adapter to its initial state: maximum bitrate,
// Normal stage, cleared trend counters.
func (a *BitrateAdapter) Reset() {
	a.currentTargetKbps = a.cfg.MaxBitrateKbps
	a.stage = StageNormal
	a.consecutiveIncrease = 0
	a.consecutiveDecrease = 0
	a.prevCapacityKbps = 0
	a.haveLastCommand = false
}
