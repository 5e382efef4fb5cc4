package strata

import (
	"testing"
	"time"
)

func TestSinrToCapacityKbpsInterpolatesAndClamps(t *testing.T) {
	if got := sinrToCapacityKbps(-100); got != 100 {
		t.Fatalf("expected clamp to lowest table entry (100), got %v", got)
	}
	if got := sinrToCapacityKbps(100); got != 150000 {
		t.Fatalf("expected clamp to highest table entry (150000), got %v", got)
	}
	// midpoint between (0, 1500) and (5, 5000)
	got := sinrToCapacityKbps(2.5)
	want := 1500.0 + 0.5*(5000-1500)
	if got != want {
		t.Fatalf("expected interpolated value %v, got %v", want, got)
	}
}

func TestCqiToThroughputKbpsMonotoneAndClamped(t *testing.T) {
	if got := cqiToThroughputKbps(-1); got != 0 {
		t.Fatalf("expected cqi below range to clamp to 0, got %v", got)
	}
	if got := cqiToThroughputKbps(20); got != cqiToThroughputKbps(15) {
		t.Fatalf("expected cqi above range to clamp to cqi=15's value")
	}
	prev := 0.0
	for cqi := 0; cqi <= 15; cqi++ {
		v := cqiToThroughputKbps(cqi)
		if v < prev {
			t.Fatalf("expected monotone non-decreasing throughput, cqi %d gave %v < prev %v", cqi, v, prev)
		}
		prev = v
	}
}

func TestBiscayControllerStartsNormalSlowStart(t *testing.T) {
	bc := NewBiscayController()
	if bc.State() != BiscayNormal {
		t.Fatalf("expected initial state BiscayNormal, got %v", bc.State())
	}
	if bc.Phase() != BBRSlowStart {
		t.Fatalf("expected initial phase BBRSlowStart, got %v", bc.Phase())
	}
	if !bc.CanEnqueue() {
		t.Fatal("expected CanEnqueue true outside Pre-Handover")
	}
}

func TestBiscayControllerBandwidthSampleExitsSlowStart(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)
	bc.OnBandwidthSample(now, 150_000, time.Second)

	if bc.Phase() != BBRProbeBW {
		t.Fatalf("expected a positive bandwidth sample to move to BBRProbeBW, got %v", bc.Phase())
	}
	if bc.BtlBw() != 150_000 {
		t.Fatalf("expected BtlBw to track the single sample, got %v", bc.BtlBw())
	}
}

func TestBiscayControllerBtlBwWindowKeepsMax(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)
	rates := []int{100_000, 300_000, 50_000}
	for i, r := range rates {
		bc.OnBandwidthSample(now.Add(time.Duration(i)*time.Second), r, time.Second)
	}
	if bc.BtlBw() != 300_000 {
		t.Fatalf("expected windowed max of 300000, got %v", bc.BtlBw())
	}
}

func TestBiscayControllerCqiDropStreakEntersCautious(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)

	bc.OnRFMetrics(now, RFMetrics{Cqi: 10, RsrpDbm: -80, RsrqDb: -8, SinrDb: 10})
	for i, cqi := range []int{9, 8, 7} {
		bc.OnRFMetrics(now.Add(time.Duration(i+1)*time.Second), RFMetrics{Cqi: cqi, RsrpDbm: -80, RsrqDb: -8, SinrDb: 10})
	}

	if bc.State() != BiscayCautious {
		t.Fatalf("expected 3 consecutive CQI drops to enter BiscayCautious, got %v", bc.State())
	}
}

func TestBiscayControllerSteepRsrpDropEntersPreHandover(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)

	bc.OnRFMetrics(now, RFMetrics{Cqi: 10, RsrpDbm: -70, RsrqDb: -8, SinrDb: 10})
	bc.OnRFMetrics(now.Add(time.Second), RFMetrics{Cqi: 10, RsrpDbm: -80, RsrqDb: -14, SinrDb: 10})

	if bc.State() != BiscayPreHandover {
		t.Fatalf("expected a steep RSRP slope with poor RSRQ to enter BiscayPreHandover, got %v", bc.State())
	}
	if bc.CanEnqueue() {
		t.Fatal("expected CanEnqueue false while in Pre-Handover")
	}
}

func TestBiscayControllerRecoversFromPreHandover(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)
	bc.OnRFMetrics(now, RFMetrics{Cqi: 10, RsrpDbm: -70, RsrqDb: -8, SinrDb: 10})
	bc.OnRFMetrics(now.Add(time.Second), RFMetrics{Cqi: 10, RsrpDbm: -80, RsrqDb: -14, SinrDb: 10})
	if bc.State() != BiscayPreHandover {
		t.Fatal("setup: expected Pre-Handover before testing recovery")
	}

	// 3 consecutive readings with a non-steep (good) RSRP slope recover to Normal.
	for i := 0; i < 3; i++ {
		bc.OnRFMetrics(now.Add(time.Duration(i+2)*time.Second), RFMetrics{Cqi: 10, RsrpDbm: -80, RsrqDb: -8, SinrDb: 10})
	}

	if bc.State() != BiscayNormal {
		t.Fatalf("expected recovery to BiscayNormal, got %v", bc.State())
	}
	if bc.Phase() != BBRSlowStart {
		t.Fatalf("expected BBR phase reset to slow start on recovery, got %v", bc.Phase())
	}
}

func TestBiscayControllerPacingRateRespectsSinrCeiling(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)
	bc.OnBandwidthSample(now, 10_000_000, time.Second) // huge delivery rate
	bc.OnRFMetrics(now, RFMetrics{Cqi: 5, RsrpDbm: -90, RsrqDb: -10, SinrDb: -10})

	ceilingBps := sinrToCapacityKbps(-10) * 1000 / 8
	if bc.PacingRate() > ceilingBps+1e-6 {
		t.Fatalf("expected pacing rate to be capped by the SINR ceiling %v, got %v", ceilingBps, bc.PacingRate())
	}
}

func TestBiscayControllerPacingRateNeverBelowFloor(t *testing.T) {
	bc := NewBiscayController()
	now := time.Unix(0, 0)
	bc.OnRFMetrics(now, RFMetrics{Cqi: 0, RsrpDbm: -120, RsrqDb: -20, SinrDb: -20})

	if bc.PacingRate() < biscayPacingFloor {
		t.Fatalf("expected pacing rate to never fall below the floor, got %v", bc.PacingRate())
	}
}

func TestBiscayControllerBytesToSend(t *testing.T) {
	bc := NewBiscayController()
	bytes := bc.BytesToSend(1_000_000) // 1 second
	want := int(bc.PacingRate())
	if bytes != want {
		t.Fatalf("expected BytesToSend(1s) == pacing rate (%d), got %d", want, bytes)
	}
}
