package strata

import "testing"

func TestSBDNoDataReturnsEmpty(t *testing.T) {
	e := NewSBDEngine(50, 0.1, 0.3, 0.1)
	groups := e.ComputeGroups()
	if len(groups) != 0 {
		t.Fatalf("expected no groups with no links registered, got %v", groups)
	}
}

func TestSBDSingleLinkUniformDelayNotBottlenecked(t *testing.T) {
	e := NewSBDEngine(10, 0.1, 0.3, 0.1)
	e.AddLink(1)

	for interval := 0; interval < 5; interval++ {
		for i := 0; i < 10; i++ {
			e.RecordDelay(1, 10.0+float64(i)*0.01)
		}
		e.ProcessInterval()
	}

	groups := e.ComputeGroups()
	if got := groups[1]; got != 0 {
		t.Fatalf("uniform delay should not trigger bottleneck detection, got group %d", got)
	}
}

func TestSBDSkewedDelayTriggersBottleneck(t *testing.T) {
	e := NewSBDEngine(10, 0.05, 0.01, 0.05)
	e.AddLink(1)

	for i := 0; i < 5; i++ {
		for j := 0; j < 7; j++ {
			e.RecordDelay(1, 5.0)
		}
		for j := 0; j < 3; j++ {
			e.RecordDelay(1, 50.0)
		}
		e.RecordLoss(1)
		e.ProcessInterval()
	}

	groups := e.ComputeGroups()
	if got := groups[1]; got <= 0 {
		t.Fatalf("skewed delay distribution should trigger bottleneck detection, got group %d", got)
	}
}

func TestSBDTwoLinksShareBottleneck(t *testing.T) {
	e := NewSBDEngine(10, 0.05, 0.01, 0.05)
	e.AddLink(1)
	e.AddLink(2)

	for i := 0; i < 5; i++ {
		for j := 0; j < 7; j++ {
			e.RecordDelay(1, 5.0)
			e.RecordDelay(2, 5.5)
		}
		for j := 0; j < 3; j++ {
			e.RecordDelay(1, 50.0)
			e.RecordDelay(2, 52.0)
		}
		e.RecordLoss(1)
		e.RecordLoss(2)
		e.ProcessInterval()
	}

	groups := e.ComputeGroups()
	g1, g2 := groups[1], groups[2]
	if g1 <= 0 || g2 <= 0 {
		t.Fatalf("expected both links to be bottlenecked, got g1=%d g2=%d", g1, g2)
	}
	if g1 != g2 {
		t.Fatalf("expected links with similar profiles to share a group, got g1=%d g2=%d", g1, g2)
	}
}

func TestSBDLossTriggersBottleneck(t *testing.T) {
	e := NewSBDEngine(10, 0.05, 1.0, 0.05)
	e.AddLink(1)

	for i := 0; i < 5; i++ {
		for j := 0; j < 7; j++ {
			e.RecordDelay(1, 5.0)
		}
		for j := 0; j < 3; j++ {
			e.RecordDelay(1, 50.0)
		}
		e.RecordLoss(1)
		e.RecordLoss(1)
		e.ProcessInterval()
	}

	groups := e.ComputeGroups()
	if got := groups[1]; got <= 0 {
		t.Fatalf("high loss should contribute to bottleneck detection, got group %d", got)
	}
}

func TestSBDAddRemoveLink(t *testing.T) {
	e := NewSBDEngine(50, 0.1, 0.3, 0.1)
	e.AddLink(1)
	e.AddLink(2)
	if len(e.links) != 2 {
		t.Fatalf("expected 2 tracked links, got %d", len(e.links))
	}
	e.RemoveLink(1)
	if len(e.links) != 1 {
		t.Fatalf("expected 1 tracked link after removal, got %d", len(e.links))
	}
	if _, ok := e.links[1]; ok {
		t.Fatal("expected link 1 to be gone after RemoveLink")
	}
}

func TestPushBoundedEvictsOldest(t *testing.T) {
	var d []float64
	for i := 0; i < 20; i++ {
		d = pushBounded(d, float64(i), 5)
	}
	if len(d) != 5 {
		t.Fatalf("expected bounded length 5, got %d", len(d))
	}
	if d[0] != 15 || d[4] != 19 {
		t.Fatalf("expected [15..19], got %v", d)
	}
}

func TestSBDMinimumSampleFloor(t *testing.T) {
	e := NewSBDEngine(1, 0.1, 0.3, 0.1)
	if e.n != 5 {
		t.Fatalf("expected n to be floored at 5, got %d", e.n)
	}
}
