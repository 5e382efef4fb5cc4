package strata

//
// Metrics surface: operational output events an external scrape
// adapter would consume. No transport or exposition format is
// implemented here, only the typed events and an in-process
// publish/subscribe so a caller can wire its own exporter.
//

import "sync"

// StatsEvent is the periodic strata-stats event (spec.md §6.5): a
// full metrics snapshot plus an incrementing sequence number so a
// consumer can detect drops.
type StatsEvent struct {
	StatsSeq      uint64
	Links         []LinkMetrics
	AliveLinks    int
	AggregateBps  float64
	MonotonicNs   int64
	WallClockUnix int64
}

// CongestionEvent is emitted when observed throughput outgrows the
// bonded capacity by more than triggerRatio, recommending a new
// encoder bitrate equal to totalCapacity*headroomRatio.
type CongestionEvent struct {
	ObservedBps      float64
	TotalCapacityBps float64
	RecommendedBps   float64
}

// MetricsConfig tunes when a [CongestionEvent] fires.
type MetricsConfig struct {
	TriggerRatio  float64
	HeadroomRatio float64
}

func (c MetricsConfig) withDefaults() MetricsConfig {
	if c.TriggerRatio == 0 {
		c.TriggerRatio = 0.9
	}
	if c.HeadroomRatio == 0 {
		c.HeadroomRatio = 0.85
	}
	return c
}

// StatsSubscriber receives [StatsEvent] publications.
type StatsSubscriber func(StatsEvent)

// CongestionSubscriber receives [CongestionEvent] publications.
type CongestionSubscriber func(CongestionEvent)

// MetricsHub is the small in-process publish/subscribe point for
// operational output events. It has no external transport: a caller
// wires its own exporter by subscribing.
type MetricsHub struct {
	cfg MetricsConfig

	mu                sync.Mutex
	statsSeq          uint64
	statsSubs         []StatsSubscriber
	congestionSubs    []CongestionSubscriber
}

// NewMetricsHub creates a [MetricsHub] applying cfg's defaults.
func NewMetricsHub(cfg MetricsConfig) *MetricsHub {
	return &MetricsHub{cfg: cfg.withDefaults()}
}

// SubscribeStats registers fn to receive every future [StatsEvent].
func (h *MetricsHub) SubscribeStats(fn StatsSubscriber) {
	h.mu.Lock()
	h.statsSubs = append(h.statsSubs, fn)
	h.mu.Unlock()
}

// SubscribeCongestion registers fn to receive every future [CongestionEvent].
func (h *MetricsHub) SubscribeCongestion(fn CongestionSubscriber) {
	h.mu.Lock()
	h.congestionSubs = append(h.congestionSubs, fn)
	h.mu.Unlock()
}

// PublishStats builds and emits a [StatsEvent] from a [RuntimeMetrics]
// snapshot, assigning the next stats_seq, and evaluates whether the
// observed throughput warrants a [CongestionEvent] alongside it.
func (h *MetricsHub) PublishStats(snap RuntimeMetrics, observedBps float64, monotonicNs, wallClockUnix int64) {
	h.mu.Lock()
	h.statsSeq++
	seq := h.statsSeq
	statsSubs := append([]StatsSubscriber(nil), h.statsSubs...)
	congestionSubs := append([]CongestionSubscriber(nil), h.congestionSubs...)
	cfg := h.cfg
	h.mu.Unlock()

	ev := StatsEvent{
		StatsSeq:      seq,
		Links:         snap.Links,
		AliveLinks:    snap.AliveLinks,
		AggregateBps:  snap.AggregateBps,
		MonotonicNs:   monotonicNs,
		WallClockUnix: wallClockUnix,
	}
	for _, sub := range statsSubs {
		sub(ev)
	}

	if snap.AggregateBps <= 0 {
		return
	}
	if observedBps <= snap.AggregateBps*cfg.TriggerRatio {
		return
	}
	cev := CongestionEvent{
		ObservedBps:      observedBps,
		TotalCapacityBps: snap.AggregateBps,
		RecommendedBps:   snap.AggregateBps * cfg.HeadroomRatio,
	}
	for _, sub := range congestionSubs {
		sub(cev)
	}
}
