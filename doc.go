// Package strata is a bonded transport for live media: it streams a
// single elastic byte/frame stream over multiple concurrently-usable
// IP paths (cellular modems, Wi-Fi, Ethernet) while tolerating packet
// loss, bursty outages, variable capacity, and handovers.
//
// On the sender side, use [NewSender] to fragment and pool submitted
// payloads, [NewScheduler] to spread pooled packets across [TransportLink]s
// with DWRR credits and broadcast/duplication policies, and [NewRuntime]
// to host the scheduler on a single worker goroutine fed by an outbound
// ring (a buffered channel, not a lock-free structure). Each
// [TransportLink] owns its own [RTTTracker] and [BiscayController];
// the [Runtime] shares one [Sender] and one [Receiver] across all of
// its links, so sender and receiver state is not per-link.
//
// On the receiver side, use [NewReceiver] to dedup, reorder,
// reassemble fragments and decode FEC, and [NewReassemblyBuffer] to
// turn the delivered packets into a single jitter-buffered,
// seq-ordered output.
//
// [NewSupervisor], [NewBitrateAdapter] and [NewSBDEngine] are orthogonal
// control loops: they observe [LinkMetrics] snapshots and steer the
// data plane (encoder bitrate, scheduler coupling) without interleaving
// with the per-packet critical path.
//
// Socket creation, interface enumeration, modem AT commands, and the
// control-plane/metrics-exposition layers that sit above this package
// are deliberately out of scope; [TransportLink] consumes any capability
// satisfying [LinkSocket], so callers can plug in real UDP sockets (see
// [DialUDPSocket]) or test doubles.
package strata
