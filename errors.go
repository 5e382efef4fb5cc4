package strata

import "errors"

// ErrWireDecode indicates a malformed or truncated packet. Callers
// should count it and drop the datagram; it is never fatal.
var ErrWireDecode = errors.New("strata: malformed or truncated packet")

// ErrQueueFull indicates the runtime's packet ring is saturated.
// Droppable packets are dropped; critical packets are surfaced here.
var ErrQueueFull = errors.New("strata: packet ring is full")

// ErrDisconnected indicates the runtime worker has stopped.
var ErrDisconnected = errors.New("strata: runtime is disconnected")

// ErrLinkNotFound indicates a control operation referenced an unknown link id.
var ErrLinkNotFound = errors.New("strata: link not found")

// ErrNoActiveLinks indicates the scheduler has no alive link to select.
var ErrNoActiveLinks = errors.New("strata: no active links")

// ErrPoolFull indicates the packet pool has no free slab slot.
var ErrPoolFull = errors.New("strata: packet pool is full")

// ErrStaleHandle indicates a pool handle's generation no longer matches
// the slab slot it once referenced.
var ErrStaleHandle = errors.New("strata: stale pool handle")

// ErrNackBudgetExhausted indicates a sequence has been NACKed max_nacks
// times and will not be NACKed again this loss cycle.
var ErrNackBudgetExhausted = errors.New("strata: nack budget exhausted")

// ErrRetransmitBudgetExhausted indicates a sequence has been
// retransmitted max_retries times.
var ErrRetransmitBudgetExhausted = errors.New("strata: retransmit budget exhausted")

// ErrExpired indicates a pooled packet reached its TTL without being acked.
var ErrExpired = errors.New("strata: packet expired")

// ErrBadBondingMagic indicates a [BondingHeader] failed to decode because
// its magic prefix did not match.
var ErrBadBondingMagic = errors.New("strata: bad bonding header magic")

// ErrNotIPAddress indicates a link URI did not resolve to a host:port pair.
var ErrNotIPAddress = errors.New("strata: uri is not a host:port address")
