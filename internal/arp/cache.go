// Package arp implements the minimal neighbor-resolution collaborator the
// forwarding engine hands off to: a soft-miss MAC cache and request
// sender. It is not a full ARP state machine (no retry backoff, no
// NUD aging) — those are out of scope for a simulator operating at the
// L2/L3 boundary rather than modeling neighbor discovery itself.
package arp

import (
	"net/netip"
	"sync"

	"github.com/vishvananda/netlink"
)

// State mirrors the kernel neighbor-cache state names, reusing
// netlink's NUD_* constants the way modules/route's discovery/neigh
// package does, even though this cache never talks to a real kernel.
type State int

func (s State) String() string {
	switch s {
	case netlink.NUD_REACHABLE:
		return "REACHABLE"
	case netlink.NUD_STALE:
		return "STALE"
	case netlink.NUD_INCOMPLETE:
		return "INCOMPLETE"
	default:
		return "NONE"
	}
}

type entry struct {
	mac   [6]byte
	state State
}

// Cache is a per-device, per-interface-agnostic ARP table. Lookups never
// error on miss: a miss simply returns (MAC{}, false), matching the
// "soft" lookup semantics the original implementation relies on so the
// forwarding engine can queue-and-request rather than fail the packet.
type Cache struct {
	mu      sync.RWMutex
	entries map[netip.Addr]entry
}

// NewCache constructs an empty ARP cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[netip.Addr]entry)}
}

// Lookup returns the MAC address cached for addr, or (MAC{}, false) on a
// soft miss.
func (c *Cache) Lookup(addr netip.Addr) ([6]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	if !ok || e.state == netlink.NUD_INCOMPLETE {
		return [6]byte{}, false
	}
	return e.mac, true
}

// Set records a resolved address, overwriting any prior entry.
func (c *Cache) Set(addr netip.Addr, mac [6]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = entry{mac: mac, state: netlink.NUD_REACHABLE}
}

// MarkPending records that a request for addr is outstanding, so
// concurrent lookups still soft-miss without re-issuing a request.
func (c *Cache) MarkPending(addr netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[addr]; !ok {
		c.entries[addr] = entry{state: netlink.NUD_INCOMPLETE}
	}
}

// Pending reports whether a request for addr is already outstanding.
func (c *Cache) Pending(addr netip.Addr) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	return ok && e.state == netlink.NUD_INCOMPLETE
}
