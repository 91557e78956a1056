// Package metrics provides the per-service counter tracker behind the
// acknowledge/status handshake: a monitor publishes "acknowledge", every
// service answers on "status" with its counters since the last ack.
package metrics

import "sync"

// Packet is a snapshot of a service's counters.
type Packet struct {
	Counters map[string]int `json:"counters"`
}

// Tracker accumulates named counters. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counters: make(map[string]int)}
}

// Increment adds delta (default 1) to a counter.
func (t *Tracker) Increment(name string, delta ...int) {
	d := 1
	if len(delta) > 0 {
		d = delta[0]
	}
	t.mu.Lock()
	t.counters[name] += d
	t.mu.Unlock()
}

// GetAndResetPacket returns the current counters and starts a new window.
func (t *Tracker) GetAndResetPacket() Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := Packet{Counters: t.counters}
	t.counters = make(map[string]int)
	return p
}
