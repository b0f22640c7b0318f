// Package peers tracks liveness of every datagram origin seen by the
// listener.
package peers

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/clock"
)

// DefaultLivenessWindow is how long an origin may stay silent before the
// sweep marks it inactive.
const DefaultLivenessWindow = 30 * time.Second

type Status string

const (
	StatusActive    Status = "active"
	StatusListening Status = "listening"
	StatusInactive  Status = "inactive"
)

// Peer is a point-in-time view of one origin.
type Peer struct {
	Key              string    `json:"id"`
	Address          string    `json:"address"`
	Port             int       `json:"port"`
	Status           Status    `json:"status"`
	LastActivity     time.Time `json:"lastActivity"`
	MessagesReceived uint64    `json:"messagesReceived"`
}

// Tracker holds one entry per origin. Entries are never deleted; the set
// is bounded by the number of distinct senders.
type Tracker struct {
	mu     sync.RWMutex
	clock  clock.Clock
	window time.Duration
	peers  map[string]*Peer
}

// NewTracker creates a Tracker. A non-positive window selects
// DefaultLivenessWindow.
func NewTracker(c clock.Clock, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	return &Tracker{
		clock:  clock.OrReal(c),
		window: window,
		peers:  make(map[string]*Peer),
	}
}

// Key formats the tracker key for an origin as "{address}:{port}".
func Key(origin netip.AddrPort) string {
	return fmt.Sprintf("%s:%d", origin.Addr().Unmap().String(), origin.Port())
}

// Bind registers the listening endpoint itself. Its entry stays in
// StatusListening for the tracker's lifetime.
func (t *Tracker) Bind(local netip.AddrPort) Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key(local)
	p := &Peer{
		Key:          key,
		Address:      local.Addr().Unmap().String(),
		Port:         int(local.Port()),
		Status:       StatusListening,
		LastActivity: t.clock.Now(),
	}
	t.peers[key] = p
	return *p
}

// Upsert records one datagram from origin.
func (t *Tracker) Upsert(origin netip.AddrPort) Peer {
	now := t.clock.Now()
	key := Key(origin)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[key]
	if !ok {
		p = &Peer{
			Key:     key,
			Address: origin.Addr().Unmap().String(),
			Port:    int(origin.Port()),
		}
		t.peers[key] = p
	}

	p.MessagesReceived++
	p.LastActivity = now
	if p.Status != StatusListening {
		p.Status = StatusActive
	}
	return *p
}

// Sweep marks every non-listening peer silent for longer than the
// liveness window as inactive and returns how many changed. It never
// reactivates a peer.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for _, p := range t.peers {
		if p.Status != StatusActive {
			continue
		}
		if now.Sub(p.LastActivity) > t.window {
			p.Status = StatusInactive
			changed++
		}
	}
	return changed
}

// Get returns the current view of the peer under key.
func (t *Tracker) Get(key string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.peers[key]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns copies of all peers ordered by key.
func (t *Tracker) Snapshot() []Peer {
	t.mu.RLock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of tracked peers, including the listening entry.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
