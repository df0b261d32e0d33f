// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"net"
	"sync"
	"time"
)

const (
	// hopSampleWindow is the number of recent RTT samples kept per hop.
	hopSampleWindow = 16
	// hopAddrLimit caps the distinct responder addresses kept per hop.
	hopAddrLimit = 8
)

// hopState is the mutable per-TTL record. Each hop carries its own lock
// so the receive path for one TTL never blocks another.
type hopState struct {
	mu          sync.Mutex
	addrs       []HopAddress
	pathChanged bool
	sent        int
	lost        int
	samples     [hopSampleWindow]time.Duration
	next        int
	count       int
	last        time.Duration
	best        time.Duration
	worst       time.Duration
	sum         time.Duration
	reached     bool
}

// store is the route state of a session, a fixed arena of hop slots for
// TTLs 1..MaxTTL plus the round header. Writers update single hops, so
// readers get per-hop consistency; cross-hop consistency comes from
// snapshotting between rounds.
type store struct {
	mu            sync.Mutex
	target        string
	protocol      Protocol
	round         int
	state         RoundState
	targetReached bool
	reachedTTL    int
	hops          []*hopState
	firstTTL      int
}

func newStore(s Settings) *store {
	hops := make([]*hopState, s.MaxTTL+1)
	for ttl := 1; ttl <= s.MaxTTL; ttl++ {
		hops[ttl] = &hopState{}
	}
	firstTTL := s.FirstTTL
	if firstTTL < 1 {
		firstTTL = 1
	}
	return &store{
		target:   s.Target.String(),
		protocol: s.Protocol,
		state:    RoundInProgress,
		hops:     hops,
		firstTTL: firstTTL,
	}
}

func (s *store) hop(ttl int) *hopState {
	if ttl < 1 || ttl >= len(s.hops) {
		return nil
	}
	return s.hops[ttl]
}

func (s *store) beginRound(round int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = round
	s.state = RoundInProgress
}

func (s *store) finishRound(state RoundState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// recordSent counts a dispatched probe at its TTL.
func (s *store) recordSent(ttl int) {
	h := s.hop(ttl)
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent++
}

// recordLoss counts an expired probe at its TTL.
func (s *store) recordLoss(ttl int) {
	h := s.hop(ttl)
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost++
}

// recordRTT folds a matched response into the hop at the probe's TTL.
// terminal marks the responder as the target itself.
func (s *store) recordRTT(ttl int, from net.IP, port int, rtt time.Duration, terminal bool) {
	h := s.hop(ttl)
	if h == nil {
		return
	}

	h.mu.Lock()
	addr := newHopAddress(from, port)
	known := false
	for _, a := range h.addrs {
		if a.IP == addr.IP {
			known = true
			break
		}
	}
	if !known {
		if len(h.addrs) > 0 {
			h.pathChanged = true
		}
		if len(h.addrs) < hopAddrLimit {
			h.addrs = append(h.addrs, addr)
		}
	}

	h.samples[h.next] = rtt
	h.next = (h.next + 1) % hopSampleWindow
	h.count++
	h.last = rtt
	h.sum += rtt
	if h.best == 0 || rtt < h.best {
		h.best = rtt
	}
	if rtt > h.worst {
		h.worst = rtt
	}
	if terminal {
		h.reached = true
	}
	h.mu.Unlock()

	if terminal {
		s.mu.Lock()
		s.targetReached = true
		if s.reachedTTL == 0 || ttl < s.reachedTTL {
			s.reachedTTL = ttl
		}
		s.mu.Unlock()
	}
}

// reachedTTLLimit returns the lowest TTL known to reach the target, or
// zero while the target has never answered.
func (s *store) reachedTTLLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachedTTL
}

// snapshot copies the full model. Hops past the deepest one with any
// activity are omitted.
func (s *store) snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Target:        s.target,
		Protocol:      s.protocol,
		Round:         s.round,
		State:         s.state,
		TargetReached: s.targetReached,
		ReachedTTL:    s.reachedTTL,
		Time:          time.Now(),
	}
	s.mu.Unlock()

	last := 0
	for ttl := 1; ttl < len(s.hops); ttl++ {
		if h := s.hops[ttl]; h.active() {
			last = ttl
		}
	}

	for ttl := s.firstTTL; ttl <= last; ttl++ {
		snap.Hops = append(snap.Hops, s.hops[ttl].view(ttl))
	}
	return snap
}

func (h *hopState) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent > 0 || h.count > 0
}

// view copies a hop into its exported form. Samples are ordered oldest
// to newest.
func (h *hopState) view(ttl int) Hop {
	h.mu.Lock()
	defer h.mu.Unlock()

	hop := Hop{
		TTL:         ttl,
		Addrs:       append([]HopAddress(nil), h.addrs...),
		PathChanged: h.pathChanged,
		Sent:        h.sent,
		Lost:        h.lost,
		SampleCount: h.count,
		Last:        h.last,
		Best:        h.best,
		Worst:       h.worst,
		Reached:     h.reached,
	}
	if h.count > 0 {
		hop.Mean = h.sum / time.Duration(h.count)
	}

	n := h.count
	if n > hopSampleWindow {
		n = hopSampleWindow
	}
	for i := 0; i < n; i++ {
		hop.Samples = append(hop.Samples, h.samples[(h.next-n+i+hopSampleWindow)%hopSampleWindow])
	}
	return hop
}
