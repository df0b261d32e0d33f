// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"sync"
	"time"
)

// pendingProbe tracks one in-flight probe until it is resolved by a
// response or expires. Matched probes stay registered until the sweep
// removes them so that retransmitted responses still resolve to the
// same probe.
type pendingProbe struct {
	ttl      int
	seq      uint16
	sentAt   time.Time
	deadline time.Time
	matched  bool
}

// outstanding is the set of in-flight probes, keyed by correlation
// token. It is shared between the dispatching round loop and the
// receive path.
type outstanding struct {
	mu     sync.Mutex
	probes map[uint32]*pendingProbe
}

func newOutstanding() *outstanding {
	return &outstanding{probes: map[uint32]*pendingProbe{}}
}

// insert registers a probe under its token before it is sent, so a
// response can never arrive ahead of the registration.
func (o *outstanding) insert(token uint32, p *pendingProbe) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes[token] = p
}

// match resolves a token to its probe. first reports whether this is
// the probe's first match; retransmitted responses return the probe
// again with first false so their RTT can still be recorded. The probe
// remains registered until expire collects it.
func (o *outstanding) match(token uint32, at time.Time) (p *pendingProbe, first bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.probes[token]
	if !ok {
		return nil, false
	}
	// Responses that raced past the probe's deadline count as lost.
	if at.After(p.deadline) {
		return nil, false
	}
	first = !p.matched
	p.matched = true
	return p, first
}

// remove drops a probe that was registered but never sent.
func (o *outstanding) remove(token uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.probes, token)
}

// expire removes probes whose deadline passed and returns the ones that
// were never matched. Those are the round's losses.
func (o *outstanding) expire(now time.Time) []*pendingProbe {
	o.mu.Lock()
	defer o.mu.Unlock()

	var lost []*pendingProbe
	for token, p := range o.probes {
		if now.Before(p.deadline) {
			continue
		}
		delete(o.probes, token)
		if !p.matched {
			lost = append(lost, p)
		}
	}
	return lost
}

// drain removes all probes and returns the unmatched ones. Used when a
// round is cut short.
func (o *outstanding) drain() []*pendingProbe {
	o.mu.Lock()
	defer o.mu.Unlock()

	var lost []*pendingProbe
	for token, p := range o.probes {
		delete(o.probes, token)
		if !p.matched {
			lost = append(lost, p)
		}
	}
	return lost
}

// unresolved reports whether any probe is still awaiting a response.
func (o *outstanding) unresolved() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range o.probes {
		if !p.matched {
			return true
		}
	}
	return false
}
