// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"errors"
	"strconv"

	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/trace/codec"
)

// correlator turns raw inbound frames into hop observations. It decodes
// each frame, derives the probe token through the strategy, resolves it
// against the outstanding set and folds the RTT into the store.
type correlator struct {
	codec    codec.Codec
	strategy strategy
	pending  *outstanding
	store    *store
	metrics  *metrics
}

// onFrame processes one inbound frame. Frames that do not belong to the
// session are counted and dropped; they are expected on a raw socket
// and never fail the session.
func (c *correlator) onFrame(ctx context.Context, f *codec.Frame) {
	log := logger.FromContext(ctx)

	resp, err := c.codec.Decode(f)
	if err != nil {
		if errors.Is(err, codec.ErrUnrecognized) {
			c.metrics.framesIgnored.Inc()
			return
		}
		c.metrics.decodeErrors.Inc()
		log.DebugContext(ctx, "Failed to decode inbound frame", "from", f.From.String(), "error", err)
		return
	}

	token, ok := c.strategy.match(resp)
	if !ok {
		c.metrics.framesIgnored.Inc()
		return
	}

	p, first := c.pending.match(token, resp.At)
	if p == nil {
		// Unknown token or response past the probe deadline.
		c.metrics.framesIgnored.Inc()
		return
	}

	rtt := resp.At.Sub(p.sentAt)
	// Retransmitted responses add an RTT sample on the same hop, but only
	// the first match may flag the round as target-reached.
	terminal := first && c.strategy.terminal(resp)

	port := 0
	if resp.Kind == codec.KindTCPReply {
		port = int(resp.SrcPort)
	}
	c.store.recordRTT(p.ttl, resp.From, port, rtt, terminal)

	c.metrics.responses.WithLabelValues(resp.Kind.String()).Inc()
	c.metrics.hopRTT.WithLabelValues(strconv.Itoa(p.ttl)).Observe(rtt.Seconds())

	log.DebugContext(ctx, "Matched response to probe",
		"ttl", p.ttl, "seq", p.seq, "from", resp.From.String(),
		"kind", resp.Kind.String(), "rtt", rtt.String(),
		"terminal", terminal, "duplicate", !first)
}
