// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/hoplite/pkg/trace/codec"
)

// icmpChecksum computes the RFC 1071 checksum over a message whose
// checksum field is zeroed.
func icmpChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// synthICMPError builds an ICMPv4 error message quoting the start of a
// sent probe packet.
func synthICMPError(typ, code byte, probePkt []byte) []byte {
	quote := probePkt
	if len(quote) > 28 {
		quote = quote[:28]
	}
	msg := make([]byte, 8+len(quote))
	msg[0] = typ
	msg[1] = code
	copy(msg[8:], quote)
	binary.BigEndian.PutUint16(msg[2:4], icmpChecksum(msg))
	return msg
}

func synthTimeExceeded(probePkt []byte) []byte {
	return synthICMPError(11, 0, probePkt)
}

func synthPortUnreachable(probePkt []byte) []byte {
	return synthICMPError(3, 3, probePkt)
}

// synthEchoReply mirrors a sent ICMP echo probe packet into the reply
// the target would send.
func synthEchoReply(probePkt []byte) []byte {
	msg := append([]byte(nil), probePkt[20:]...)
	msg[0] = 0 // echo reply
	msg[2], msg[3] = 0, 0
	binary.BigEndian.PutUint16(msg[2:4], icmpChecksum(msg))
	return msg
}

func newTestCorrelator(t *testing.T, s Settings) (*correlator, *store) {
	t.Helper()

	strat, err := newStrategy(s)
	require.NoError(t, err)

	st := newStore(s)
	m := newMetrics(s.Protocol)
	return &correlator{
		codec:    codec.New(net.ParseIP("192.0.2.10"), s.Target),
		strategy: strat,
		pending:  newOutstanding(),
		store:    st,
		metrics:  &m,
	}, st
}

func TestCorrelator_OnFrame(t *testing.T) {
	ctx := context.Background()
	settings := testStrategySettings(ProtocolICMP)
	settings.MaxTTL = 8

	c, st := newTestCorrelator(t, settings)

	// Register and "send" probes for TTL 1 and 2.
	var pkts [][]byte
	now := time.Now()
	for i, ttl := range []int{1, 2} {
		seq := uint16(33000 + i) // #nosec G115
		probe, token := c.strategy.build(seq, ttl)
		pkt, err := c.codec.Encode(&probe)
		require.NoError(t, err)
		pkts = append(pkts, pkt)
		c.pending.insert(token, &pendingProbe{ttl: ttl, seq: seq, sentAt: now, deadline: now.Add(time.Minute)})
	}

	router1 := net.ParseIP("203.0.113.1")
	router2 := net.ParseIP("203.0.113.2")

	// Responses arrive out of order.
	c.onFrame(ctx, &codec.Frame{Data: synthTimeExceeded(pkts[1]), From: router2, At: now.Add(20 * time.Millisecond)})
	c.onFrame(ctx, &codec.Frame{Data: synthTimeExceeded(pkts[0]), From: router1, At: now.Add(10 * time.Millisecond)})

	snap := st.snapshot()
	require.Len(t, snap.Hops, 2)
	assert.Equal(t, []HopAddress{{IP: "203.0.113.1"}}, snap.Hops[0].Addrs)
	assert.Equal(t, []HopAddress{{IP: "203.0.113.2"}}, snap.Hops[1].Addrs)
	assert.Equal(t, 10*time.Millisecond, snap.Hops[0].Last)
	assert.Equal(t, 20*time.Millisecond, snap.Hops[1].Last)
}

func TestCorrelator_DuplicateResponse(t *testing.T) {
	ctx := context.Background()
	settings := testStrategySettings(ProtocolICMP)
	settings.MaxTTL = 8

	c, st := newTestCorrelator(t, settings)

	now := time.Now()
	probe, token := c.strategy.build(33000, 1)
	pkt, err := c.codec.Encode(&probe)
	require.NoError(t, err)
	c.pending.insert(token, &pendingProbe{ttl: 1, seq: 33000, sentAt: now, deadline: now.Add(time.Minute)})

	router := net.ParseIP("203.0.113.1")
	f := &codec.Frame{Data: synthTimeExceeded(pkt), From: router, At: now.Add(5 * time.Millisecond)}

	c.onFrame(ctx, f)
	c.onFrame(ctx, f)

	// The retransmitted error adds a second RTT sample on the same hop
	// without duplicating the responder address.
	hop := st.snapshot().Hops[0]
	assert.Equal(t, 2, hop.SampleCount)
	assert.Equal(t, []HopAddress{{IP: "203.0.113.1"}}, hop.Addrs)
	assert.False(t, c.pending.unresolved())
}

func TestCorrelator_TerminalResponse(t *testing.T) {
	ctx := context.Background()
	settings := testStrategySettings(ProtocolICMP)
	settings.MaxTTL = 8

	c, st := newTestCorrelator(t, settings)

	now := time.Now()
	probe, token := c.strategy.build(33004, 4)
	pkt, err := c.codec.Encode(&probe)
	require.NoError(t, err)
	c.pending.insert(token, &pendingProbe{ttl: 4, seq: 33004, sentAt: now, deadline: now.Add(time.Minute)})

	c.onFrame(ctx, &codec.Frame{Data: synthEchoReply(pkt), From: settings.Target, At: now.Add(8 * time.Millisecond)})

	snap := st.snapshot()
	assert.True(t, snap.TargetReached)
	assert.Equal(t, 4, snap.ReachedTTL)
	assert.True(t, snap.Hops[3].Reached)
}

func TestCorrelator_IgnoresForeignTraffic(t *testing.T) {
	ctx := context.Background()
	settings := testStrategySettings(ProtocolICMP)
	settings.MaxTTL = 8

	c, st := newTestCorrelator(t, settings)

	// A valid echo reply that belongs to another session.
	foreign := []byte{0, 0, 0, 0, 0x12, 0x34, 0x00, 0x01}
	binary.BigEndian.PutUint16(foreign[2:4], icmpChecksum(foreign))
	c.onFrame(ctx, &codec.Frame{Data: foreign, From: net.ParseIP("203.0.113.9"), At: time.Now()})

	// Garbage with a broken checksum.
	c.onFrame(ctx, &codec.Frame{Data: []byte{11, 0, 0xff, 0xff, 0, 0, 0, 0}, From: net.ParseIP("203.0.113.9"), At: time.Now()})

	assert.Empty(t, st.snapshot().Hops)
}
