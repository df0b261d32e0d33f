// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSrcV4    = net.ParseIP("192.0.2.10").To4()
	testDstV4    = net.ParseIP("198.51.100.1").To4()
	testRouterV4 = net.ParseIP("203.0.113.7").To4()
	testSrcV6    = net.ParseIP("2001:db8::10")
	testDstV6    = net.ParseIP("2001:db8:1::1")
	testRouterV6 = net.ParseIP("2001:db8:ff::7")
)

func testProbe(proto Protocol) *Probe {
	return &Probe{
		Protocol:  proto,
		TTL:       5,
		Seq:       33007,
		SessionID: 0xbeef,
		SrcPort:   33010,
		DstPort:   33441,
		ISN:       0xbeef0000 | 33007,
		Size:      84,
		Pattern:   0xaa,
	}
}

func TestV4Codec_Encode_ICMP(t *testing.T) {
	c := New(testSrcV4, testDstV4)
	pkt, err := c.Encode(testProbe(ProtocolICMP))
	require.NoError(t, err)

	require.Len(t, pkt, 84)
	assert.EqualValues(t, 0x45, pkt[0], "version and IHL")
	assert.EqualValues(t, 5, pkt[8], "TTL")
	assert.EqualValues(t, protoICMP, pkt[9], "protocol")
	assert.True(t, onesComplement(pkt[:20]) == 0xffff, "IP header checksum")

	icmp := pkt[20:]
	assert.True(t, validICMPv4(icmp), "ICMP checksum")
	assert.EqualValues(t, 8, icmp[0], "echo request type")
	assert.Equal(t, uint16(0xbeef), binary.BigEndian.Uint16(icmp[4:6]), "identifier")
	assert.Equal(t, uint16(33007), binary.BigEndian.Uint16(icmp[6:8]), "sequence")
	assert.EqualValues(t, 0xaa, icmp[8], "payload pattern")
}

func TestV4Codec_Encode_UDP(t *testing.T) {
	c := New(testSrcV4, testDstV4)
	pkt, err := c.Encode(testProbe(ProtocolUDP))
	require.NoError(t, err)

	require.Len(t, pkt, 84)
	assert.EqualValues(t, protoUDP, pkt[9], "protocol")

	seg := pkt[20:]
	assert.Equal(t, uint16(33010), binary.BigEndian.Uint16(seg[0:2]), "source port")
	assert.Equal(t, uint16(33441), binary.BigEndian.Uint16(seg[2:4]), "destination port")
	assert.True(t, onesComplement(pseudoHeaderV4(testSrcV4, testDstV4, protoUDP, len(seg)), seg) == 0xffff,
		"UDP checksum over pseudo header")
}

func TestV4Codec_Encode_TCP(t *testing.T) {
	c := New(testSrcV4, testDstV4)
	pkt, err := c.Encode(testProbe(ProtocolTCP))
	require.NoError(t, err)

	assert.EqualValues(t, protoTCP, pkt[9], "protocol")

	seg := pkt[20:]
	require.GreaterOrEqual(t, len(seg), tcpHeaderLen)
	assert.Equal(t, uint16(33010), binary.BigEndian.Uint16(seg[0:2]), "source port")
	assert.Equal(t, uint16(33441), binary.BigEndian.Uint16(seg[2:4]), "destination port")
	assert.Equal(t, uint32(0xbeef0000|33007), binary.BigEndian.Uint32(seg[4:8]), "initial sequence number")
	assert.EqualValues(t, 0x02, seg[13]&0x3f, "SYN flag only")
	assert.True(t, validTCPv4(testSrcV4, testDstV4, seg), "TCP checksum")
}

// synthICMPv4 builds an ICMPv4 message with a valid checksum.
func synthICMPv4(typ, code byte, body []byte) []byte {
	msg := make([]byte, 8+len(body))
	msg[0] = typ
	msg[1] = code
	copy(msg[8:], body)
	binary.BigEndian.PutUint16(msg[2:4], ^onesComplement(msg))
	return msg
}

func TestV4Codec_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		protocol Protocol
		typ      byte
		code     byte
		wantKind Kind
		check    func(t *testing.T, resp *Response)
	}{
		{
			name:     "ICMP probe quoted in time exceeded",
			protocol: ProtocolICMP,
			typ:      11,
			wantKind: KindTimeExceeded,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, uint16(0xbeef), resp.ICMPID)
				assert.Equal(t, uint16(33007), resp.ICMPSeq)
			},
		},
		{
			name:     "UDP probe quoted in time exceeded",
			protocol: ProtocolUDP,
			typ:      11,
			wantKind: KindTimeExceeded,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, uint16(33010), resp.SrcPort)
				assert.Equal(t, uint16(33441), resp.DstPort)
			},
		},
		{
			name:     "UDP probe quoted in port unreachable",
			protocol: ProtocolUDP,
			typ:      3,
			code:     3,
			wantKind: KindDestUnreachable,
			check: func(t *testing.T, resp *Response) {
				assert.True(t, resp.PortUnreachable)
				assert.Equal(t, uint16(33441), resp.DstPort)
			},
		},
		{
			name:     "TCP probe quoted in time exceeded",
			protocol: ProtocolTCP,
			typ:      11,
			wantKind: KindTimeExceeded,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, uint16(33010), resp.SrcPort)
				assert.Equal(t, uint32(0xbeef0000|33007), resp.TCPSeq)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testSrcV4, testDstV4)
			probe := testProbe(tt.protocol)
			pkt, err := c.Encode(probe)
			require.NoError(t, err)

			// Routers quote the IP header plus the first 8 bytes of the
			// transport header. The unused word after the ICMP checksum
			// is part of the 8 byte header synthICMPv4 builds.
			quote := pkt
			if len(quote) > ipv4HeaderLen+quotedSegmentLen {
				quote = quote[:ipv4HeaderLen+quotedSegmentLen]
			}
			frame := &Frame{
				Data: synthICMPv4(tt.typ, tt.code, quote),
				From: testRouterV4,
				At:   time.Now(),
			}

			resp, err := c.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, testRouterV4, resp.From)
			tt.check(t, resp)
		})
	}
}

func TestV4Codec_Decode_EchoReply(t *testing.T) {
	c := New(testSrcV4, testDstV4)

	body := make([]byte, 16)
	msg := synthICMPv4(0, 0, body)
	binary.BigEndian.PutUint16(msg[4:6], 0xbeef)
	binary.BigEndian.PutUint16(msg[6:8], 33007)
	binary.BigEndian.PutUint16(msg[2:4], 0)
	binary.BigEndian.PutUint16(msg[2:4], ^onesComplement(msg))

	resp, err := c.Decode(&Frame{Data: msg, From: testDstV4, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, KindEchoReply, resp.Kind)
	assert.Equal(t, uint16(0xbeef), resp.ICMPID)
	assert.Equal(t, uint16(33007), resp.ICMPSeq)
}

func TestV4Codec_Decode_Errors(t *testing.T) {
	c := New(testSrcV4, testDstV4)

	t.Run("checksum mismatch", func(t *testing.T) {
		msg := synthICMPv4(0, 0, make([]byte, 8))
		msg[5] ^= 0xff
		_, err := c.Decode(&Frame{Data: msg, From: testRouterV4})
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("truncated message", func(t *testing.T) {
		_, err := c.Decode(&Frame{Data: []byte{11, 0, 0}, From: testRouterV4})
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("truncated quote", func(t *testing.T) {
		msg := synthICMPv4(11, 0, make([]byte, 10))
		_, err := c.Decode(&Frame{Data: msg, From: testRouterV4})
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("unrelated type", func(t *testing.T) {
		msg := synthICMPv4(9, 0, make([]byte, 8))
		_, err := c.Decode(&Frame{Data: msg, From: testRouterV4})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})
}

// synthTCPv4 builds a bare TCP segment with a valid IPv4 pseudo-header checksum.
func synthTCPv4(src, dst net.IP, srcPort, dstPort uint16, seq, ack uint32, flags byte) []byte {
	seg := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(seg[0:2], srcPort)
	binary.BigEndian.PutUint16(seg[2:4], dstPort)
	binary.BigEndian.PutUint32(seg[4:8], seq)
	binary.BigEndian.PutUint32(seg[8:12], ack)
	seg[12] = 0x50 // data offset 5 words
	seg[13] = flags
	binary.BigEndian.PutUint16(seg[16:18], ^onesComplement(pseudoHeaderV4(src, dst, protoTCP, len(seg)), seg))
	return seg
}

func TestV4Codec_Decode_TCPReply(t *testing.T) {
	c := New(testSrcV4, testDstV4)
	isn := uint32(0xbeef0000 | 33007)

	t.Run("syn-ack", func(t *testing.T) {
		seg := synthTCPv4(testDstV4, testSrcV4, 33441, 33010, 12345, isn+1, 0x12)
		resp, err := c.Decode(&Frame{Data: seg, From: testDstV4, At: time.Now(), Transport: TransportTCP})
		require.NoError(t, err)
		assert.Equal(t, KindTCPReply, resp.Kind)
		assert.Equal(t, isn, resp.TCPSeq)
		assert.Equal(t, uint16(33010), resp.DstPort)
	})

	t.Run("rst-ack", func(t *testing.T) {
		seg := synthTCPv4(testDstV4, testSrcV4, 33441, 33010, 0, isn+1, 0x14)
		resp, err := c.Decode(&Frame{Data: seg, From: testDstV4, At: time.Now(), Transport: TransportTCP})
		require.NoError(t, err)
		assert.Equal(t, KindTCPReply, resp.Kind)
		assert.Equal(t, isn, resp.TCPSeq)
	})

	t.Run("plain data segment is unrelated traffic", func(t *testing.T) {
		seg := synthTCPv4(testDstV4, testSrcV4, 443, 50000, 1, 1, 0x10)
		_, err := c.Decode(&Frame{Data: seg, From: testDstV4, Transport: TransportTCP})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("corrupted segment", func(t *testing.T) {
		seg := synthTCPv4(testDstV4, testSrcV4, 33441, 33010, 0, isn+1, 0x12)
		seg[7] ^= 0x01
		_, err := c.Decode(&Frame{Data: seg, From: testDstV4, Transport: TransportTCP})
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

// synthICMPv6 builds an ICMPv6 message from router src to local dst with
// a valid pseudo-header checksum.
func synthICMPv6(src, dst net.IP, typ, code byte, body []byte) []byte {
	msg := make([]byte, 4+len(body))
	msg[0] = typ
	msg[1] = code
	copy(msg[4:], body)
	cs := ^onesComplement(pseudoHeaderV6(src, dst, protoICMPv6, len(msg)), msg)
	binary.BigEndian.PutUint16(msg[2:4], cs)
	return msg
}

// synthQuoteV6 wraps an encoded IPv6 probe segment in the IPv6 header
// the router would have seen.
func synthQuoteV6(nextHeader byte, seg []byte) []byte {
	quote := make([]byte, ipv6HeaderLen+len(seg))
	quote[0] = 0x60
	binary.BigEndian.PutUint16(quote[4:6], uint16(len(seg)))
	quote[6] = nextHeader
	quote[7] = 1 // remaining hop limit
	copy(quote[8:24], testSrcV6.To16())
	copy(quote[24:40], testDstV6.To16())
	copy(quote[ipv6HeaderLen:], seg)
	return quote
}

func TestV6Codec_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		protocol   Protocol
		nextHeader byte
		typ        byte
		code       byte
		wantKind   Kind
		check      func(t *testing.T, resp *Response)
	}{
		{
			name:       "ICMPv6 probe quoted in time exceeded",
			protocol:   ProtocolICMP,
			nextHeader: protoICMPv6,
			typ:        3,
			wantKind:   KindTimeExceeded,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, uint16(0xbeef), resp.ICMPID)
				assert.Equal(t, uint16(33007), resp.ICMPSeq)
			},
		},
		{
			name:       "UDP probe quoted in port unreachable",
			protocol:   ProtocolUDP,
			nextHeader: protoUDP,
			typ:        1,
			code:       4,
			wantKind:   KindDestUnreachable,
			check: func(t *testing.T, resp *Response) {
				assert.True(t, resp.PortUnreachable)
				assert.Equal(t, uint16(33441), resp.DstPort)
			},
		},
		{
			name:       "TCP probe quoted in time exceeded",
			protocol:   ProtocolTCP,
			nextHeader: protoTCP,
			typ:        3,
			wantKind:   KindTimeExceeded,
			check: func(t *testing.T, resp *Response) {
				assert.Equal(t, uint32(0xbeef0000|33007), resp.TCPSeq)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(testSrcV6, testDstV6)
			seg, err := c.Encode(testProbe(tt.protocol))
			require.NoError(t, err)

			if len(seg) > quotedSegmentLen {
				seg = seg[:quotedSegmentLen]
			}
			body := append(make([]byte, icmpErrUnusedLen), synthQuoteV6(tt.nextHeader, seg)...)
			frame := &Frame{
				Data: synthICMPv6(testRouterV6, testSrcV6, tt.typ, tt.code, body),
				From: testRouterV6,
				At:   time.Now(),
			}

			resp, err := c.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, resp.Kind)
			tt.check(t, resp)
		})
	}
}

func TestV6Codec_Decode_EchoReply(t *testing.T) {
	c := New(testSrcV6, testDstV6)

	body := make([]byte, 12)
	binary.BigEndian.PutUint16(body[0:2], 0xbeef)
	binary.BigEndian.PutUint16(body[2:4], 33007)
	msg := synthICMPv6(testDstV6, testSrcV6, 129, 0, body)

	resp, err := c.Decode(&Frame{Data: msg, From: testDstV6, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, KindEchoReply, resp.Kind)
	assert.Equal(t, uint16(0xbeef), resp.ICMPID)
	assert.Equal(t, uint16(33007), resp.ICMPSeq)
}

func TestV6Codec_Decode_ChecksumMismatch(t *testing.T) {
	c := New(testSrcV6, testDstV6)
	msg := synthICMPv6(testDstV6, testSrcV6, 129, 0, make([]byte, 8))
	msg[6] ^= 0xff

	_, err := c.Decode(&Frame{Data: msg, From: testDstV6})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestOnesComplement(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{name: "empty", data: nil, want: 0},
		{name: "single word", data: []byte{0x12, 0x34}, want: 0x1234},
		{name: "odd length pads with zero", data: []byte{0x12}, want: 0x1200},
		{name: "carry folds", data: []byte{0xff, 0xff, 0x00, 0x01}, want: 0x0001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onesComplement(tt.data))
		})
	}
}
