// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// v6Codec builds bare transport segments, IPv6 raw sockets cannot send
// a caller-built IP header. The hop limit is applied per send by the
// I/O boundary, and the ICMPv6/UDP/TCP checksums cover the IPv6 pseudo
// header, so the codec still needs both endpoint addresses.
type v6Codec struct {
	src net.IP
	dst net.IP
}

func (c *v6Codec) Encode(p *Probe) ([]byte, error) {
	// Not serialized, only the checksum context for the segment.
	ip := &layers.IPv6{
		Version:  6,
		SrcIP:    c.src,
		DstIP:    c.dst,
		HopLimit: uint8(p.TTL), // #nosec G115 // validated against maxTTL
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBufferExpectedSize(p.Size, 0)

	switch p.Protocol {
	case ProtocolICMP:
		ip.NextHeader = layers.IPProtocolICMPv6
		msg := &layers.ICMPv6{
			TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0),
		}
		if err := msg.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("failed to bind ICMPv6 checksum context: %w", err)
		}
		echo := &layers.ICMPv6Echo{Identifier: p.SessionID, SeqNumber: p.Seq}
		pl := payload(p.Size-ipv6HeaderLen-icmpHeaderLen, p.Pattern)
		if err := gopacket.SerializeLayers(buf, opts, msg, echo, pl); err != nil {
			return nil, fmt.Errorf("failed to serialize ICMPv6 probe: %w", err)
		}
	case ProtocolUDP:
		ip.NextHeader = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(p.SrcPort),
			DstPort: layers.UDPPort(p.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("failed to bind UDP checksum context: %w", err)
		}
		pl := payload(p.Size-ipv6HeaderLen-udpHeaderLen, p.Pattern)
		if err := gopacket.SerializeLayers(buf, opts, udp, pl); err != nil {
			return nil, fmt.Errorf("failed to serialize UDP probe: %w", err)
		}
	case ProtocolTCP:
		ip.NextHeader = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.SrcPort),
			DstPort: layers.TCPPort(p.DstPort),
			Seq:     p.ISN,
			SYN:     true,
			Window:  tcpProbeWindow,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("failed to bind TCP checksum context: %w", err)
		}
		if err := gopacket.SerializeLayers(buf, opts, tcp); err != nil {
			return nil, fmt.Errorf("failed to serialize TCP probe: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported probe protocol: %s", p.Protocol)
	}

	return buf.Bytes(), nil
}

func (c *v6Codec) Decode(f *Frame) (*Response, error) {
	if f.Transport == TransportTCP {
		return c.decodeTCP(f)
	}
	return c.decodeICMP(f)
}

func (c *v6Codec) decodeICMP(f *Frame) (*Response, error) {
	if len(f.Data) < icmpv6HeaderLen {
		return nil, fmt.Errorf("%w: %d byte ICMPv6 message", ErrTruncated, len(f.Data))
	}
	if !validICMPv6(f.From, c.src, f.Data) {
		return nil, fmt.Errorf("%w: ICMPv6 message from %s", ErrChecksumMismatch, f.From)
	}

	var msg layers.ICMPv6
	if err := msg.DecodeFromBytes(f.Data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	resp := &Response{From: f.From, At: f.At}
	switch msg.TypeCode.Type() {
	case layers.ICMPv6TypeEchoReply:
		if len(msg.Payload) < icmpEchoBodyLen {
			return nil, fmt.Errorf("%w: %d byte echo reply body", ErrTruncated, len(msg.Payload))
		}
		resp.Kind = KindEchoReply
		resp.ICMPID = binary.BigEndian.Uint16(msg.Payload[0:2])
		resp.ICMPSeq = binary.BigEndian.Uint16(msg.Payload[2:4])
		return resp, nil
	case layers.ICMPv6TypeTimeExceeded:
		resp.Kind = KindTimeExceeded
	case layers.ICMPv6TypeDestinationUnreachable:
		resp.Kind = KindDestUnreachable
		resp.PortUnreachable = msg.TypeCode.Code() == layers.ICMPv6CodePortUnreachable
	default:
		return nil, fmt.Errorf("%w: ICMPv6 type %d", ErrUnrecognized, msg.TypeCode.Type())
	}

	// Error bodies carry 4 unused bytes before the invoking packet.
	if len(msg.Payload) < icmpErrUnusedLen {
		return nil, fmt.Errorf("%w: %d byte error body", ErrTruncated, len(msg.Payload))
	}
	if err := extractQuotedV6(msg.Payload[icmpErrUnusedLen:], resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// extractQuotedV6 recovers the correlation fields from the quoted
// original packet. The IPv6 header is fixed-size; probes are sent
// without extension headers, so the transport segment follows directly.
func extractQuotedV6(quote []byte, resp *Response) error {
	if len(quote) < ipv6HeaderLen+quotedSegmentLen {
		return fmt.Errorf("%w: %d byte quoted packet", ErrTruncated, len(quote))
	}

	nextHeader := quote[6]
	seg := quote[ipv6HeaderLen:]

	switch nextHeader {
	case protoICMPv6:
		resp.ICMPID = binary.BigEndian.Uint16(seg[4:6])
		resp.ICMPSeq = binary.BigEndian.Uint16(seg[6:8])
	case protoUDP:
		resp.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		resp.DstPort = binary.BigEndian.Uint16(seg[2:4])
	case protoTCP:
		resp.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		resp.DstPort = binary.BigEndian.Uint16(seg[2:4])
		resp.TCPSeq = binary.BigEndian.Uint32(seg[4:8])
	default:
		return fmt.Errorf("%w: quoted next header %d", ErrUnrecognized, nextHeader)
	}
	return nil
}

func (c *v6Codec) decodeTCP(f *Frame) (*Response, error) {
	if len(f.Data) < tcpHeaderLen {
		return nil, fmt.Errorf("%w: %d byte TCP segment", ErrTruncated, len(f.Data))
	}
	if !validTCPv6(f.From, c.src, f.Data) {
		return nil, fmt.Errorf("%w: TCP segment from %s", ErrChecksumMismatch, f.From)
	}

	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(f.Data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return newTCPReply(&tcp, f)
}

const (
	ipv6HeaderLen   = 40
	icmpv6HeaderLen = 4
	icmpEchoBodyLen = 4
	// icmpErrUnusedLen is the reserved word between the ICMPv6 error
	// header and the invoking packet, RFC 4443.
	icmpErrUnusedLen = 4
)
