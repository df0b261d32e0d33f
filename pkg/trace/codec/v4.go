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

// v4Codec builds full IPv4 packets for an IP_HDRINCL raw socket and
// parses inbound ICMPv4 messages and TCP segments.
type v4Codec struct {
	src net.IP
	dst net.IP
}

func (c *v4Codec) Encode(p *Probe) ([]byte, error) {
	ip := &layers.IPv4{
		Version: 4,
		IHL:     ipv4HeaderWords,
		TOS:     p.TOS,
		Id:      p.Seq,
		Flags:   layers.IPv4DontFragment,
		TTL:     uint8(p.TTL), // #nosec G115 // validated against maxTTL
		SrcIP:   c.src,
		DstIP:   c.dst,
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBufferExpectedSize(p.Size, 0)

	switch p.Protocol {
	case ProtocolICMP:
		ip.Protocol = layers.IPProtocolICMPv4
		echo := &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       p.SessionID,
			Seq:      p.Seq,
		}
		pl := payload(p.Size-ipv4HeaderLen-icmpHeaderLen, p.Pattern)
		if err := gopacket.SerializeLayers(buf, opts, ip, echo, pl); err != nil {
			return nil, fmt.Errorf("failed to serialize ICMP probe: %w", err)
		}
	case ProtocolUDP:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(p.SrcPort),
			DstPort: layers.UDPPort(p.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("failed to bind UDP checksum context: %w", err)
		}
		pl := payload(p.Size-ipv4HeaderLen-udpHeaderLen, p.Pattern)
		if err := gopacket.SerializeLayers(buf, opts, ip, udp, pl); err != nil {
			return nil, fmt.Errorf("failed to serialize UDP probe: %w", err)
		}
	case ProtocolTCP:
		ip.Protocol = layers.IPProtocolTCP
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
		if err := gopacket.SerializeLayers(buf, opts, ip, tcp); err != nil {
			return nil, fmt.Errorf("failed to serialize TCP probe: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported probe protocol: %s", p.Protocol)
	}

	return buf.Bytes(), nil
}

func (c *v4Codec) Decode(f *Frame) (*Response, error) {
	if f.Transport == TransportTCP {
		return c.decodeTCP(f)
	}
	return c.decodeICMP(f)
}

// decodeICMP parses an ICMPv4 message. Raw socket reads strip the outer
// IP header, so the buffer starts at the ICMP header.
func (c *v4Codec) decodeICMP(f *Frame) (*Response, error) {
	if len(f.Data) < icmpHeaderLen {
		return nil, fmt.Errorf("%w: %d byte ICMP message", ErrTruncated, len(f.Data))
	}
	if !validICMPv4(f.Data) {
		return nil, fmt.Errorf("%w: ICMPv4 message from %s", ErrChecksumMismatch, f.From)
	}

	var msg layers.ICMPv4
	if err := msg.DecodeFromBytes(f.Data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	resp := &Response{From: f.From, At: f.At}
	switch msg.TypeCode.Type() {
	case layers.ICMPv4TypeEchoReply:
		resp.Kind = KindEchoReply
		resp.ICMPID = msg.Id
		resp.ICMPSeq = msg.Seq
		return resp, nil
	case layers.ICMPv4TypeTimeExceeded:
		resp.Kind = KindTimeExceeded
	case layers.ICMPv4TypeDestinationUnreachable:
		resp.Kind = KindDestUnreachable
		resp.PortUnreachable = msg.TypeCode.Code() == layers.ICMPv4CodePort
	default:
		return nil, fmt.Errorf("%w: ICMPv4 type %d", ErrUnrecognized, msg.TypeCode.Type())
	}

	if err := extractQuotedV4(msg.Payload, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// extractQuotedV4 recovers the correlation fields from the original
// datagram quoted inside an ICMP error payload. Routers are only
// required to quote the IP header plus the first 8 bytes of the
// transport header, so the segment is read at fixed offsets instead of
// being decoded as a full header.
func extractQuotedV4(quote []byte, resp *Response) error {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(quote, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%w: quoted IPv4 header: %v", ErrTruncated, err)
	}

	seg := ip.Payload
	if len(seg) < quotedSegmentLen {
		return fmt.Errorf("%w: %d byte quoted segment", ErrTruncated, len(seg))
	}

	switch ip.Protocol {
	case layers.IPProtocolICMPv4:
		resp.ICMPID = binary.BigEndian.Uint16(seg[4:6])
		resp.ICMPSeq = binary.BigEndian.Uint16(seg[6:8])
	case layers.IPProtocolUDP:
		resp.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		resp.DstPort = binary.BigEndian.Uint16(seg[2:4])
	case layers.IPProtocolTCP:
		resp.SrcPort = binary.BigEndian.Uint16(seg[0:2])
		resp.DstPort = binary.BigEndian.Uint16(seg[2:4])
		resp.TCPSeq = binary.BigEndian.Uint32(seg[4:8])
	default:
		return fmt.Errorf("%w: quoted protocol %d", ErrUnrecognized, ip.Protocol)
	}
	return nil
}

// decodeTCP parses a direct TCP reply from the target, a SYN-ACK or RST
// answering our SYN probe.
func (c *v4Codec) decodeTCP(f *Frame) (*Response, error) {
	if len(f.Data) < tcpHeaderLen {
		return nil, fmt.Errorf("%w: %d byte TCP segment", ErrTruncated, len(f.Data))
	}
	if !validTCPv4(f.From, c.src, f.Data) {
		return nil, fmt.Errorf("%w: TCP segment from %s", ErrChecksumMismatch, f.From)
	}

	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(f.Data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return newTCPReply(&tcp, f)
}

// newTCPReply classifies a parsed TCP segment. Only SYN-ACK and RST are
// of interest; anything else on the shared raw socket is unrelated
// traffic. The probe's ISN is recovered as ack-1, a segment without ACK
// carries no usable token and keeps TCPSeq zero.
func newTCPReply(tcp *layers.TCP, f *Frame) (*Response, error) {
	if !(tcp.SYN && tcp.ACK) && !tcp.RST {
		return nil, fmt.Errorf("%w: TCP segment without SYN-ACK or RST", ErrUnrecognized)
	}

	resp := &Response{
		Kind:    KindTCPReply,
		From:    f.From,
		At:      f.At,
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
	}
	if tcp.ACK {
		resp.TCPSeq = tcp.Ack - 1
	}
	return resp, nil
}

// payload builds a pattern-filled probe payload of the given length.
func payload(n int, pattern byte) gopacket.Payload {
	if n < 0 {
		n = 0
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = pattern
	}
	return gopacket.Payload(b)
}

const (
	ipv4HeaderLen   = 20
	ipv4HeaderWords = 5
	icmpHeaderLen   = 8
	udpHeaderLen    = 8
	tcpHeaderLen    = 20
	// quotedSegmentLen is the slice of the original transport header a
	// router must quote in an ICMP error, RFC 792.
	quotedSegmentLen = 8
	tcpProbeWindow   = 1024
)
