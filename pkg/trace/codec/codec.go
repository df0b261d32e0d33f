// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"net"
	"slices"
	"time"
)

// Protocol represents the probing protocol used for the trace.
type Protocol string

// Protocol constants for the trace.
const (
	ProtocolICMP Protocol = "icmp"
	ProtocolUDP  Protocol = "udp"
	ProtocolTCP  Protocol = "tcp"
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP, ProtocolUDP, ProtocolTCP:
		return string(p)
	default:
		return "unknown"
	}
}

func (p Protocol) IsValid() bool {
	valid := []Protocol{ProtocolICMP, ProtocolUDP, ProtocolTCP}
	return slices.Contains(valid, p)
}

// Transport identifies which raw socket captured an inbound frame.
// ICMP errors and echo replies arrive on the ICMP socket, direct
// SYN-ACK/RST segments on the TCP socket.
type Transport int

const (
	TransportICMP Transport = iota
	TransportTCP
)

// Probe describes a single outbound probe to be serialized.
// The caller owns sequence allocation and token derivation; the codec
// only embeds the given fields into the wire format.
type Probe struct {
	Protocol Protocol
	// TTL is the IPv4 time-to-live or IPv6 hop limit of the probe.
	TTL int
	// Seq is the session-wide monotonic sequence number.
	Seq uint16
	// SessionID disambiguates this process's probes from unrelated
	// traffic sharing the raw socket. It becomes the ICMP echo
	// identifier and the upper half of the TCP initial sequence number.
	SessionID uint16
	// SrcPort and DstPort apply to UDP and TCP probes only.
	SrcPort uint16
	DstPort uint16
	// ISN is the TCP initial sequence number carrying the token.
	ISN uint32
	// Size is the desired total IP packet size. Values below the
	// protocol minimum are padded up, ICMP and UDP only.
	Size int
	// Pattern is the repeating payload filler byte.
	Pattern byte
	// TOS is the IPv4 type-of-service / IPv6 traffic class value.
	TOS uint8
}

// Kind classifies a decoded inbound frame.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindTimeExceeded
	KindDestUnreachable
	KindEchoReply
	KindTCPReply
)

func (k Kind) String() string {
	switch k {
	case KindTimeExceeded:
		return "time-exceeded"
	case KindDestUnreachable:
		return "destination-unreachable"
	case KindEchoReply:
		return "echo-reply"
	case KindTCPReply:
		return "tcp-reply"
	default:
		return "unrecognized"
	}
}

// Frame is one raw inbound frame handed over by the I/O boundary.
// Data starts at the transport header, the kernel strips the IP header
// on raw socket reads for both address families.
type Frame struct {
	Data      []byte
	From      net.IP
	At        time.Time
	Transport Transport
}

// Response is a parsed inbound frame. It is transient: constructed by
// the codec and consumed immediately by the correlator.
//
// The token fields are recovered either from the reply itself (echo
// reply, SYN-ACK) or from the quoted original probe inside an ICMP
// error payload. Only the fields matching the probe protocol are set.
type Response struct {
	Kind Kind
	From net.IP
	At   time.Time

	// PortUnreachable is normalized across ICMPv4 code 3 and ICMPv6 code 4.
	PortUnreachable bool

	ICMPID  uint16
	ICMPSeq uint16

	SrcPort uint16
	DstPort uint16

	// TCPSeq is the initial sequence number of the original probe,
	// recovered from the quoted TCP header or derived as ack-1 from a
	// SYN-ACK/RST. Zero when the reply carried no usable ack.
	TCPSeq uint32
}

// Codec builds outbound probe packets and parses inbound frames for one
// address family. IPv4 and IPv6 are structurally different wire formats,
// so the codec is selected once per session based on the target address.
type Codec interface {
	// Encode serializes the probe. For IPv4 the result is a full IP
	// packet suitable for an IP_HDRINCL raw socket; for IPv6 it is the
	// bare transport segment, the hop limit travels out of band.
	Encode(p *Probe) ([]byte, error)
	// Decode parses an inbound frame into a Response. Frames that are
	// malformed, carry an invalid checksum or are of no known shape
	// return an error wrapping one of the sentinel decode errors.
	Decode(f *Frame) (*Response, error)
}

// New selects the address-family codec for the given source and target.
func New(src, dst net.IP) Codec {
	if dst.To4() != nil {
		return &v4Codec{src: src.To4(), dst: dst.To4()}
	}
	return &v6Codec{src: src.To16(), dst: dst.To16()}
}
