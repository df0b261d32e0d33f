// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"fmt"

	"github.com/telekom/hoplite/pkg/trace/codec"
)

// strategy captures the protocol-specific part of probing: how a probe
// for a sequence number is built, how the correlation token is derived
// from a decoded response, and which responses prove the target itself
// answered.
type strategy interface {
	// build fills in the protocol fields of a probe for one sequence
	// number and TTL. The returned token identifies the probe in the
	// outstanding set.
	build(seq uint16, ttl int) (codec.Probe, uint32)
	// match derives the probe token from a response. ok is false for
	// responses that cannot belong to this session.
	match(resp *codec.Response) (token uint32, ok bool)
	// terminal reports whether the response came from the target and
	// ends the TTL sweep.
	terminal(resp *codec.Response) bool
}

func newStrategy(s Settings) (strategy, error) {
	switch s.Protocol {
	case ProtocolICMP:
		return &icmpStrategy{settings: s}, nil
	case ProtocolUDP:
		return &udpStrategy{settings: s}, nil
	case ProtocolTCP:
		return &tcpStrategy{settings: s}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", s.Protocol)
	}
}

// probeToken packs two 16-bit correlation fields into one token.
func probeToken(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// icmpStrategy correlates echo probes by ICMP identifier and sequence.
// The identifier carries the session ID, so foreign echo traffic on the
// shared socket never matches.
type icmpStrategy struct {
	settings Settings
}

func (s *icmpStrategy) build(seq uint16, ttl int) (codec.Probe, uint32) {
	p := codec.Probe{
		Protocol:  ProtocolICMP,
		TTL:       ttl,
		Seq:       seq,
		SessionID: s.settings.SessionID,
		Size:      s.settings.PacketSize,
		Pattern:   s.settings.PayloadPattern,
		TOS:       s.settings.TOS,
	}
	return p, probeToken(s.settings.SessionID, seq)
}

func (s *icmpStrategy) match(resp *codec.Response) (uint32, bool) {
	switch resp.Kind {
	case codec.KindEchoReply, codec.KindTimeExceeded, codec.KindDestUnreachable:
	default:
		return 0, false
	}
	if resp.ICMPID != s.settings.SessionID {
		return 0, false
	}
	return probeToken(resp.ICMPID, resp.ICMPSeq), true
}

func (s *icmpStrategy) terminal(resp *codec.Response) bool {
	return resp.Kind == codec.KindEchoReply
}

// udpStrategy correlates by the source and destination port pair of the
// quoted datagram. The destination port varies with the sequence number
// so every in-flight probe owns a distinct pair.
type udpStrategy struct {
	settings Settings
}

const (
	// udpBasePort is the classic traceroute destination port base.
	udpBasePort = 33434
	// udpPortSpan bounds the destination port range so probes stay
	// inside the conventionally unused traceroute port window.
	udpPortSpan = 512
)

func (s *udpStrategy) dstPort(seq uint16) uint16 {
	return udpBasePort + seq%udpPortSpan
}

func (s *udpStrategy) build(seq uint16, ttl int) (codec.Probe, uint32) {
	dst := s.dstPort(seq)
	p := codec.Probe{
		Protocol: ProtocolUDP,
		TTL:      ttl,
		Seq:      seq,
		SrcPort:  s.settings.SourcePort,
		DstPort:  dst,
		Size:     s.settings.PacketSize,
		Pattern:  s.settings.PayloadPattern,
		TOS:      s.settings.TOS,
	}
	return p, probeToken(s.settings.SourcePort, dst)
}

func (s *udpStrategy) match(resp *codec.Response) (uint32, bool) {
	switch resp.Kind {
	case codec.KindTimeExceeded, codec.KindDestUnreachable:
	default:
		return 0, false
	}
	if resp.SrcPort != s.settings.SourcePort {
		return 0, false
	}
	return probeToken(resp.SrcPort, resp.DstPort), true
}

func (s *udpStrategy) terminal(resp *codec.Response) bool {
	return resp.Kind == codec.KindDestUnreachable && resp.PortUnreachable
}

// tcpStrategy correlates by the probe's initial sequence number. ICMP
// errors quote it directly; a SYN-ACK or RST from the target echoes it
// as the acknowledgment number minus one.
type tcpStrategy struct {
	settings Settings
}

func (s *tcpStrategy) build(seq uint16, ttl int) (codec.Probe, uint32) {
	isn := probeToken(s.settings.SessionID, seq)
	p := codec.Probe{
		Protocol: ProtocolTCP,
		TTL:      ttl,
		Seq:      seq,
		SrcPort:  s.settings.SourcePort,
		DstPort:  s.settings.TargetPort,
		ISN:      isn,
		TOS:      s.settings.TOS,
	}
	return p, isn
}

func (s *tcpStrategy) match(resp *codec.Response) (uint32, bool) {
	switch resp.Kind {
	case codec.KindTimeExceeded, codec.KindDestUnreachable:
		if resp.SrcPort != s.settings.SourcePort || resp.DstPort != s.settings.TargetPort {
			return 0, false
		}
	case codec.KindTCPReply:
		// Direct replies swap the port pair.
		if resp.SrcPort != s.settings.TargetPort || resp.DstPort != s.settings.SourcePort {
			return 0, false
		}
	default:
		return 0, false
	}
	if uint16(resp.TCPSeq>>16) != s.settings.SessionID {
		return 0, false
	}
	return resp.TCPSeq, true
}

func (s *tcpStrategy) terminal(resp *codec.Response) bool {
	if resp.Kind == codec.KindTCPReply {
		return true
	}
	return resp.Kind == codec.KindDestUnreachable && resp.PortUnreachable
}
