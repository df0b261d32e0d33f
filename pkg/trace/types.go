// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/telekom/hoplite/pkg/trace/codec"
)

// Protocol is the probing protocol of a session. It is defined by the
// codec package, which owns the wire formats.
type Protocol = codec.Protocol

// Protocol constants for the trace session.
const (
	ProtocolICMP = codec.ProtocolICMP
	ProtocolUDP  = codec.ProtocolUDP
	ProtocolTCP  = codec.ProtocolTCP
)

// Settings is the immutable configuration of one trace session. It is
// supplied once at session start; the engine never reloads it.
type Settings struct {
	// Target is the resolved IP address to trace to. Name resolution
	// happens outside the engine.
	Target net.IP
	// Protocol is the probing protocol, fixed for the session lifetime.
	Protocol Protocol
	// SourceIP is the local address probes are sent from. Discovered
	// automatically when nil.
	SourceIP net.IP
	// SourcePort is the fixed local port for UDP and TCP probes.
	// A random port from the trace range is picked when zero.
	SourcePort uint16
	// TargetPort is the destination port for TCP probes.
	TargetPort uint16
	// SessionID disambiguates this session's probes from unrelated
	// traffic on the shared raw socket. Random when zero.
	SessionID uint16
	// FirstTTL and MaxTTL bound the TTL sweep of every round.
	FirstTTL int
	MaxTTL   int
	// Pacing is the minimum interval between two probe sends.
	Pacing time.Duration
	// Timeout is the per-probe response deadline.
	Timeout time.Duration
	// RoundInterval is the minimum duration of a round; the next round
	// starts no earlier than this after the previous one began.
	RoundInterval time.Duration
	// GracePeriod bounds how long the engine keeps draining in-flight
	// responses after the target answered or a stop was requested.
	GracePeriod time.Duration
	// MaxRounds limits the number of rounds, zero means run until stopped.
	MaxRounds int
	// PacketSize is the total IP packet size for ICMP and UDP probes.
	PacketSize int
	// PayloadPattern is the repeating filler byte of the probe payload.
	PayloadPattern byte
	// TOS is the IPv4 type-of-service / IPv6 traffic class value.
	TOS uint8
	// InitialSeq is the first sequence number of the session.
	InitialSeq uint16
}

func (s *Settings) Validate() error {
	if s.Target == nil {
		return ErrInvalidSettings{Field: "target", Reason: "must not be empty"}
	}
	if !s.Protocol.IsValid() {
		return ErrInvalidSettings{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", string(s.Protocol))}
	}
	if s.FirstTTL < 1 || s.FirstTTL > maxTTLLimit {
		return ErrInvalidSettings{Field: "firstTTL", Reason: fmt.Sprintf("must be between 1 and %d", maxTTLLimit)}
	}
	if s.MaxTTL < s.FirstTTL || s.MaxTTL > maxTTLLimit {
		return ErrInvalidSettings{Field: "maxTTL", Reason: fmt.Sprintf("must be between firstTTL and %d", maxTTLLimit)}
	}
	if s.Timeout <= 0 {
		return ErrInvalidSettings{Field: "timeout", Reason: "must be greater than 0"}
	}
	if s.Pacing < 0 {
		return ErrInvalidSettings{Field: "pacing", Reason: "must not be negative"}
	}
	if s.PacketSize != 0 && (s.PacketSize < minPacketSize || s.PacketSize > maxPacketSize) {
		return ErrInvalidSettings{
			Field:  "packetSize",
			Reason: fmt.Sprintf("must be between %d and %d", minPacketSize, maxPacketSize),
		}
	}
	return nil
}

// TTL and packet size bounds. A TTL is a single byte on the wire and a
// probe must at least hold an IP and a transport header.
const (
	maxTTLLimit   = 255
	minPacketSize = 28
	maxPacketSize = 1024
)

// Defaults applied by Session for zero-valued optional settings.
const (
	defaultPacketSize = 84
	defaultTargetPort = 80
	defaultInitialSeq = 33000
)

// HopAddress represents an address observed at a hop.
type HopAddress struct {
	IP   string `json:"ip" yaml:"ip"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
}

func newHopAddress(ip net.IP, port int) HopAddress {
	if ip == nil {
		return HopAddress{}
	}
	return HopAddress{IP: ip.String(), Port: port}
}

func (a HopAddress) String() string {
	if a.Port != 0 {
		return fmt.Sprintf("%s:%d", a.IP, a.Port)
	}
	return a.IP
}

// Hop is the accumulated knowledge for one TTL value of the trace.
// Addrs holds every distinct responder ever observed at this TTL in
// observation order; more than one entry means the path changed or the
// route is load-balanced (ECMP).
type Hop struct {
	TTL         int             `json:"ttl" yaml:"ttl"`
	Addrs       []HopAddress    `json:"addrs" yaml:"addrs"`
	PathChanged bool            `json:"pathChanged" yaml:"pathChanged"`
	Sent        int             `json:"sent" yaml:"sent"`
	Lost        int             `json:"lost" yaml:"lost"`
	Samples     []time.Duration `json:"-" yaml:"-"`
	SampleCount int             `json:"sampleCount" yaml:"sampleCount"`
	Last        time.Duration   `json:"-" yaml:"-"`
	Best        time.Duration   `json:"-" yaml:"-"`
	Worst       time.Duration   `json:"-" yaml:"-"`
	Mean        time.Duration   `json:"-" yaml:"-"`
	Reached     bool            `json:"reached" yaml:"reached"`
}

func (h Hop) MarshalJSON() ([]byte, error) {
	type alias Hop
	return json.Marshal(&struct {
		Last  string `json:"last"`
		Best  string `json:"best"`
		Worst string `json:"worst"`
		Mean  string `json:"mean"`
		alias
	}{
		Last:  h.Last.String(),
		Best:  h.Best.String(),
		Worst: h.Worst.String(),
		Mean:  h.Mean.String(),
		alias: alias(h),
	})
}

func (h Hop) String() string {
	reached := ""
	if h.Reached {
		reached = "  (reached)"
	}

	addr := "*"
	if len(h.Addrs) > 0 {
		addr = h.Addrs[len(h.Addrs)-1].String()
	}

	return fmt.Sprintf("%-3d  %-45.45s  %s%s",
		h.TTL, addr, h.Last.String(), reached)
}

// RoundState is the completion state of a round.
type RoundState string

const (
	RoundInProgress RoundState = "in_progress"
	RoundCompleted  RoundState = "completed"
	RoundTimedOut   RoundState = "timed_out"
)

// Snapshot is an immutable point-in-time copy of the trace model. It is
// safe to retain and share; nothing in it aliases engine state.
type Snapshot struct {
	Target        string     `json:"target" yaml:"target"`
	Protocol      Protocol   `json:"protocol" yaml:"protocol"`
	Round         int        `json:"round" yaml:"round"`
	State         RoundState `json:"state" yaml:"state"`
	TargetReached bool       `json:"targetReached" yaml:"targetReached"`
	// ReachedTTL is the lowest TTL at which the target has ever
	// replied, zero while unreached.
	ReachedTTL int       `json:"reachedTTL,omitempty" yaml:"reachedTTL,omitempty"`
	Hops       []Hop     `json:"hops" yaml:"hops"`
	Time       time.Time `json:"time" yaml:"time"`
}
