// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the user-facing configuration of the process
// and its translation into trace session settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/api"
	"github.com/telekom/hoplite/pkg/report"
	"github.com/telekom/hoplite/pkg/telemetry"
	"github.com/telekom/hoplite/pkg/trace"
)

type Config struct {
	// Target is the host name or IP address to trace to
	Target string `yaml:"target" mapstructure:"target"`
	// Trace configures the probing behavior
	Trace TraceConfig `yaml:"trace" mapstructure:"trace"`
	// Report configures the final report written on shutdown
	Report ReportConfig `yaml:"report" mapstructure:"report"`
	// Api is the configuration for the api server
	Api api.Config `yaml:"api" mapstructure:"api"`
	// Telemetry is the configuration for the telemetry
	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

// TraceConfig is the user-facing session configuration.
type TraceConfig struct {
	// Protocol is the probing protocol: icmp, udp or tcp
	Protocol string `yaml:"protocol" mapstructure:"protocol"`
	// IPv6 prefers an IPv6 address when the target resolves to both
	IPv6 bool `yaml:"ipv6" mapstructure:"ipv6"`
	// SourcePort pins the local port for UDP and TCP probes
	SourcePort uint16 `yaml:"sourcePort" mapstructure:"sourcePort"`
	// TargetPort is the destination port for TCP probes
	TargetPort uint16 `yaml:"targetPort" mapstructure:"targetPort"`
	// FirstTTL is the TTL the sweep starts at
	FirstTTL int `yaml:"firstTTL" mapstructure:"firstTTL"`
	// MaxTTL is the deepest TTL probed
	MaxTTL int `yaml:"maxTTL" mapstructure:"maxTTL"`
	// Pacing is the minimum delay between probes
	Pacing time.Duration `yaml:"pacing" mapstructure:"pacing"`
	// Timeout is the per-probe response deadline
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Interval is the minimum duration of one round
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// GracePeriod bounds response draining after the target replied
	GracePeriod time.Duration `yaml:"gracePeriod" mapstructure:"gracePeriod"`
	// MaxRounds limits the number of rounds, 0 runs until stopped
	MaxRounds int `yaml:"maxRounds" mapstructure:"maxRounds"`
	// PacketSize is the probe packet size including the IP header
	PacketSize int `yaml:"packetSize" mapstructure:"packetSize"`
	// PayloadPattern is the filler byte of the probe payload
	PayloadPattern uint8 `yaml:"payloadPattern" mapstructure:"payloadPattern"`
	// TOS is the IP type-of-service / traffic class value
	TOS uint8 `yaml:"tos" mapstructure:"tos"`
	// InitialSeq is the first probe sequence number of the session
	InitialSeq uint16 `yaml:"initialSequence" mapstructure:"initialSequence"`
}

// ReportConfig configures the snapshot report written when the session
// ends.
type ReportConfig struct {
	// Format is one of table, csv or json
	Format report.Format `yaml:"format" mapstructure:"format"`
	// ResolveNames enables reverse DNS lookups for hop addresses
	ResolveNames bool `yaml:"resolveNames" mapstructure:"resolveNames"`
}

// HasTelemetry returns true if the config has telemetry enabled
func (c *Config) HasTelemetry() bool {
	return c.Telemetry.Enabled
}

// HasApi returns true if the api server is configured
func (c *Config) HasApi() bool {
	return c.Api.ListenAddress != ""
}

// Validate validates the startup config
func (c *Config) Validate(ctx context.Context) (err error) {
	log := logger.FromContext(ctx)

	if c.Target == "" {
		log.Error("A target must be configured")
		err = errors.Join(err, ErrInvalidConfig{Field: "target", Reason: "must not be empty"})
	}

	if vErr := c.Trace.Validate(); vErr != nil {
		log.Error("The trace configuration is invalid")
		err = errors.Join(err, vErr)
	}

	if vErr := c.Report.Format.Validate(); vErr != nil {
		log.Error("The report configuration is invalid")
		err = errors.Join(err, vErr)
	}

	if c.HasApi() {
		if vErr := c.Api.Validate(); vErr != nil {
			log.Error("The api configuration is invalid")
			err = errors.Join(err, vErr)
		}
	}

	if c.HasTelemetry() {
		if vErr := c.Telemetry.Validate(ctx); vErr != nil {
			log.Error("The telemetry configuration is invalid")
			err = errors.Join(err, vErr)
		}
	}

	if err != nil {
		return fmt.Errorf("validation of configuration failed: %w", err)
	}
	return nil
}

// Validate validates the trace configuration. Bounds that depend on
// defaults are checked again by the session itself.
func (c *TraceConfig) Validate() error {
	switch c.Protocol {
	case "", string(trace.ProtocolICMP), string(trace.ProtocolUDP), string(trace.ProtocolTCP):
	default:
		return ErrInvalidConfig{Field: "trace.protocol", Reason: fmt.Sprintf("unknown protocol %q", c.Protocol)}
	}

	if c.FirstTTL < 0 || c.MaxTTL < 0 {
		return ErrInvalidConfig{Field: "trace.firstTTL", Reason: "must not be negative"}
	}
	if c.MaxTTL != 0 && c.FirstTTL > c.MaxTTL {
		return ErrInvalidConfig{Field: "trace.maxTTL", Reason: "must not be below firstTTL"}
	}
	if c.Timeout < 0 || c.Pacing < 0 || c.Interval < 0 || c.GracePeriod < 0 {
		return ErrInvalidConfig{Field: "trace.timeout", Reason: "durations must not be negative"}
	}
	if c.MaxRounds < 0 {
		return ErrInvalidConfig{Field: "trace.maxRounds", Reason: "must not be negative"}
	}
	return nil
}

// TraceSettings resolves the target and converts the configuration
// into session settings.
func (c *Config) TraceSettings(ctx context.Context) (trace.Settings, error) {
	ip, err := resolveTarget(ctx, c.Target, c.Trace.IPv6)
	if err != nil {
		return trace.Settings{}, err
	}

	protocol := trace.Protocol(c.Trace.Protocol)
	if c.Trace.Protocol == "" {
		protocol = trace.ProtocolICMP
	}

	return trace.Settings{
		Target:         ip,
		Protocol:       protocol,
		SourcePort:     c.Trace.SourcePort,
		TargetPort:     c.Trace.TargetPort,
		FirstTTL:       c.Trace.FirstTTL,
		MaxTTL:         c.Trace.MaxTTL,
		Pacing:         c.Trace.Pacing,
		Timeout:        c.Trace.Timeout,
		RoundInterval:  c.Trace.Interval,
		GracePeriod:    c.Trace.GracePeriod,
		MaxRounds:      c.Trace.MaxRounds,
		PacketSize:     c.Trace.PacketSize,
		PayloadPattern: c.Trace.PayloadPattern,
		TOS:            c.Trace.TOS,
		InitialSeq:     c.Trace.InitialSeq,
	}, nil
}

// resolveTarget turns the configured target into an IP address,
// preferring the requested address family.
func resolveTarget(ctx context.Context, target string, ipv6 bool) (net.IP, error) {
	if ip := net.ParseIP(target); ip != nil {
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", target)
	if err != nil {
		return nil, ErrTargetUnresolvable{Target: target, Err: err}
	}

	var fallback net.IP
	for _, ip := range ips {
		isV4 := ip.To4() != nil
		if isV4 != ipv6 {
			return ip, nil
		}
		if fallback == nil {
			fallback = ip
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrTargetUnresolvable{Target: target, Err: errors.New("no usable address")}
}
