// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package trace implements a continuous multi-protocol route tracer. A
// Session probes the path to a single target with ICMP, UDP or TCP
// probes at increasing TTLs, correlates the ICMP errors and direct
// replies coming back and maintains per-hop RTT statistics over
// repeated rounds.
package trace

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/trace/codec"
)

const (
	// basePort is the lower bound of the local port range for UDP and
	// TCP probes.
	basePort = 33000
	// portRange is the range of ports to generate a random port from
	portRange = 10000
)

// Session is one live trace towards a single target. Create it with
// New, drive it with Run and read its state with Snapshot at any time.
type Session struct {
	settings Settings
	store    *store
	metrics  metrics
	pending  *outstanding
	tracer   oteltrace.Tracer

	// newConn abstracts raw socket creation
	newConn func(ctx context.Context, s Settings) (packetConn, error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	fatal   error
}

// New validates the settings, fills in defaults for optional fields and
// builds a session. The session does no I/O until Run is called.
func New(settings Settings) (*Session, error) {
	applyDefaults(&settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		settings: settings,
		store:    newStore(settings),
		metrics:  newMetrics(settings.Protocol),
		pending:  newOutstanding(),
		tracer:   otel.Tracer("hoplite.trace"),
		newConn:  newRawConn,
	}, nil
}

func applyDefaults(s *Settings) {
	if s.FirstTTL == 0 {
		s.FirstTTL = 1
	}
	if s.MaxTTL == 0 {
		s.MaxTTL = 30
	}
	if s.Timeout == 0 {
		s.Timeout = time.Second
	}
	if s.RoundInterval == 0 {
		s.RoundInterval = time.Second
	}
	if s.GracePeriod == 0 {
		s.GracePeriod = 100 * time.Millisecond
	}
	if s.PacketSize == 0 {
		s.PacketSize = defaultPacketSize
	}
	if s.InitialSeq == 0 {
		s.InitialSeq = defaultInitialSeq
	}
	if s.SessionID == 0 {
		s.SessionID = uint16(rand.N(0xffff) + 1) // #nosec G404 // math.rand is fine here, we're not doing encryption
	}
	if s.SourcePort == 0 {
		s.SourcePort = uint16(rand.N(portRange) + basePort) // #nosec G404 G115 // bounded below 65535
	}
	if s.TargetPort == 0 && s.Protocol == ProtocolTCP {
		s.TargetPort = defaultTargetPort
	}
}

// Run executes rounds until the context is cancelled, Stop is called or
// MaxRounds is hit. It blocks for the whole session lifetime.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.cancel = cancel
	s.fatal = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log := logger.FromContext(ctx)

	src := s.settings.SourceIP
	if src == nil {
		var err error
		if src, err = localSourceIP(s.settings.Target); err != nil {
			return err
		}
	}

	strat, err := newStrategy(s.settings)
	if err != nil {
		return err
	}

	conn, err := s.newConn(ctx, s.settings)
	if err != nil {
		return fmt.Errorf("failed to open trace sockets: %w", err)
	}
	defer func() { _ = conn.Close() }()

	cdc := codec.New(src, s.settings.Target)
	corr := &correlator{
		codec:    cdc,
		strategy: strat,
		pending:  s.pending,
		store:    s.store,
		metrics:  &s.metrics,
	}

	// The receive loop outlives round cancellation so late frames are
	// still drained; it is shut down separately once the rounds end.
	recvCtx, stopRecv := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receive(recvCtx, conn, corr)
	}()

	sched := &scheduler{
		settings: s.settings,
		strategy: strat,
		codec:    cdc,
		conn:     conn,
		pending:  s.pending,
		store:    s.store,
		metrics:  &s.metrics,
		tracer:   s.tracer,
		seq:      s.settings.InitialSeq,
	}

	log.InfoContext(ctx, "Trace session started",
		"target", s.settings.Target.String(),
		"protocol", s.settings.Protocol.String(),
		"source", src.String(),
		"maxTTL", s.settings.MaxTTL)

	runErr := s.runRounds(ctx, sched)

	stopRecv()
	wg.Wait()

	if runErr != nil {
		log.ErrorContext(ctx, "Trace session failed", "error", runErr)
		return runErr
	}
	log.InfoContext(ctx, "Trace session finished")
	return nil
}

func (s *Session) runRounds(ctx context.Context, sched *scheduler) error {
	for round := 1; ; round++ {
		start := time.Now()

		if _, err := sched.runRound(ctx, round); err != nil {
			return err
		}
		if err := s.fatalErr(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if s.settings.MaxRounds > 0 && round >= s.settings.MaxRounds {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(start.Add(s.settings.RoundInterval))):
		}
	}
}

// receive pumps inbound frames into the correlator until its context is
// cancelled.
func (s *Session) receive(ctx context.Context, conn packetConn, corr *correlator) {
	log := logger.FromContext(ctx)
	for {
		f, err := conn.Recv(ctx, readPollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if transientIOError(err) {
				continue
			}
			log.ErrorContext(ctx, "Failed to receive frames", "error", err)
			s.fail(err)
			return
		}
		if f == nil {
			continue
		}
		corr.onFrame(ctx, f)
	}
}

// Stop requests a cooperative shutdown of a running session. It returns
// immediately; Run returns once the current round is wound down.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Snapshot returns a consistent copy of the current route state. Safe
// to call from any goroutine at any time.
func (s *Session) Snapshot() Snapshot {
	return s.store.snapshot()
}

// GetMetricCollectors returns the session's prometheus collectors for
// registration.
func (s *Session) GetMetricCollectors() []prometheus.Collector {
	return s.metrics.GetMetricCollectors()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) fatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// localSourceIP discovers the local address the kernel would route
// towards the target from, without sending anything.
func localSourceIP(target net.IP) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(target.String(), "53"))
	if err != nil {
		return nil, fmt.Errorf("failed to discover source address: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
