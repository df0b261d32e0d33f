// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/trace/codec"
)

// sweepInterval is how often the resolution phase collects expired
// probes.
const sweepInterval = 10 * time.Millisecond

// scheduler drives one round after another: it sweeps the TTL range,
// paces probe sends and waits until every probe of the round is
// resolved by a response or its deadline.
type scheduler struct {
	settings Settings
	strategy strategy
	codec    codec.Codec
	conn     packetConn
	pending  *outstanding
	store    *store
	metrics  *metrics
	tracer   oteltrace.Tracer
	seq      uint16
}

// runRound executes one full round. The returned state is what the
// round ended as; a non-nil error is fatal for the session.
func (s *scheduler) runRound(ctx context.Context, round int) (state RoundState, err error) {
	ctx, span := s.tracer.Start(ctx, "trace.round", oteltrace.WithAttributes(
		attribute.Int("trace.round", round),
		attribute.String("trace.protocol", s.settings.Protocol.String()),
	))
	defer span.End()
	log := logger.FromContext(ctx)

	s.store.beginRound(round)
	defer func() {
		s.store.finishRound(state)
		log.DebugContext(ctx, "Round finished", "round", round, "state", string(state))
	}()

	// Once the target is known to answer at some TTL, later rounds stop
	// probing past it.
	limit := s.settings.MaxTTL
	if r := s.store.reachedTTLLimit(); r > 0 && r < limit {
		limit = r
	}

	for ttl := s.settings.FirstTTL; ttl <= limit && ctx.Err() == nil; ttl++ {
		if dErr := s.dispatch(ctx, ttl); dErr != nil {
			if transientIOError(dErr) {
				// The probe never left; the next round re-probes this TTL.
				log.DebugContext(ctx, "Transient send failure, skipping TTL", "ttl", ttl, "error", dErr)
				continue
			}
			s.abortRound()
			return RoundTimedOut, recordError(ctx, span, dErr, "failed to dispatch probe", "ttl", ttl)
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.settings.Pacing):
		}

		// A terminal response may arrive while the sweep is still
		// running, including during the pacing sleep, and shortens it
		// right away.
		if r := s.store.reachedTTLLimit(); r > 0 && r < limit {
			limit = r
		}
	}

	state = s.awaitResolution(ctx)
	if state == RoundCompleted {
		s.metrics.rounds.Inc()
	}
	return state, nil
}

// dispatch builds, registers and sends the probe for one TTL.
func (s *scheduler) dispatch(ctx context.Context, ttl int) error {
	seq := s.seq
	s.seq++

	probe, token := s.strategy.build(seq, ttl)
	pkt, err := s.codec.Encode(&probe)
	if err != nil {
		return err
	}

	now := time.Now()
	s.pending.insert(token, &pendingProbe{
		ttl:      ttl,
		seq:      seq,
		sentAt:   now,
		deadline: now.Add(s.settings.Timeout),
	})

	if err = s.conn.Send(ctx, pkt, ttl, s.settings.Target); err != nil {
		// The probe never hit the wire, it must not count as sent or lost.
		s.pending.remove(token)
		return err
	}

	s.store.recordSent(ttl)
	s.metrics.probesSent.WithLabelValues(strconv.Itoa(ttl)).Inc()
	return nil
}

// awaitResolution sweeps the outstanding set until every probe of the
// round is matched or expired. After the target answered, leftovers get
// at most the grace period before the round is cut. Cancellation arms
// the same grace window instead of dropping in-flight probes, so
// responses already on the way still land as RTT samples.
func (s *scheduler) awaitResolution(ctx context.Context) RoundState {
	state := RoundCompleted
	done := ctx.Done()
	var graceDeadline time.Time

	stop := func() {
		state = RoundTimedOut
		if d := time.Now().Add(s.settings.GracePeriod); graceDeadline.IsZero() || d.Before(graceDeadline) {
			graceDeadline = d
		}
		done = nil
	}
	if ctx.Err() != nil {
		stop()
	}

	for {
		for _, p := range s.pending.expire(time.Now()) {
			s.recordLost(p)
		}
		if !s.pending.unresolved() {
			s.pending.drain()
			return state
		}

		if graceDeadline.IsZero() && s.store.reachedTTLLimit() > 0 {
			graceDeadline = time.Now().Add(s.settings.GracePeriod)
		}
		if !graceDeadline.IsZero() && time.Now().After(graceDeadline) {
			for _, p := range s.pending.drain() {
				s.recordLost(p)
			}
			return state
		}

		select {
		case <-done:
			stop()
		case <-time.After(sweepInterval):
		}
	}
}

// abortRound force-expires everything still in flight.
func (s *scheduler) abortRound() {
	for _, p := range s.pending.drain() {
		s.recordLost(p)
	}
}

func (s *scheduler) recordLost(p *pendingProbe) {
	s.store.recordLoss(p.ttl)
	s.metrics.probesLost.WithLabelValues(strconv.Itoa(p.ttl)).Inc()
}

// recordError logs an error, attaches it to the span and returns it
// wrapped with the message.
func recordError(ctx context.Context, span oteltrace.Span, err error, msg string, args ...any) error {
	log := logger.FromContext(ctx)
	caser := cases.Title(language.English)

	log.ErrorContext(ctx, caser.String(msg), append([]any{"error", err}, args...)...)
	span.SetStatus(codes.Error, msg)
	span.RecordError(err)
	return fmt.Errorf("%s: %w", msg, err)
}
