// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the session's prometheus collectors.
type metrics struct {
	probesSent    *prometheus.CounterVec
	responses     *prometheus.CounterVec
	probesLost    *prometheus.CounterVec
	framesIgnored prometheus.Counter
	decodeErrors  prometheus.Counter
	rounds        prometheus.Counter
	hopRTT        *prometheus.HistogramVec
}

func newMetrics(protocol Protocol) metrics {
	labels := prometheus.Labels{"protocol": protocol.String()}
	return metrics{
		probesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "hoplite_probes_sent_total",
				Help:        "Total number of trace probes sent",
				ConstLabels: labels,
			},
			[]string{"ttl"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "hoplite_responses_matched_total",
				Help:        "Total number of responses matched to a probe",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		probesLost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "hoplite_probes_lost_total",
				Help:        "Total number of probes that expired without a response",
				ConstLabels: labels,
			},
			[]string{"ttl"},
		),
		framesIgnored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "hoplite_frames_ignored_total",
				Help:        "Total number of inbound frames not belonging to the session",
				ConstLabels: labels,
			},
		),
		decodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "hoplite_decode_errors_total",
				Help:        "Total number of inbound frames that failed to decode",
				ConstLabels: labels,
			},
		),
		rounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "hoplite_rounds_total",
				Help:        "Total number of completed trace rounds",
				ConstLabels: labels,
			},
		),
		hopRTT: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "hoplite_hop_rtt_seconds",
				Help:        "Round trip time per hop",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"ttl"},
		),
	}
}

// GetMetricCollectors returns all metric collectors of the session.
func (m *metrics) GetMetricCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.probesSent,
		m.responses,
		m.probesLost,
		m.framesIgnored,
		m.decodeErrors,
		m.rounds,
		m.hopRTT,
	}
}
