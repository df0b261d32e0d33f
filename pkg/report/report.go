// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package report renders trace snapshots for human and machine
// consumption.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/telekom/hoplite/pkg/trace"
)

// Format selects the output representation of a snapshot.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

func (f Format) Validate() error {
	switch f {
	case FormatTable, FormatCSV, FormatJSON, "":
		return nil
	default:
		return fmt.Errorf("unsupported report format: %q", f)
	}
}

// Resolver maps a hop address to a display name. Reports fall back to
// the plain address when it is nil or returns an empty string.
type Resolver func(ctx context.Context, ip string) string

// ReverseDNS returns a Resolver doing a PTR lookup with the given
// per-address timeout.
func ReverseDNS(timeout time.Duration) Resolver {
	return func(ctx context.Context, ip string) string {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		names, err := net.DefaultResolver.LookupAddr(ctx, ip)
		if err != nil || len(names) == 0 {
			return ""
		}
		return names[0]
	}
}

// Reporter writes one snapshot to an output stream.
type Reporter interface {
	Write(ctx context.Context, w io.Writer, snap trace.Snapshot) error
}

// New returns the reporter for the given format. An empty format means
// table output.
func New(format Format, resolver Resolver) (Reporter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return &csvReporter{resolver: resolver}, nil
	case FormatJSON:
		return &jsonReporter{}, nil
	default:
		return &tableReporter{resolver: resolver}, nil
	}
}

func displayAddr(ctx context.Context, resolver Resolver, hop trace.Hop) string {
	if len(hop.Addrs) == 0 {
		return "*"
	}

	addr := hop.Addrs[len(hop.Addrs)-1]
	if resolver != nil {
		if name := resolver(ctx, addr.IP); name != "" {
			return fmt.Sprintf("%s (%s)", name, addr.String())
		}
	}
	return addr.String()
}

func lossPercent(hop trace.Hop) float64 {
	if hop.Sent == 0 {
		return 0
	}
	return float64(hop.Lost) / float64(hop.Sent) * 100
}

type tableReporter struct {
	resolver Resolver
}

func (t *tableReporter) Write(ctx context.Context, w io.Writer, snap trace.Snapshot) error {
	_, err := fmt.Fprintf(w, "Trace to %s (%s), round %d, %s\n",
		snap.Target, snap.Protocol, snap.Round, snap.State)
	if err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	if _, err = fmt.Fprintf(w, "%-3s  %-45s  %6s  %5s  %9s  %9s  %9s  %9s\n",
		"TTL", "Address", "Loss%", "Sent", "Last", "Best", "Worst", "Mean"); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, hop := range snap.Hops {
		reached := ""
		if hop.Reached {
			reached = "  (reached)"
		}
		_, err = fmt.Fprintf(w, "%-3d  %-45.45s  %5.1f%%  %5d  %9s  %9s  %9s  %9s%s\n",
			hop.TTL, displayAddr(ctx, t.resolver, hop), lossPercent(hop), hop.Sent,
			hop.Last, hop.Best, hop.Worst, hop.Mean, reached)
		if err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	return nil
}

type csvReporter struct {
	resolver Resolver
}

func (c *csvReporter) Write(ctx context.Context, w io.Writer, snap trace.Snapshot) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"ttl", "address", "sent", "lost", "last", "best", "worst", "mean", "reached"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, hop := range snap.Hops {
		row := []string{
			strconv.Itoa(hop.TTL),
			displayAddr(ctx, c.resolver, hop),
			strconv.Itoa(hop.Sent),
			strconv.Itoa(hop.Lost),
			hop.Last.String(),
			hop.Best.String(),
			hop.Worst.String(),
			hop.Mean.String(),
			strconv.FormatBool(hop.Reached),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv report: %w", err)
	}
	return nil
}

type jsonReporter struct{}

func (j *jsonReporter) Write(_ context.Context, w io.Writer, snap trace.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}
