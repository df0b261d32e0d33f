// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// Exporter is the type of the span exporter traces are shipped with.
type Exporter string

const (
	// GRPC exports the traces to an otlp collector via gRPC
	GRPC Exporter = "grpc"
	// HTTP exports the traces to an otlp collector via HTTP
	HTTP Exporter = "http"
	// STDOUT prints the traces to stdout
	STDOUT Exporter = "stdout"
	// NOOP discards the traces
	NOOP Exporter = "noop"
)

func (e Exporter) String() string {
	return string(e)
}

func (e Exporter) Validate() error {
	switch e {
	case GRPC, HTTP, STDOUT, NOOP, "":
		return nil
	default:
		return fmt.Errorf("unsupported exporter type: %q", e)
	}
}

// IsExporting returns true if the exporter ships traces to a collector
func (e Exporter) IsExporting() bool {
	return e == GRPC || e == HTTP
}

// Create builds the span exporter for the configured protocol.
func (e Exporter) Create(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch e {
	case GRPC:
		return newGRPCExporter(ctx, cfg)
	case HTTP:
		return newHTTPExporter(ctx, cfg)
	case STDOUT:
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case NOOP, "":
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %q", e)
	}
}

func newGRPCExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Url),
		otlptracegrpc.WithHeaders(cfg.headers()),
	}

	if cfg.TLS.Enabled {
		creds, err := credentials.NewClientTLSFromFile(cfg.TLS.CertPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load tls certificate: %w", err)
		}
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	} else {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc exporter: %w", err)
	}
	return exporter, nil
}

func newHTTPExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Url),
		otlptracehttp.WithHeaders(cfg.headers()),
	}

	if cfg.TLS.Enabled {
		pem, err := os.ReadFile(cfg.TLS.CertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tls certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse tls certificate %q", cfg.TLS.CertPath)
		}
		opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}))
	} else {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http exporter: %w", err)
	}
	return exporter, nil
}

func (c *Config) headers() map[string]string {
	if c.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.Token}
}

// noopExporter drops all spans on the floor.
type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopExporter) Shutdown(context.Context) error { return nil }
