// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires up the prometheus registry and the
// OpenTelemetry tracer provider of the process.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/telekom/hoplite/internal/logger"
)

var _ Provider = (*manager)(nil)

type Provider interface {
	// GetRegistry returns the prometheus registry instance
	// containing the registered prometheus collectors
	GetRegistry() *prometheus.Registry
	// InitTracing initializes the OpenTelemetry tracing
	InitTracing(ctx context.Context) error
	// Shutdown closes the metrics and tracing
	Shutdown(ctx context.Context) error
}

type manager struct {
	config   Config
	version  string
	registry *prometheus.Registry
	tp       *sdktrace.TracerProvider
}

// New initializes the prometheus registry and returns the provider.
//
//nolint:gocritic
func New(config Config, version string) Provider {
	registry := prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &manager{
		config:   config,
		version:  version,
		registry: registry,
	}
}

// GetRegistry returns the registry to register prometheus metrics
func (m *manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// InitTracing initializes the OpenTelemetry tracing
func (m *manager) InitTracing(ctx context.Context) error {
	log := logger.FromContext(ctx)
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithContainer(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("hoplite"),
			semconv.ServiceVersionKey.String(m.version),
		),
	)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create resource", "error", err)
		return fmt.Errorf("failed to create resource: %v", err)
	}

	exporter, err := m.config.Exporter.Create(ctx, &m.config)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create exporter", "error", err)
		return fmt.Errorf("failed to create exporter: %v", err)
	}

	const (
		batchTimeout = 5 * time.Second
		maxQueueSize = 1000
		maxBatchSize = 100
	)
	bsp := sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithBatchTimeout(batchTimeout),
		sdktrace.WithMaxQueueSize(maxQueueSize),
		sdktrace.WithMaxExportBatchSize(maxBatchSize),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	m.tp = tp
	log.DebugContext(ctx, "Tracing initialized with new provider", "provider", m.config.Exporter)
	return nil
}

// Shutdown closes the metrics and tracing
func (m *manager) Shutdown(ctx context.Context) error {
	log := logger.FromContext(ctx)
	if m.tp != nil {
		err := m.tp.Shutdown(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
	}

	log.DebugContext(ctx, "Tracing shutdown")
	return nil
}
