// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the live trace state over HTTP: the current
// snapshot as JSON, its OpenAPI schema, prometheus metrics and a
// health endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/telekom/hoplite/internal/logger"
	"github.com/telekom/hoplite/pkg/trace"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// SnapshotProvider hands out the current route state. The trace
// session implements it.
type SnapshotProvider interface {
	Snapshot() trace.Snapshot
}

type API interface {
	// Run serves the API until the context is cancelled
	Run(ctx context.Context) error
	// Shutdown gracefully stops the server
	Shutdown(ctx context.Context)
}

type api struct {
	server   *http.Server
	router   chi.Router
	provider SnapshotProvider
	registry *prometheus.Registry
}

// New creates a new API server around the given snapshot provider and
// metrics registry.
func New(cfg Config, provider SnapshotProvider, registry *prometheus.Registry) API {
	r := chi.NewRouter()
	return &api{
		server:   &http.Server{Addr: cfg.ListenAddress, Handler: r, ReadHeaderTimeout: readHeaderTimeout},
		router:   r,
		provider: provider,
		registry: registry,
	}
}

// Run serves the API. It blocks until the context is cancelled or the
// server fails.
func (a *api) Run(ctx context.Context) error {
	ctx, cancel := logger.NewContextWithLogger(ctx)
	defer cancel()
	log := logger.FromContext(ctx)

	a.routes(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "API server started", "address", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.Shutdown(ctx)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "API server failed", "error", err)
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	}
}

// Shutdown gracefully stops the server
func (a *api) Shutdown(ctx context.Context) {
	log := logger.FromContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down API server gracefully", "error", err)
	}
}

func (a *api) routes(ctx context.Context) {
	a.router.Use(logger.Middleware(ctx))
	a.router.Use(middleware.Recoverer)

	a.router.Get("/healthz", a.getHealth)
	a.router.Get("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP)
	a.router.Route("/v1", func(r chi.Router) {
		r.Get("/trace", a.getTrace)
		r.Get("/trace/openapi.yaml", a.getOpenapi)
	})
}

func (a *api) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *api) getTrace(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	snap := a.provider.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.ErrorContext(r.Context(), "Failed to encode snapshot", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (a *api) getOpenapi(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	doc, err := openapiSchema()
	if err != nil {
		log.ErrorContext(r.Context(), "Failed to build openapi schema", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		log.ErrorContext(r.Context(), "Failed to marshal openapi schema", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/yaml")
	_, _ = w.Write(b)
}

// openapiSchema builds the OpenAPI document for the snapshot endpoint
// from the snapshot type itself.
func openapiSchema() (*openapi3.T, error) {
	ref, err := openapi3gen.NewSchemaRefForValue(trace.Snapshot{}, openapi3.Schemas{})
	if err != nil {
		return nil, ErrCreateOpenapiSchema{name: "v1/trace", err: err}
	}

	return &openapi3.T{
		OpenAPI: "3.0.0",
		Info: &openapi3.Info{
			Title:   "hoplite",
			Version: "1.0",
		},
		Paths: openapi3.NewPaths(openapi3.WithPath("/v1/trace", &openapi3.PathItem{
			Get: &openapi3.Operation{
				Summary:     "Current trace snapshot",
				OperationID: "getTrace",
				Responses: openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
					Value: openapi3.NewResponse().
						WithDescription("route state of the running trace session").
						WithJSONSchemaRef(ref),
				})),
			},
		})),
	}, nil
}
