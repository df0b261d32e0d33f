// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/hoplite/pkg/trace"
)

type staticProvider struct {
	snap trace.Snapshot
}

func (p *staticProvider) Snapshot() trace.Snapshot { return p.snap }

func testSnapshot() trace.Snapshot {
	return trace.Snapshot{
		Target:        "198.51.100.1",
		Protocol:      trace.ProtocolICMP,
		Round:         3,
		State:         trace.RoundCompleted,
		TargetReached: true,
		ReachedTTL:    2,
		Hops: []trace.Hop{
			{TTL: 1, Addrs: []trace.HopAddress{{IP: "203.0.113.1"}}, Sent: 3, Last: 10 * time.Millisecond},
			{TTL: 2, Addrs: []trace.HopAddress{{IP: "198.51.100.1"}}, Sent: 3, Reached: true},
		},
		Time: time.Now(),
	}
}

func newTestAPI(t *testing.T) *api {
	t.Helper()

	a, ok := New(Config{ListenAddress: ":0"}, &staticProvider{snap: testSnapshot()}, prometheus.NewRegistry()).(*api)
	require.True(t, ok)
	a.routes(context.Background())
	return a
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "host and port", address: "0.0.0.0:8080"},
		{name: "port only", address: ":8080"},
		{name: "empty", address: "", wantErr: true},
		{name: "no port", address: "localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{ListenAddress: tt.address}
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidListenAddress)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAPI_GetTrace(t *testing.T) {
	a := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/trace", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got trace.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "198.51.100.1", got.Target)
	assert.True(t, got.TargetReached)
	assert.Len(t, got.Hops, 2)
}

func TestAPI_GetOpenapi(t *testing.T) {
	a := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/trace/openapi.yaml", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc, "openapi")
	assert.Contains(t, doc, "paths")
}

func TestAPI_GetHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "hoplite_test_gauge"})
	registry.MustRegister(gauge)
	gauge.Set(1)

	a, ok := New(Config{ListenAddress: ":0"}, &staticProvider{}, registry).(*api)
	require.True(t, ok)
	a.routes(context.Background())

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hoplite_test_gauge 1")
}

func TestAPI_RunAndShutdown(t *testing.T) {
	a := New(Config{ListenAddress: "127.0.0.1:0"}, &staticProvider{snap: testSnapshot()}, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("api did not shut down in time")
	}
}
