// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestHTTPExporterProbeHitsTracesEndpoint(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exp := NewTracesHTTP("downstream", OTLPConfig{Endpoint: srv.URL}, hclog.NewNullLogger())
	require.NoError(t, exp.Start(context.Background()))

	prober, ok := exp.(Prober)
	require.True(t, ok)
	require.NoError(t, prober.Probe(context.Background()))
	require.Equal(t, "/v1/traces", path.Load())

	require.NoError(t, exp.Shutdown(context.Background()))
}

func TestHTTPExporterProbeSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	exp := NewTracesHTTP("downstream", OTLPConfig{Endpoint: srv.URL}, hclog.NewNullLogger())
	require.NoError(t, exp.Start(context.Background()))

	err := exp.(Prober).Probe(context.Background())
	require.ErrorContains(t, err, "HTTP Status Code 502")
}
