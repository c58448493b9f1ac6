// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package otlphttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
)

func testTraces() ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", "web")
	sp := rs.ScopeSpans().AppendEmpty().Spans().AppendEmpty()
	sp.SetTraceID(pcommon.TraceID([16]byte{1}))
	sp.SetSpanID(pcommon.SpanID([8]byte{2}))
	sp.SetName("op")
	return td
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(&Config{
		Endpoint:  srv.URL,
		UserAgent: "signalfan-test",
		Logger:    hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	return client
}

func TestClientExportsTraces(t *testing.T) {
	var gotPath, gotContentType, gotUserAgent string
	var gotSpans int

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		er := ptraceotlp.NewExportRequest()
		require.NoError(t, er.UnmarshalProto(body))
		gotSpans = er.Traces().SpanCount()

		resp, _ := ptraceotlp.NewExportResponse().MarshalProto()
		w.Header().Set("Content-Type", protobufContentType)
		w.Write(resp)
	}))

	require.NoError(t, client.ExportTraces(context.Background(), testTraces()))
	require.Equal(t, "/v1/traces", gotPath)
	require.Equal(t, protobufContentType, gotContentType)
	require.Equal(t, "signalfan-test", gotUserAgent)
	require.Equal(t, 1, gotSpans)
}

func TestClientTreatsPartialSuccessAsSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ptraceotlp.NewExportResponse()
		resp.PartialSuccess().SetRejectedSpans(1)
		resp.PartialSuccess().SetErrorMessage("span too old")
		body, _ := resp.MarshalProto()
		w.Header().Set("Content-Type", protobufContentType)
		w.Write(body)
	}))

	// Partial rejection by the remote is logged, not surfaced as an error.
	require.NoError(t, client.ExportTraces(context.Background(), testTraces()))
}

func TestClientSurfacesStatusFromErrorBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := proto.Marshal(&status.Status{
			Code:    int32(codes.ResourceExhausted),
			Message: "ingress queue is full",
		})
		w.Header().Set("Content-Type", protobufContentType)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write(body)
	}))

	err := client.ExportTraces(context.Background(), testTraces())
	require.ErrorContains(t, err, "HTTP Status Code 429")
	require.ErrorContains(t, err, "ingress queue is full")
}

func TestClientReportsBareErrorCode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.ExportTraces(context.Background(), testTraces())
	require.ErrorContains(t, err, "HTTP Status Code 502")
}

func TestNewRejectsBadEndpoints(t *testing.T) {
	for _, endpoint := range []string{"collector:4318", "ftp://collector"} {
		_, err := New(&Config{Endpoint: endpoint, Logger: hclog.NewNullLogger()})
		require.Error(t, err, endpoint)
	}
}
