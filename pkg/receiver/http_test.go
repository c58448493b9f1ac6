// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package receiver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"

	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/pkg/processor"
)

func startHTTP(t *testing.T, sinks Sinks) (base string, client *http.Client) {
	t.Helper()

	r := NewHTTP(hclog.NewNullLogger(), HTTPConfig{Endpoint: "127.0.0.1:0"}, sinks, NewCounterTracker())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return "http://" + r.Addr().String(), cleanhttp.DefaultClient()
}

func post(t *testing.T, client *http.Client, url, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := client.Post(url, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeStatus(t *testing.T, resp *http.Response) *rpcstatus.Status {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	st := &rpcstatus.Status{}
	require.NoError(t, proto.Unmarshal(body, st))
	return st
}

func TestHTTPReceiverExportsTracesProto(t *testing.T) {
	sink := &fakeSink[model.Span]{}
	base, client := startHTTP(t, Sinks{Traces: sink})

	payload, err := traceRequest(2, 0).MarshalProto()
	require.NoError(t, err)

	resp := post(t, client, base+"/v1/traces", protobufContentType, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, protobufContentType, resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	er := ptraceotlp.NewExportResponse()
	require.NoError(t, er.UnmarshalProto(body))
	require.Zero(t, er.PartialSuccess().RejectedSpans())
	require.Equal(t, 2, sink.items())
}

func TestHTTPReceiverExportsLogsJSON(t *testing.T) {
	sink := &fakeSink[model.LogRecord]{}
	base, client := startHTTP(t, Sinks{Logs: sink})

	ld := plog.NewLogs()
	lr := ld.ResourceLogs().AppendEmpty().ScopeLogs().AppendEmpty().LogRecords().AppendEmpty()
	lr.SetTimestamp(pcommon.NewTimestampFromTime(time.Unix(1, 0)))
	lr.Body().SetStr("hello")

	payload, err := plogotlp.NewExportRequestFromLogs(ld).MarshalJSON()
	require.NoError(t, err)

	resp := post(t, client, base+"/v1/logs", jsonContentType, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, jsonContentType, resp.Header.Get("Content-Type"))
	require.Equal(t, 1, sink.items())
}

func TestHTTPReceiverPartialSuccess(t *testing.T) {
	sink := &fakeSink[model.Span]{}
	base, client := startHTTP(t, Sinks{Traces: sink})

	payload, err := traceRequest(1, 1).MarshalProto()
	require.NoError(t, err)

	resp := post(t, client, base+"/v1/traces", protobufContentType, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	er := ptraceotlp.NewExportResponse()
	require.NoError(t, er.UnmarshalProto(body))
	require.Equal(t, int64(1), er.PartialSuccess().RejectedSpans())
	require.Contains(t, er.PartialSuccess().ErrorMessage(), "zero")
	require.Equal(t, 1, sink.items())
}

func TestHTTPReceiverRejectsMalformedBody(t *testing.T) {
	base, client := startHTTP(t, Sinks{Traces: &fakeSink[model.Span]{}})

	resp := post(t, client, base+"/v1/traces", protobufContentType, []byte("not a protobuf"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	st := decodeStatus(t, resp)
	require.Equal(t, int32(codes.InvalidArgument), st.Code)
	require.Contains(t, st.Message, "decoding telemetry payload")
}

func TestHTTPReceiverMethodNotAllowed(t *testing.T) {
	base, client := startHTTP(t, Sinks{Traces: &fakeSink[model.Span]{}})

	resp, err := client.Get(base + "/v1/traces")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPReceiverUnsupportedContentType(t *testing.T) {
	base, client := startHTTP(t, Sinks{Traces: &fakeSink[model.Span]{}})

	resp := post(t, client, base+"/v1/traces", "text/plain", []byte("{}"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHTTPReceiverBackpressure(t *testing.T) {
	sink := &fakeSink[model.Span]{err: processor.ErrQueueFull}
	base, client := startHTTP(t, Sinks{Traces: sink})

	payload, err := traceRequest(1, 0).MarshalProto()
	require.NoError(t, err)

	resp := post(t, client, base+"/v1/traces", protobufContentType, payload)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("Retry-After"))

	st := decodeStatus(t, resp)
	require.Equal(t, int32(codes.ResourceExhausted), st.Code)
}

func TestHTTPReceiverDraining(t *testing.T) {
	sink := &fakeSink[model.Span]{err: processor.ErrStopped}
	base, client := startHTTP(t, Sinks{Traces: sink})

	payload, err := traceRequest(1, 0).MarshalProto()
	require.NoError(t, err)

	resp := post(t, client, base+"/v1/traces", protobufContentType, payload)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPReceiverUnconfiguredKindIs404(t *testing.T) {
	base, client := startHTTP(t, Sinks{Traces: &fakeSink[model.Span]{}})

	resp := post(t, client, base+"/v1/metrics", protobufContentType, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPReceiverBodyTooLarge(t *testing.T) {
	base, client := startHTTP(t, Sinks{Traces: &fakeSink[model.Span]{}})

	resp := post(t, client, base+"/v1/traces", protobufContentType, bytes.Repeat([]byte{0}, maxRequestBytes+1))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
