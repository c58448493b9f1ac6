// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/pkg/processor"
)

const (
	protobufContentType = "application/x-protobuf"
	jsonContentType     = "application/json"

	// maxRequestBytes bounds an ingestion request body.
	maxRequestBytes = 8 * 1024 * 1024
)

// HTTPConfig configures the OTLP/HTTP ingress transport.
type HTTPConfig struct {
	// Endpoint is the listen address, conventionally port 4318.
	Endpoint string
}

// HTTP serves the OTLP/HTTP ingestion endpoints: one POST route per
// configured signal kind, accepting protobuf and JSON request bodies.
type HTTP struct {
	logger   hclog.Logger
	cfg      HTTPConfig
	sinks    Sinks
	counters *CounterTracker

	server *http.Server
	lis    net.Listener
}

func NewHTTP(logger hclog.Logger, cfg HTTPConfig, sinks Sinks, counters *CounterTracker) *HTTP {
	return &HTTP{
		logger:   logger.Named("http-receiver"),
		cfg:      cfg,
		sinks:    sinks,
		counters: counters,
	}
}

// Start binds the listener and begins serving. A bind failure is fatal
// for the process and is returned to the caller.
func (r *HTTP) Start(context.Context) error {
	lis, err := net.Listen("tcp", r.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to bind http receiver to %q: %w", r.cfg.Endpoint, err)
	}
	r.lis = lis

	mux := http.NewServeMux()
	if r.sinks.Traces != nil {
		mux.HandleFunc("/v1/traces", r.handleTraces)
	}
	if r.sinks.Metrics != nil {
		mux.HandleFunc("/v1/metrics", r.handleMetrics)
	}
	if r.sinks.Logs != nil {
		mux.HandleFunc("/v1/logs", r.handleLogs)
	}
	r.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	r.logger.Info("http receiver listening", "address", lis.Addr().String())
	go func() {
		if err := r.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http receiver exited", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (r *HTTP) Addr() net.Addr {
	if r.lis == nil {
		return nil
	}
	return r.lis.Addr()
}

// Stop shuts the server down gracefully within ctx, closing hard when ctx
// expires first.
func (r *HTTP) Stop(ctx context.Context) {
	if r.server == nil {
		return
	}
	if err := r.server.Shutdown(ctx); err != nil {
		r.server.Close()
	}
}

// readRequest validates method and content type and reads the body. On
// failure it writes the error response and returns ok=false.
func (r *HTTP) readRequest(w http.ResponseWriter, req *http.Request) (body []byte, contentType string, ok bool) {
	if req.Method != http.MethodPost {
		writeStatusError(w, jsonContentType, http.StatusMethodNotAllowed, codes.InvalidArgument,
			errors.New("only POST is supported"))
		return nil, "", false
	}

	contentType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || (contentType != protobufContentType && contentType != jsonContentType) {
		writeStatusError(w, jsonContentType, http.StatusUnsupportedMediaType, codes.InvalidArgument,
			fmt.Errorf("unsupported content type %q", req.Header.Get("Content-Type")))
		return nil, "", false
	}

	body, err = io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBytes))
	if err != nil {
		writeStatusError(w, contentType, http.StatusRequestEntityTooLarge, codes.InvalidArgument,
			fmt.Errorf("reading request body: %w", err))
		return nil, "", false
	}
	return body, contentType, true
}

func (r *HTTP) handleTraces(w http.ResponseWriter, req *http.Request) {
	body, contentType, ok := r.readRequest(w, req)
	if !ok {
		return
	}
	labels := transportLabels(model.KindTraces, "http")

	er := ptraceotlp.NewExportRequest()
	var uerr error
	if contentType == protobufContentType {
		uerr = er.UnmarshalProto(body)
	} else {
		uerr = er.UnmarshalJSON(body)
	}
	if uerr != nil {
		r.rejectDecode(w, contentType, labels, uerr)
		return
	}

	batches, rejected, decodeErr := model.FromTraces(er.Traces())
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), labels)
	}
	if len(batches) == 0 && rejected > 0 {
		r.rejectDecode(w, contentType, nil, decodeErr)
		return
	}

	if err := offerAll(req.Context(), r.sinks.Traces, batches, labels); err != nil {
		writePushError(w, contentType, err)
		return
	}

	resp := ptraceotlp.NewExportResponse()
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedSpans(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	var payload []byte
	if contentType == protobufContentType {
		payload, _ = resp.MarshalProto()
	} else {
		payload, _ = resp.MarshalJSON()
	}
	writeResponse(w, contentType, http.StatusOK, payload)
}

func (r *HTTP) handleMetrics(w http.ResponseWriter, req *http.Request) {
	body, contentType, ok := r.readRequest(w, req)
	if !ok {
		return
	}
	labels := transportLabels(model.KindMetrics, "http")

	er := pmetricotlp.NewExportRequest()
	var uerr error
	if contentType == protobufContentType {
		uerr = er.UnmarshalProto(body)
	} else {
		uerr = er.UnmarshalJSON(body)
	}
	if uerr != nil {
		r.rejectDecode(w, contentType, labels, uerr)
		return
	}

	batches, rejected, decodeErr := model.FromMetrics(er.Metrics(), r.counters.check)
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), labels)
	}
	if len(batches) == 0 && rejected > 0 {
		r.rejectDecode(w, contentType, nil, decodeErr)
		return
	}

	if err := offerAll(req.Context(), r.sinks.Metrics, batches, labels); err != nil {
		writePushError(w, contentType, err)
		return
	}

	resp := pmetricotlp.NewExportResponse()
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedDataPoints(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	var payload []byte
	if contentType == protobufContentType {
		payload, _ = resp.MarshalProto()
	} else {
		payload, _ = resp.MarshalJSON()
	}
	writeResponse(w, contentType, http.StatusOK, payload)
}

func (r *HTTP) handleLogs(w http.ResponseWriter, req *http.Request) {
	body, contentType, ok := r.readRequest(w, req)
	if !ok {
		return
	}
	labels := transportLabels(model.KindLogs, "http")

	er := plogotlp.NewExportRequest()
	var uerr error
	if contentType == protobufContentType {
		uerr = er.UnmarshalProto(body)
	} else {
		uerr = er.UnmarshalJSON(body)
	}
	if uerr != nil {
		r.rejectDecode(w, contentType, labels, uerr)
		return
	}

	batches, rejected, decodeErr := model.FromLogs(er.Logs())
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), labels)
	}
	if len(batches) == 0 && rejected > 0 {
		r.rejectDecode(w, contentType, nil, decodeErr)
		return
	}

	if err := offerAll(req.Context(), r.sinks.Logs, batches, labels); err != nil {
		writePushError(w, contentType, err)
		return
	}

	resp := plogotlp.NewExportResponse()
	if rejected > 0 {
		resp.PartialSuccess().SetRejectedLogRecords(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	var payload []byte
	if contentType == protobufContentType {
		payload, _ = resp.MarshalProto()
	} else {
		payload, _ = resp.MarshalJSON()
	}
	writeResponse(w, contentType, http.StatusOK, payload)
}

func (r *HTTP) rejectDecode(w http.ResponseWriter, contentType string, labels []metrics.Label, err error) {
	if labels != nil {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_payloads"}, 1, labels)
	}
	derr := &DecodeError{Err: err}
	r.logger.Debug("rejected payload", "error", derr)
	writeStatusError(w, contentType, http.StatusBadRequest, codes.InvalidArgument, derr)
}

// writePushError maps pipeline errors onto HTTP status codes:
// backpressure is 429 so the client retries, draining is 503.
func writePushError(w http.ResponseWriter, contentType string, err error) {
	switch {
	case errors.Is(err, processor.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeStatusError(w, contentType, http.StatusTooManyRequests, codes.ResourceExhausted,
			errors.New("ingress queue is full, retry later"))
	case errors.Is(err, processor.ErrStopped):
		writeStatusError(w, contentType, http.StatusServiceUnavailable, codes.Unavailable,
			errors.New("collector is draining"))
	default:
		writeStatusError(w, contentType, http.StatusInternalServerError, codes.Internal, err)
	}
}

// writeStatusError writes an error response whose body is a
// google.rpc.Status, protobuf- or JSON-encoded matching the request's
// content type, as the OTLP spec requires.
func writeStatusError(w http.ResponseWriter, contentType string, httpCode int, rpcCode codes.Code, err error) {
	st := &status.Status{
		Code:    int32(rpcCode),
		Message: err.Error(),
	}
	var payload []byte
	if contentType == jsonContentType {
		payload, _ = protojson.Marshal(st)
	} else {
		contentType = protobufContentType
		payload, _ = proto.Marshal(st)
	}
	writeResponse(w, contentType, httpCode, payload)
}

func writeResponse(w http.ResponseWriter, contentType string, code int, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	w.Write(payload) // nolint:errcheck
}
