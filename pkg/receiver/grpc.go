// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/pkg/processor"
)

// GRPCConfig configures the OTLP/gRPC ingress transport.
type GRPCConfig struct {
	// Endpoint is the listen address, conventionally port 4317.
	Endpoint string
}

// GRPC serves the OTLP export services over gRPC. Only the services for
// configured signal kinds are registered; calls for others are rejected
// by the server as unimplemented.
type GRPC struct {
	logger   hclog.Logger
	cfg      GRPCConfig
	sinks    Sinks
	counters *CounterTracker

	server *grpc.Server
	lis    net.Listener
}

func NewGRPC(logger hclog.Logger, cfg GRPCConfig, sinks Sinks, counters *CounterTracker) *GRPC {
	return &GRPC{
		logger:   logger.Named("grpc-receiver"),
		cfg:      cfg,
		sinks:    sinks,
		counters: counters,
	}
}

// Start binds the listener and begins serving. A bind failure is fatal
// for the process and is returned to the caller.
func (r *GRPC) Start(context.Context) error {
	lis, err := net.Listen("tcp", r.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to bind grpc receiver to %q: %w", r.cfg.Endpoint, err)
	}
	r.lis = lis
	r.server = grpc.NewServer()

	if r.sinks.Traces != nil {
		ptraceotlp.RegisterGRPCServer(r.server, &tracesService{
			logger: r.logger,
			sink:   r.sinks.Traces,
			labels: transportLabels(model.KindTraces, "grpc"),
		})
	}
	if r.sinks.Metrics != nil {
		pmetricotlp.RegisterGRPCServer(r.server, &metricsService{
			logger:   r.logger,
			sink:     r.sinks.Metrics,
			counters: r.counters,
			labels:   transportLabels(model.KindMetrics, "grpc"),
		})
	}
	if r.sinks.Logs != nil {
		plogotlp.RegisterGRPCServer(r.server, &logsService{
			logger: r.logger,
			sink:   r.sinks.Logs,
			labels: transportLabels(model.KindLogs, "grpc"),
		})
	}

	r.logger.Info("grpc receiver listening", "address", lis.Addr().String())
	go func() {
		if err := r.server.Serve(lis); err != nil {
			r.logger.Error("grpc receiver exited", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (r *GRPC) Addr() net.Addr {
	if r.lis == nil {
		return nil
	}
	return r.lis.Addr()
}

// Stop drains the server gracefully, falling back to a hard stop when ctx
// expires first.
func (r *GRPC) Stop(ctx context.Context) {
	if r.server == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		r.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.server.Stop()
		<-done
	}
}

// pushErr maps pipeline errors onto gRPC status codes: backpressure is
// ResourceExhausted so the client retries, draining is Unavailable.
func pushErr(err error) error {
	switch {
	case errors.Is(err, processor.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, "ingress queue is full, retry later")
	case errors.Is(err, processor.ErrStopped):
		return status.Error(codes.Unavailable, "collector is draining")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

type tracesService struct {
	ptraceotlp.UnimplementedGRPCServer
	logger hclog.Logger
	sink   Sink[model.Span]
	labels []metrics.Label
}

func (s *tracesService) Export(ctx context.Context, req ptraceotlp.ExportRequest) (ptraceotlp.ExportResponse, error) {
	resp := ptraceotlp.NewExportResponse()

	batches, rejected, decodeErr := model.FromTraces(req.Traces())
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), s.labels)
	}
	if len(batches) == 0 && rejected > 0 {
		derr := &DecodeError{Err: decodeErr}
		s.logger.Debug("rejected trace payload", "error", derr)
		return resp, status.Error(codes.InvalidArgument, derr.Error())
	}

	if err := offerAll(ctx, s.sink, batches, s.labels); err != nil {
		return resp, pushErr(err)
	}

	if rejected > 0 {
		resp.PartialSuccess().SetRejectedSpans(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	return resp, nil
}

type metricsService struct {
	pmetricotlp.UnimplementedGRPCServer
	logger   hclog.Logger
	sink     Sink[model.MetricPoint]
	counters *CounterTracker
	labels   []metrics.Label
}

func (s *metricsService) Export(ctx context.Context, req pmetricotlp.ExportRequest) (pmetricotlp.ExportResponse, error) {
	resp := pmetricotlp.NewExportResponse()

	batches, rejected, decodeErr := model.FromMetrics(req.Metrics(), s.counters.check)
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), s.labels)
	}
	if len(batches) == 0 && rejected > 0 {
		derr := &DecodeError{Err: decodeErr}
		s.logger.Debug("rejected metric payload", "error", derr)
		return resp, status.Error(codes.InvalidArgument, derr.Error())
	}

	if err := offerAll(ctx, s.sink, batches, s.labels); err != nil {
		return resp, pushErr(err)
	}

	if rejected > 0 {
		resp.PartialSuccess().SetRejectedDataPoints(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	return resp, nil
}

type logsService struct {
	plogotlp.UnimplementedGRPCServer
	logger hclog.Logger
	sink   Sink[model.LogRecord]
	labels []metrics.Label
}

func (s *logsService) Export(ctx context.Context, req plogotlp.ExportRequest) (plogotlp.ExportResponse, error) {
	resp := plogotlp.NewExportResponse()

	batches, rejected, decodeErr := model.FromLogs(req.Logs())
	if rejected > 0 {
		metrics.IncrCounterWithLabels([]string{"receiver", "rejected_items"}, float32(rejected), s.labels)
	}
	if len(batches) == 0 && rejected > 0 {
		derr := &DecodeError{Err: decodeErr}
		return resp, status.Error(codes.InvalidArgument, derr.Error())
	}

	if err := offerAll(ctx, s.sink, batches, s.labels); err != nil {
		return resp, pushErr(err)
	}

	if rejected > 0 {
		resp.PartialSuccess().SetRejectedLogRecords(int64(rejected))
		resp.PartialSuccess().SetErrorMessage(decodeErr.Error())
	}
	return resp, nil
}
