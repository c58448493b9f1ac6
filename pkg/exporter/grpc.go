// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalfan/signalfan/pkg/model"
)

// OTLPConfig describes a downstream OTLP destination shared by the gRPC
// and HTTP network exporters. For gRPC the endpoint is a dial target
// (host:port); for HTTP it is a base URL.
type OTLPConfig struct {
	Endpoint string
	// Insecure dials gRPC in plaintext, or skips TLS certificate
	// verification for https endpoints.
	Insecure bool
}

// otlpGRPC forwards batches to a downstream collector over OTLP/gRPC. The
// per-kind send function re-encodes the internal model on the wire.
type otlpGRPC[T model.Signal] struct {
	name   string
	cfg    OTLPConfig
	logger hclog.Logger
	conn   *grpc.ClientConn
	send   func(ctx context.Context, conn *grpc.ClientConn, batches []model.Batch[T]) (rejected int64, err error)
}

func NewTracesGRPC(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.Span] {
	return &otlpGRPC[model.Span]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-grpc").With("exporter", name),
		send:   sendTracesGRPC,
	}
}

func NewMetricsGRPC(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.MetricPoint] {
	return &otlpGRPC[model.MetricPoint]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-grpc").With("exporter", name),
		send:   sendMetricsGRPC,
	}
}

func NewLogsGRPC(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.LogRecord] {
	return &otlpGRPC[model.LogRecord]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-grpc").With("exporter", name),
		send:   sendLogsGRPC,
	}
}

func (e *otlpGRPC[T]) Name() string { return e.name }

func (e *otlpGRPC[T]) Start(ctx context.Context) error {
	if e.cfg.Endpoint == "" {
		return errors.New("no endpoint configured")
	}

	var creds credentials.TransportCredentials
	if e.cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{})
	}

	conn, err := grpc.DialContext(ctx, e.cfg.Endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to dial %q: %w", e.cfg.Endpoint, err)
	}
	e.conn = conn
	e.logger.Debug("dialed downstream collector", "endpoint", e.cfg.Endpoint, "insecure", e.cfg.Insecure)
	return nil
}

func (e *otlpGRPC[T]) Export(ctx context.Context, batches []model.Batch[T]) error {
	if e.conn == nil {
		return errors.New("exporter not started")
	}
	rejected, err := e.send(ctx, e.conn, batches)
	if err != nil {
		return err
	}
	if rejected > 0 {
		e.logger.Warn("remote accepted flush partially", "seq", batches[0].Seq(), "rejected", rejected)
	}
	return nil
}

// Probe sends an empty export request to check that the endpoint answers.
func (e *otlpGRPC[T]) Probe(ctx context.Context) error {
	if e.conn == nil {
		return errors.New("exporter not started")
	}
	_, err := e.send(ctx, e.conn, nil)
	return err
}

func (e *otlpGRPC[T]) Shutdown(context.Context) error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

func sendTracesGRPC(ctx context.Context, conn *grpc.ClientConn, batches []model.Batch[model.Span]) (int64, error) {
	req := ptraceotlp.NewExportRequestFromTraces(model.ToTraces(batches))
	resp, err := ptraceotlp.NewGRPCClient(conn).Export(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.PartialSuccess().RejectedSpans(), nil
}

func sendMetricsGRPC(ctx context.Context, conn *grpc.ClientConn, batches []model.Batch[model.MetricPoint]) (int64, error) {
	req := pmetricotlp.NewExportRequestFromMetrics(model.ToMetrics(batches))
	resp, err := pmetricotlp.NewGRPCClient(conn).Export(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.PartialSuccess().RejectedDataPoints(), nil
}

func sendLogsGRPC(ctx context.Context, conn *grpc.ClientConn, batches []model.Batch[model.LogRecord]) (int64, error) {
	req := plogotlp.NewExportRequestFromLogs(model.ToLogs(batches))
	resp, err := plogotlp.NewGRPCClient(conn).Export(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.PartialSuccess().RejectedLogRecords(), nil
}
