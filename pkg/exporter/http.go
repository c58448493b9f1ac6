// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/hashicorp/go-hclog"

	"github.com/signalfan/signalfan/pkg/exporter/otlphttp"
	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/version"
)

// otlpHTTP forwards batches to a downstream collector or APM-style
// ingestion server over OTLP/HTTP.
type otlpHTTP[T model.Signal] struct {
	name   string
	cfg    OTLPConfig
	logger hclog.Logger
	client *otlphttp.Client
	send   func(ctx context.Context, client *otlphttp.Client, batches []model.Batch[T]) error
}

func NewTracesHTTP(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.Span] {
	return &otlpHTTP[model.Span]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-http").With("exporter", name),
		send: func(ctx context.Context, client *otlphttp.Client, batches []model.Batch[model.Span]) error {
			return client.ExportTraces(ctx, model.ToTraces(batches))
		},
	}
}

func NewMetricsHTTP(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.MetricPoint] {
	return &otlpHTTP[model.MetricPoint]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-http").With("exporter", name),
		send: func(ctx context.Context, client *otlphttp.Client, batches []model.Batch[model.MetricPoint]) error {
			return client.ExportMetrics(ctx, model.ToMetrics(batches))
		},
	}
}

func NewLogsHTTP(name string, cfg OTLPConfig, logger hclog.Logger) Exporter[model.LogRecord] {
	return &otlpHTTP[model.LogRecord]{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("otlp-http").With("exporter", name),
		send: func(ctx context.Context, client *otlphttp.Client, batches []model.Batch[model.LogRecord]) error {
			return client.ExportLogs(ctx, model.ToLogs(batches))
		},
	}
}

func (e *otlpHTTP[T]) Name() string { return e.name }

func (e *otlpHTTP[T]) Start(context.Context) error {
	client, err := otlphttp.New(&otlphttp.Config{
		Endpoint: e.cfg.Endpoint,
		Insecure: e.cfg.Insecure,
		UserAgent: fmt.Sprintf("signalfan/%s (%s/%s)",
			version.GetHumanVersion(), runtime.GOOS, runtime.GOARCH),
		Logger: e.logger,
	})
	if err != nil {
		return err
	}
	e.client = client
	return nil
}

func (e *otlpHTTP[T]) Export(ctx context.Context, batches []model.Batch[T]) error {
	if e.client == nil {
		return errors.New("exporter not started")
	}
	return e.send(ctx, e.client, batches)
}

// Probe sends an empty export request to check that the endpoint answers.
func (e *otlpHTTP[T]) Probe(ctx context.Context) error {
	if e.client == nil {
		return errors.New("exporter not started")
	}
	return e.send(ctx, e.client, nil)
}

func (e *otlpHTTP[T]) Shutdown(context.Context) error { return nil }
