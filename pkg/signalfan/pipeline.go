// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/signalfan/signalfan/pkg/exporter"
	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/pkg/processor"
)

// otlpFactory builds a transport-specific OTLP exporter for one signal
// kind. The gRPC and HTTP constructors of the exporter package match it.
type otlpFactory[T model.Signal] func(name string, cfg exporter.OTLPConfig, logger hclog.Logger) exporter.Exporter[T]

// pipeline wires the batching stage to the exporter fan-out for one
// signal kind. Receivers push into the batcher, the batcher flushes into
// the fan-out.
type pipeline[T model.Signal] struct {
	kind    model.Kind
	batcher *processor.Batcher[T]
	fanout  *exporter.Fanout[T]
}

func newPipeline[T model.Signal](logger hclog.Logger, cfg *Config, newGRPC, newHTTP otlpFactory[T]) *pipeline[T] {
	kind := model.KindOf[T]()
	plogger := logger.With("signal", kind.String())

	settings := make([]exporter.Settings[T], 0, len(cfg.Exporters))
	for _, e := range cfg.Exporters {
		var exp exporter.Exporter[T]
		switch e.Type {
		case ExporterTypeLogging:
			exp = exporter.NewLogging[T](e.Name, plogger, e.Verbose)
		case ExporterTypeOTLP:
			exp = newGRPC(e.Name, exporter.OTLPConfig{
				Endpoint: e.Endpoint,
				Insecure: e.Insecure,
			}, plogger)
		case ExporterTypeOTLPHTTP:
			exp = newHTTP(e.Name, exporter.OTLPConfig{
				Endpoint: e.Endpoint,
				Insecure: e.Insecure,
			}, plogger)
		}
		settings = append(settings, exporter.Settings[T]{
			Exporter: exp,
			Timeout:  e.Timeout,
			Retry: exporter.RetryConfig{
				InitialInterval: e.Retry.InitialInterval,
				Multiplier:      e.Retry.Multiplier,
				MaxInterval:     e.Retry.MaxInterval,
				MaxAttempts:     e.Retry.MaxAttempts,
			},
		})
	}

	fan := exporter.NewFanout(plogger, settings)
	bat := processor.New(plogger, processor.Config{
		MaxBatchSize:  cfg.Processor.MaxBatchSize,
		FlushInterval: cfg.Processor.FlushInterval,
		QueueSize:     cfg.Processor.QueueSize,
		NumConsumers:  cfg.Processor.NumConsumers,
		EnqueueWait:   cfg.Processor.EnqueueWait,
	}, fan)

	return &pipeline[T]{
		kind:    kind,
		batcher: bat,
		fanout:  fan,
	}
}

func (p *pipeline[T]) start(ctx context.Context) error {
	if err := p.fanout.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s exporters: %w", p.kind, err)
	}
	p.batcher.Start(ctx)
	return nil
}

func (p *pipeline[T]) ready() bool {
	return p.fanout.Ready()
}

// drain flushes buffered items and waits for in-flight deliveries, both
// bounded by ctx.
func (p *pipeline[T]) drain(ctx context.Context) error {
	var errs error
	if err := p.batcher.Drain(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("draining batcher: %w", err))
	}
	if err := p.fanout.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("shutting down exporters: %w", err))
	}
	return errs
}
