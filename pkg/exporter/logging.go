// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"encoding/hex"

	"github.com/hashicorp/go-hclog"

	"github.com/signalfan/signalfan/pkg/model"
)

// Logging is a synchronous exporter that writes a human-readable summary
// of every flush. It never fails, which also makes it the always-healthy
// baseline sink in a fan-out.
type Logging[T model.Signal] struct {
	name    string
	logger  hclog.Logger
	verbose bool
}

// NewLogging builds a logging exporter. With verbose set, every item is
// logged at debug level in addition to the per-batch summary.
func NewLogging[T model.Signal](name string, logger hclog.Logger, verbose bool) *Logging[T] {
	return &Logging[T]{
		name:    name,
		logger:  logger.Named("logging-exporter").With("signal", model.KindOf[T]().String()),
		verbose: verbose,
	}
}

func (e *Logging[T]) Name() string { return e.name }

func (e *Logging[T]) Start(context.Context) error { return nil }

func (e *Logging[T]) Shutdown(context.Context) error { return nil }

func (e *Logging[T]) Export(_ context.Context, batches []model.Batch[T]) error {
	for _, b := range batches {
		e.logger.Info("flush",
			"seq", b.Seq(),
			"service", b.Resource().ServiceName(),
			"items", b.Len(),
		)
		if !e.verbose {
			continue
		}
		for i := range b.Items() {
			e.logItem(&b.Items()[i])
		}
	}
	return nil
}

func (e *Logging[T]) logItem(item *T) {
	switch v := any(item).(type) {
	case *model.Span:
		e.logger.Debug("span",
			"trace_id", hex.EncodeToString(v.TraceID[:]),
			"span_id", hex.EncodeToString(v.SpanID[:]),
			"name", v.Name,
			"duration", v.Duration(),
			"status", v.Status,
		)
	case *model.MetricPoint:
		if v.Kind == model.MetricHistogram {
			e.logger.Debug("metric",
				"name", v.Name,
				"kind", v.Kind,
				"count", v.Histogram.Count,
				"sum", v.Histogram.Sum,
			)
		} else {
			e.logger.Debug("metric", "name", v.Name, "kind", v.Kind, "value", v.Value)
		}
	case *model.LogRecord:
		e.logger.Debug("log",
			"severity", v.Severity,
			"body", v.Body,
		)
	}
}
