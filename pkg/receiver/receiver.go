// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/armon/go-metrics"

	"github.com/signalfan/signalfan/pkg/model"
)

// Sink accepts decoded batches of one signal kind. The pipeline batcher
// implements it; Offer applies backpressure when the ingress queue is
// full.
type Sink[T model.Signal] interface {
	Offer(ctx context.Context, batch model.Batch[T]) error
}

// Sinks wires each signal kind to its pipeline. A nil sink means the
// signal kind is not configured and its endpoint is not served.
type Sinks struct {
	Traces  Sink[model.Span]
	Metrics Sink[model.MetricPoint]
	Logs    Sink[model.LogRecord]
}

// DecodeError marks a malformed or invalid payload. It is reported to the
// caller of the offending request and never crashes the receiver.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding telemetry payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CounterTracker keeps the last observed value of every counter stream so
// decreasing counters can be rejected at decode time. Both transports
// share one tracker, so a stream moving between gRPC and HTTP keeps its
// history.
type CounterTracker struct {
	mu   sync.Mutex
	last map[string]float64
}

// maxTrackedStreams bounds the tracker; when it fills up the history is
// reset rather than growing without bound.
const maxTrackedStreams = 16384

// NewCounterTracker builds a tracker shared by every receiver transport.
func NewCounterTracker() *CounterTracker {
	return &CounterTracker{last: make(map[string]float64)}
}

func (t *CounterTracker) check(p *model.MetricPoint) error {
	if p.Kind != model.MetricCounter {
		return nil
	}
	key := p.StreamKey()

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[key]; ok && p.Value < last {
		return fmt.Errorf("monotonic counter %q decreased from %v to %v", p.Name, last, p.Value)
	}
	if len(t.last) >= maxTrackedStreams {
		t.last = make(map[string]float64)
	}
	t.last[key] = p.Value
	return nil
}

// offerAll pushes decoded batches into the pipeline, counting accepted and
// refused items. The first refusal aborts the request; the client may
// retry the whole payload.
func offerAll[T model.Signal](ctx context.Context, sink Sink[T], batches []model.Batch[T], labels []metrics.Label) error {
	for _, b := range batches {
		if err := sink.Offer(ctx, b); err != nil {
			metrics.IncrCounterWithLabels([]string{"receiver", "refused_items"}, float32(b.Len()), labels)
			return err
		}
		metrics.IncrCounterWithLabels([]string{"receiver", "accepted_items"}, float32(b.Len()), labels)
	}
	return nil
}

func transportLabels(kind model.Kind, transport string) []metrics.Label {
	return []metrics.Label{
		{Name: "signal", Value: kind.String()},
		{Name: "transport", Value: transport},
	}
}
