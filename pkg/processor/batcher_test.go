// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/signalfan/signalfan/pkg/model"
)

// captureSink records every flush it receives. A non-nil release channel
// makes Export block until it is closed or ctx expires.
type captureSink struct {
	release chan struct{}

	mu      sync.Mutex
	flushes [][]model.Batch[model.LogRecord]
}

func (s *captureSink) Export(ctx context.Context, batches []model.Batch[model.LogRecord]) error {
	if s.release != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.release:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, batches)
	return nil
}

func (s *captureSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flushes)
}

func (s *captureSink) waitForFlushes(t *testing.T, n int) [][]model.Batch[model.LogRecord] {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.flushes) >= n {
			out := s.flushes
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d flushes", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func logBatch(service string, n int) model.Batch[model.LogRecord] {
	res := model.Resource{Attributes: model.Attributes{
		{Key: "service.name", Value: model.StringValue(service)},
	}}
	recs := make([]model.LogRecord, n)
	for i := range recs {
		recs[i] = model.LogRecord{
			Time:     time.Now(),
			Severity: model.SeverityInfo,
			Body:     "event",
		}
	}
	return model.NewBatch(res, recs)
}

func TestBatcherFlushesOnSize(t *testing.T) {
	sink := &captureSink{}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  4,
		FlushInterval: time.Hour,
	}, sink)
	b.Start(context.Background())

	require.NoError(t, b.Offer(context.Background(), logBatch("web", 2)))
	require.NoError(t, b.Offer(context.Background(), logBatch("web", 2)))

	flushes := sink.waitForFlushes(t, 1)
	require.Len(t, flushes[0], 1)
	require.Equal(t, 4, flushes[0][0].Len())
	require.Equal(t, uint64(1), flushes[0][0].Seq())

	require.NoError(t, b.Drain(context.Background()))
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := &captureSink{}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  1000,
		FlushInterval: 20 * time.Millisecond,
	}, sink)
	b.Start(context.Background())

	require.NoError(t, b.Offer(context.Background(), logBatch("web", 1)))

	flushes := sink.waitForFlushes(t, 1)
	require.Equal(t, 1, flushes[0][0].Len())

	require.NoError(t, b.Drain(context.Background()))
}

func TestBatcherSealsPerResource(t *testing.T) {
	sink := &captureSink{}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  6,
		FlushInterval: time.Hour,
	}, sink)
	b.Start(context.Background())

	require.NoError(t, b.Offer(context.Background(), logBatch("web", 2)))
	require.NoError(t, b.Offer(context.Background(), logBatch("db", 2)))
	require.NoError(t, b.Offer(context.Background(), logBatch("web", 2)))

	flushes := sink.waitForFlushes(t, 1)
	sealed := flushes[0]

	// One sealed batch per distinct resource, first-appearance order,
	// sharing the flush sequence number.
	require.Len(t, sealed, 2)
	require.Equal(t, "web", sealed[0].Resource().ServiceName())
	require.Equal(t, "db", sealed[1].Resource().ServiceName())
	require.Equal(t, 4, sealed[0].Len())
	require.Equal(t, 2, sealed[1].Len())
	require.Equal(t, sealed[0].Seq(), sealed[1].Seq())

	require.NoError(t, b.Drain(context.Background()))
}

func TestBatcherConcurrentOffersDeliverExactlyOnce(t *testing.T) {
	const producers = 8
	const perProducer = 200

	sink := &captureSink{}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  7,
		FlushInterval: 5 * time.Millisecond,
		QueueSize:     producers * perProducer,
	}, sink)
	b.Start(context.Background())

	res := model.Resource{Attributes: model.Attributes{
		{Key: "service.name", Value: model.StringValue("web")},
	}}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				rec := model.LogRecord{
					Time:     time.Now(),
					Severity: model.SeverityInfo,
					Body:     fmt.Sprintf("producer-%d-event-%d", p, i),
				}
				if err := b.Offer(context.Background(), model.NewBatch(res, []model.LogRecord{rec})); err != nil {
					t.Errorf("offer: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, b.Drain(context.Background()))

	// Every offered record comes out of exactly one sealed batch: the
	// buffer swaps racing the producers lose nothing and duplicate
	// nothing.
	seen := make(map[string]int, producers*perProducer)
	for _, flush := range sink.flushes {
		for _, batch := range flush {
			for _, rec := range batch.Items() {
				seen[rec.Body]++
			}
		}
	}
	require.Len(t, seen, producers*perProducer)
	for body, n := range seen {
		require.Equalf(t, 1, n, "record %q delivered %d times", body, n)
	}
}

func TestBatcherQueueFull(t *testing.T) {
	sink := &captureSink{release: make(chan struct{})}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  1,
		FlushInterval: time.Hour,
		QueueSize:     1,
		EnqueueWait:   10 * time.Millisecond,
	}, sink)
	b.Start(context.Background())
	defer close(sink.release)

	// The first batch is picked up and blocks in the sink, the second
	// flush waits in flushCh, further offers pile into the queue.
	var err error
	for i := 0; i < 10; i++ {
		err = b.Offer(context.Background(), logBatch("web", 1))
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrQueueFull)

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Drain(drainCtx)
}

func TestBatcherDrainFlushesRemainder(t *testing.T) {
	sink := &captureSink{}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize:  1000,
		FlushInterval: time.Hour,
	}, sink)
	b.Start(context.Background())

	require.NoError(t, b.Offer(context.Background(), logBatch("web", 3)))
	require.NoError(t, b.Drain(context.Background()))

	// Buffered items are flushed on drain regardless of the thresholds.
	require.Equal(t, 1, sink.flushCount())
	require.Equal(t, 3, sink.flushes[0][0].Len())

	err := b.Offer(context.Background(), logBatch("web", 1))
	require.ErrorIs(t, err, ErrStopped)
}

func TestBatcherDrainTimeoutAbandonsExports(t *testing.T) {
	sink := &captureSink{release: make(chan struct{})}
	b := New(hclog.NewNullLogger(), Config{
		MaxBatchSize: 1,
	}, sink)
	b.Start(context.Background())

	require.NoError(t, b.Offer(context.Background(), logBatch("web", 1)))

	drainCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Drain(drainCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}
