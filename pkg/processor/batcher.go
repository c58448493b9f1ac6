// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/signalfan/signalfan/pkg/model"
)

var (
	// ErrQueueFull is returned by Offer when the ingress queue stayed full
	// for the whole enqueue wait. Receivers surface it to the caller as a
	// resource-exhausted rejection; the caller may retry.
	ErrQueueFull = errors.New("ingress queue is full")

	// ErrStopped is returned by Offer once draining has begun.
	ErrStopped = errors.New("batcher is draining")
)

const (
	DefaultMaxBatchSize  = 512
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultQueueSize     = 2048
	DefaultNumConsumers  = 1
	DefaultEnqueueWait   = 50 * time.Millisecond
)

// Config holds the batching policy for one pipeline.
type Config struct {
	// MaxBatchSize is the item count that triggers a flush.
	MaxBatchSize int
	// FlushInterval is the longest a buffered item waits before a
	// time-triggered flush. The interval is measured from the first item
	// of the current accumulation.
	FlushInterval time.Duration
	// QueueSize bounds the ingress queue, in receiver batches.
	QueueSize int
	// NumConsumers is the number of concurrent flush workers. The default
	// of one keeps at most a single flush in-flight per pipeline.
	NumConsumers int
	// EnqueueWait is how long Offer blocks on a full queue before
	// rejecting with ErrQueueFull.
	EnqueueWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.NumConsumers <= 0 {
		c.NumConsumers = DefaultNumConsumers
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = DefaultEnqueueWait
	}
	return c
}

// Sink receives the sealed batches of one flush. The fan-out implements
// this; errors are aggregated per exporter and already counted by the time
// Export returns, so the batcher only logs them.
type Sink[T model.Signal] interface {
	Export(ctx context.Context, batches []model.Batch[T]) error
}

// Batcher accumulates incoming receiver batches and releases them as
// sealed flushes under a size/time policy. A single accumulator goroutine
// owns the buffer, so the size and time triggers are observed atomically:
// whichever fires first seals the buffer and the other is disarmed.
type Batcher[T model.Signal] struct {
	logger hclog.Logger
	cfg    Config
	sink   Sink[T]
	kind   model.Kind
	labels []metrics.Label

	in      chan model.Batch[T]
	flushCh chan []model.Batch[T]
	seq     atomic.Uint64

	mu     sync.RWMutex
	closed bool

	exportCtx    context.Context
	exportCancel context.CancelFunc

	accWG    sync.WaitGroup
	workerWG sync.WaitGroup
}

func New[T model.Signal](logger hclog.Logger, cfg Config, sink Sink[T]) *Batcher[T] {
	cfg = cfg.withDefaults()
	kind := model.KindOf[T]()
	return &Batcher[T]{
		logger:  logger.Named("batcher").With("signal", kind.String()),
		cfg:     cfg,
		sink:    sink,
		kind:    kind,
		labels:  []metrics.Label{{Name: "signal", Value: kind.String()}},
		in:      make(chan model.Batch[T], cfg.QueueSize),
		flushCh: make(chan []model.Batch[T], cfg.NumConsumers),
	}
}

// Start launches the accumulator and the flush workers. Exports run on a
// context detached from ctx so that draining can let in-flight flushes
// finish after ctx is canceled.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.exportCtx, b.exportCancel = context.WithCancel(context.WithoutCancel(ctx))
	b.accWG.Add(1)
	go b.run()
	for i := 0; i < b.cfg.NumConsumers; i++ {
		b.workerWG.Add(1)
		go b.worker()
	}
}

// Offer pushes one decoded receiver batch into the ingress queue. When the
// queue is full it blocks up to the configured enqueue wait and then
// rejects with ErrQueueFull rather than dropping silently.
func (b *Batcher[T]) Offer(ctx context.Context, batch model.Batch[T]) error {
	if batch.Len() == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStopped
	}

	select {
	case b.in <- batch:
		return nil
	default:
	}

	wait := time.NewTimer(b.cfg.EnqueueWait)
	defer wait.Stop()
	select {
	case b.in <- batch:
		return nil
	case <-wait.C:
		metrics.IncrCounterWithLabels([]string{"processor", "queue_full"}, 1, b.labels)
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops intake, flushes whatever is buffered regardless of the
// size/time thresholds, and waits for in-flight flushes to finish. When
// ctx expires first the remaining exports are abandoned via cancellation
// and Drain returns the context error.
func (b *Batcher[T]) Drain(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.in)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.accWG.Wait()
		b.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.exportCancel()
		return nil
	case <-ctx.Done():
		b.logger.Warn("drain timeout reached, abandoning in-flight flushes")
		b.exportCancel()
		<-done
		return ctx.Err()
	}
}

func (b *Batcher[T]) run() {
	defer b.accWG.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false
	disarm := func() {
		if timerArmed && !timer.Stop() {
			<-timer.C
		}
		timerArmed = false
	}

	var buffered []model.Batch[T]
	count := 0

	flush := func() {
		if count == 0 {
			return
		}
		group := seal(buffered, b.seq.Add(1))
		metrics.IncrCounterWithLabels([]string{"processor", "flushed_items"}, float32(count), b.labels)
		metrics.IncrCounterWithLabels([]string{"processor", "flushes"}, 1, b.labels)
		buffered, count = nil, 0
		disarm()
		b.flushCh <- group
	}

	for {
		select {
		case batch, ok := <-b.in:
			if !ok {
				flush()
				close(b.flushCh)
				return
			}
			if count == 0 {
				timer.Reset(b.cfg.FlushInterval)
				timerArmed = true
			}
			buffered = append(buffered, batch)
			count += batch.Len()
			if count >= b.cfg.MaxBatchSize {
				flush()
			}
		case <-timer.C:
			timerArmed = false
			flush()
		}
	}
}

func (b *Batcher[T]) worker() {
	defer b.workerWG.Done()
	for group := range b.flushCh {
		if err := b.sink.Export(b.exportCtx, group); err != nil {
			b.logger.Debug("flush completed with exporter errors",
				"seq", group[0].Seq(), "items", model.ItemCount(group), "error", err)
		}
	}
}

// seal groups the buffered receiver batches by resource, preserving
// arrival order within each resource, and stamps every sealed batch with
// the flush sequence number. The common case of a single resource per
// window stays a single batch.
func seal[T model.Signal](buffered []model.Batch[T], seq uint64) []model.Batch[T] {
	if len(buffered) == 1 {
		return []model.Batch[T]{buffered[0].WithSeq(seq)}
	}

	var order []string
	merged := make(map[string]model.Batch[T], len(buffered))
	for _, batch := range buffered {
		key := batch.Resource().Fingerprint()
		if existing, ok := merged[key]; ok {
			merged[key] = existing.Merge(batch)
			continue
		}
		merged[key] = batch
		order = append(order, key)
	}

	sealed := make([]model.Batch[T], 0, len(order))
	for _, key := range order {
		sealed = append(sealed, merged[key].WithSeq(seq))
	}
	return sealed
}
