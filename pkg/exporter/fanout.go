// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/signalfan/signalfan/pkg/model"
)

// HealthState is the delivery health of one exporter, owned and mutated
// exclusively by its fan-out slot.
type HealthState int

const (
	// Healthy: the last delivery succeeded.
	Healthy HealthState = iota
	// Degraded: at least one recent attempt failed but retries are not
	// exhausted.
	Degraded
	// Unavailable: retries were exhausted; batches are dropped and counted
	// until a probe delivery succeeds.
	Unavailable
	// Starting: the exporter's connectivity probe has not reported yet.
	// Resolves to Healthy or Degraded; only network exporters start here.
	Starting
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	case Starting:
		return "starting"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of one exporter's health.
type Status struct {
	Name                string
	State               HealthState
	ConsecutiveFailures int
	RetryAt             time.Time
	DroppedBatches      uint64
}

// Fanout delivers every flush to all configured exporters independently
// and concurrently. One exporter failing, retrying, or being dropped never
// blocks or fails delivery to a sibling.
type Fanout[T model.Signal] struct {
	logger hclog.Logger
	kind   model.Kind
	slots  []*slot[T]
}

func NewFanout[T model.Signal](logger hclog.Logger, exporters []Settings[T]) *Fanout[T] {
	kind := model.KindOf[T]()
	f := &Fanout[T]{
		logger: logger.Named("fanout").With("signal", kind.String()),
		kind:   kind,
	}
	for _, set := range exporters {
		timeout := set.Timeout
		if timeout <= 0 {
			timeout = DefaultCallTimeout
		}
		s := &slot[T]{
			exp:     set.Exporter,
			retry:   set.Retry.withDefaults(),
			timeout: timeout,
			logger:  f.logger.With("exporter", set.Exporter.Name()),
			labels: []metrics.Label{
				{Name: "signal", Value: kind.String()},
				{Name: "exporter", Value: set.Exporter.Name()},
			},
		}
		// Probe-capable exporters hold readiness back until the probe
		// reports; the rest are healthy the moment they start.
		if _, ok := set.Exporter.(Prober); ok {
			s.state = Starting
		}
		f.slots = append(f.slots, s)
	}
	return f
}

// Start starts every exporter. A start failure is a configuration-level
// problem (unparseable endpoint, bad TLS material) and is returned to
// abort startup. Probe-capable exporters get one async connectivity probe
// so the readiness gate observes the real downstream state.
func (f *Fanout[T]) Start(ctx context.Context) error {
	var errs *multierror.Error
	for _, s := range f.slots {
		if err := s.exp.Start(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("starting exporter %q: %w", s.exp.Name(), err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	for _, s := range f.slots {
		if p, ok := s.exp.(Prober); ok {
			go s.probe(ctx, p)
		}
	}
	return nil
}

// Export fans one flush out to every exporter and joins the deliveries.
// The returned error aggregates the per-exporter failures; successful
// siblings are unaffected.
func (f *Fanout[T]) Export(ctx context.Context, batches []model.Batch[T]) error {
	if len(batches) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, s := range f.slots {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.deliver(ctx, batches); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// Ready reports whether every exporter is Healthy.
func (f *Fanout[T]) Ready() bool {
	for _, s := range f.slots {
		if s.status().State != Healthy {
			return false
		}
	}
	return true
}

// Statuses snapshots the health of every exporter.
func (f *Fanout[T]) Statuses() []Status {
	statuses := make([]Status, 0, len(f.slots))
	for _, s := range f.slots {
		statuses = append(statuses, s.status())
	}
	return statuses
}

// Shutdown stops every exporter, aggregating errors.
func (f *Fanout[T]) Shutdown(ctx context.Context) error {
	var errs *multierror.Error
	for _, s := range f.slots {
		if err := s.exp.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("stopping exporter %q: %w", s.exp.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

// slot wraps one exporter with its retry policy and health state. The
// state is mutated only from deliver, which the fan-out runs one at a time
// per slot per flush; the mutex exists for the snapshot readers.
type slot[T model.Signal] struct {
	exp     Exporter[T]
	retry   RetryConfig
	timeout time.Duration
	logger  hclog.Logger
	labels  []metrics.Label

	mu       sync.Mutex
	state    HealthState
	failures int
	retryAt  time.Time
	dropped  uint64
}

func (s *slot[T]) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Name:                s.exp.Name(),
		State:               s.state,
		ConsecutiveFailures: s.failures,
		RetryAt:             s.retryAt,
		DroppedBatches:      s.dropped,
	}
}

func (s *slot[T]) deliver(ctx context.Context, batches []model.Batch[T]) error {
	probe := false
	s.mu.Lock()
	if s.state == Unavailable {
		if time.Now().Before(s.retryAt) {
			s.dropped++
			dropped := s.dropped
			s.mu.Unlock()
			metrics.IncrCounterWithLabels([]string{"exporter", "dropped_batches"}, 1, s.labels)
			s.logger.Warn("dropping flush for unavailable exporter",
				"seq", batches[0].Seq(), "items", model.ItemCount(batches), "dropped_total", dropped)
			return fmt.Errorf("exporter %q: %w", s.exp.Name(), ErrUnavailable)
		}
		probe = true
	}
	s.mu.Unlock()

	attempts := s.retry.MaxAttempts
	if probe {
		// A single probe attempt decides whether the exporter recovers.
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.InitialInterval
	bo.Multiplier = s.retry.Multiplier
	bo.MaxInterval = s.retry.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.attempt(ctx, batches)
		if err == nil {
			s.markHealthy(probe)
			metrics.IncrCounterWithLabels([]string{"exporter", "sent_batches"}, 1, s.labels)
			metrics.IncrCounterWithLabels([]string{"exporter", "sent_items"}, float32(model.ItemCount(batches)), s.labels)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Canceled or drain timeout: the call is abandoned, not held
			// against the exporter's health.
			metrics.IncrCounterWithLabels([]string{"exporter", "failed_on_shutdown"}, 1, s.labels)
			return fmt.Errorf("exporter %q: delivery abandoned: %w", s.exp.Name(), lastErr)
		}

		s.markFailure()
		metrics.IncrCounterWithLabels([]string{"exporter", "failed_attempts"}, 1, s.labels)
		s.logger.Debug("delivery attempt failed",
			"seq", batches[0].Seq(), "attempt", attempt, "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			metrics.IncrCounterWithLabels([]string{"exporter", "failed_on_shutdown"}, 1, s.labels)
			return fmt.Errorf("exporter %q: delivery abandoned: %w", s.exp.Name(), ctx.Err())
		}
	}

	s.markUnavailable()
	metrics.IncrCounterWithLabels([]string{"exporter", "failed_batches"}, 1, s.labels)
	s.logger.Error("delivery failed, exporter marked unavailable",
		"seq", batches[0].Seq(), "attempts", attempts, "error", lastErr)
	return fmt.Errorf("exporter %q: delivery failed after %d attempts: %w", s.exp.Name(), attempts, lastErr)
}

// probe runs one empty delivery at startup. A failed probe degrades the
// slot instead of counting toward the Unavailable threshold; the first
// successful delivery clears it.
func (s *slot[T]) probe(ctx context.Context, p Prober) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := p.Probe(probeCtx); err != nil {
		s.markFailure()
		s.logger.Warn("startup probe failed", "error", err)
		return
	}
	s.markHealthy(false)
}

func (s *slot[T]) attempt(ctx context.Context, batches []model.Batch[T]) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.exp.Export(callCtx, batches)
}

func (s *slot[T]) markHealthy(recovered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Healthy
	s.failures = 0
	s.retryAt = time.Time{}
	if recovered {
		s.logger.Info("exporter recovered")
	}
}

func (s *slot[T]) markFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.state == Healthy || s.state == Starting {
		s.state = Degraded
	}
}

func (s *slot[T]) markUnavailable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Unavailable
	s.retryAt = time.Now().Add(s.retry.MaxInterval)
}
