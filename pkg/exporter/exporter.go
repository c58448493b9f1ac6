// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package exporter

import (
	"context"
	"errors"
	"time"

	"github.com/signalfan/signalfan/pkg/model"
)

// ErrUnavailable marks a delivery that was dropped because its exporter is
// in the Unavailable state. The batch is counted, not retried.
var ErrUnavailable = errors.New("exporter is unavailable")

const (
	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMultiplier      = 1.5
	DefaultRetryMaxInterval     = 5 * time.Second
	DefaultRetryMaxAttempts     = 5
	DefaultCallTimeout          = 10 * time.Second
)

// RetryConfig is the per-exporter retry policy: exponential backoff with
// jitter starting at InitialInterval, growing by Multiplier up to
// MaxInterval, for at most MaxAttempts delivery attempts. Exhausting the
// attempts transitions the exporter to Unavailable.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultRetryInitialInterval
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultRetryMultiplier
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultRetryMaxInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryMaxAttempts
	}
	return c
}

// Exporter delivers sealed batches to one downstream sink. Implementations
// must treat batches as read-only. Export is invoked by the fan-out, which
// owns retries and health state; an implementation only reports whether a
// single delivery attempt succeeded.
type Exporter[T model.Signal] interface {
	Name() string
	Start(ctx context.Context) error
	Export(ctx context.Context, batches []model.Batch[T]) error
	Shutdown(ctx context.Context) error
}

// Prober is implemented by exporters that can verify downstream
// connectivity with an empty delivery. The fan-out probes them once at
// start, before any traffic, so readiness reflects an observed state
// rather than an assumed one.
type Prober interface {
	Probe(ctx context.Context) error
}

// Settings binds an exporter to its retry policy and per-call timeout
// inside a fan-out.
type Settings[T model.Signal] struct {
	Exporter Exporter[T]
	Retry    RetryConfig
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
}
