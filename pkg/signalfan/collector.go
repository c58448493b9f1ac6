// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/signalfan/signalfan/internal/debug"
	"github.com/signalfan/signalfan/pkg/exporter"
	"github.com/signalfan/signalfan/pkg/model"
	"github.com/signalfan/signalfan/pkg/receiver"
)

// Collector represents the signalfan process: per-signal pipelines fed by
// the ingest transports, supervised until shutdown.
type Collector struct {
	logger hclog.Logger
	cfg    *Config

	traces  *pipeline[model.Span]
	metrics *pipeline[model.MetricPoint]
	logs    *pipeline[model.LogRecord]

	grpcReceiver *receiver.GRPC
	httpReceiver *receiver.HTTP

	telemetry *telemetryConfig
	lifecycle *lifecycleConfig

	ready atomic.Bool
}

// New creates a new instance of Collector
func New(cfg *Config) (*Collector, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	hclogLevel := hclog.LevelFromString(cfg.Logging.LogLevel)
	if hclogLevel == hclog.NoLevel {
		hclogLevel = hclog.Info
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Logging.Name,
		Level:      hclogLevel,
		JSONFormat: cfg.Logging.LogJSON,
	})

	return &Collector{
		logger: logger,
		cfg:    cfg,
	}, nil
}

func validateConfig(cfg *Config) error {
	switch {
	case cfg.Receivers == nil:
		return errors.New("receiver settings not specified")
	case cfg.Receivers.GRPCDisabled && cfg.Receivers.HTTPDisabled:
		return errors.New("at least one ingest transport must be enabled")
	case !cfg.Receivers.GRPCDisabled && cfg.Receivers.GRPCEndpoint == "":
		return errors.New("grpc receiver endpoint not specified")
	case !cfg.Receivers.HTTPDisabled && cfg.Receivers.HTTPEndpoint == "":
		return errors.New("http receiver endpoint not specified")
	case cfg.Processor == nil:
		return errors.New("processor settings not specified")
	case cfg.Processor.MaxBatchSize < 0:
		return errors.New("processor max batch size must not be negative")
	case cfg.Processor.QueueSize < 0:
		return errors.New("processor queue size must not be negative")
	case cfg.Processor.NumConsumers < 0:
		return errors.New("processor consumer count must not be negative")
	case len(cfg.Exporters) == 0:
		return errors.New("no exporters specified")
	case cfg.Pipelines == nil:
		return errors.New("pipeline settings not specified")
	case cfg.Pipelines.TracesDisabled && cfg.Pipelines.MetricsDisabled && cfg.Pipelines.LogsDisabled:
		return errors.New("all signal pipelines are disabled")
	case cfg.Lifecycle == nil:
		return errors.New("lifecycle settings not specified")
	case cfg.Logging == nil:
		return errors.New("logging settings not specified")
	}

	seen := make(map[string]struct{}, len(cfg.Exporters))
	for _, e := range cfg.Exporters {
		if e.Name == "" {
			return errors.New("exporter name not specified")
		}
		if _, ok := seen[e.Name]; ok {
			return fmt.Errorf("duplicate exporter name %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		switch e.Type {
		case ExporterTypeLogging:
		case ExporterTypeOTLP, ExporterTypeOTLPHTTP:
			if e.Endpoint == "" {
				return fmt.Errorf("exporter %q requires an endpoint", e.Name)
			}
		default:
			return fmt.Errorf("unknown type %q for exporter %q", e.Type, e.Name)
		}

		if e.Retry.Multiplier != 0 && e.Retry.Multiplier <= 1 {
			return fmt.Errorf("exporter %q retry multiplier must be greater than 1", e.Name)
		}
		if e.Retry.MaxAttempts < 0 {
			return fmt.Errorf("exporter %q retry max attempts must not be negative", e.Name)
		}
	}

	if cfg.Telemetry != nil && !cfg.Telemetry.Disabled {
		if cfg.Telemetry.ScrapePath == "" {
			return errors.New("telemetry scrape path must not be empty")
		}
		if cfg.Telemetry.RetentionTime <= 0 {
			return errors.New("telemetry retention time must be greater than zero")
		}
	}

	return nil
}

func (c *Collector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = hclog.WithContext(ctx, c.logger)
	c.logger.Info("started signalfan process")

	c.telemetry = newTelemetryConfig(c.cfg)
	if err := c.telemetry.startTelemetry(ctx); err != nil {
		return err
	}

	// Exporter startup failures abort before any receiver binds.
	if !c.cfg.Pipelines.TracesDisabled {
		c.traces = newPipeline(c.logger, c.cfg, exporter.NewTracesGRPC, exporter.NewTracesHTTP)
		if err := c.traces.start(ctx); err != nil {
			return err
		}
	}
	if !c.cfg.Pipelines.MetricsDisabled {
		c.metrics = newPipeline(c.logger, c.cfg, exporter.NewMetricsGRPC, exporter.NewMetricsHTTP)
		if err := c.metrics.start(ctx); err != nil {
			return err
		}
	}
	if !c.cfg.Pipelines.LogsDisabled {
		c.logs = newPipeline(c.logger, c.cfg, exporter.NewLogsGRPC, exporter.NewLogsHTTP)
		if err := c.logs.start(ctx); err != nil {
			return err
		}
	}

	c.waitForExporters(ctx)

	var sinks receiver.Sinks
	if c.traces != nil {
		sinks.Traces = c.traces.batcher
	}
	if c.metrics != nil {
		sinks.Metrics = c.metrics.batcher
	}
	if c.logs != nil {
		sinks.Logs = c.logs.batcher
	}
	counters := receiver.NewCounterTracker()

	if !c.cfg.Receivers.GRPCDisabled {
		c.grpcReceiver = receiver.NewGRPC(c.logger, receiver.GRPCConfig{
			Endpoint: c.cfg.Receivers.GRPCEndpoint,
		}, sinks, counters)
		if err := c.grpcReceiver.Start(ctx); err != nil {
			return err
		}
	}
	if !c.cfg.Receivers.HTTPDisabled {
		c.httpReceiver = receiver.NewHTTP(c.logger, receiver.HTTPConfig{
			Endpoint: c.cfg.Receivers.HTTPEndpoint,
		}, sinks, counters)
		if err := c.httpReceiver.Start(ctx); err != nil {
			return err
		}
	}
	c.ready.Store(true)

	if c.cfg.Debug != nil && c.cfg.Debug.Enabled {
		go debug.EnableDebugServer(ctx, c.cfg.Debug.BindPort, c.telemetry.gatherer())
	}

	c.lifecycle = newLifecycleConfig(c.cfg, c, cancel)
	if err := c.lifecycle.startLifecycleManager(ctx); err != nil {
		return err
	}

	doneCh := make(chan error)
	go func() {
		select {
		case <-ctx.Done():
			doneCh <- c.drain()
		case <-c.lifecycle.lifecycleServerExited():
			doneCh <- errors.New("lifecycle server exited unexpectedly")
		case <-c.telemetry.telemetryServerExited():
			doneCh <- errors.New("telemetry server exited unexpectedly")
		}
	}()
	return <-doneCh
}

// waitForExporters blocks until every pipeline reports all exporters
// healthy or the readiness grace period elapses, whichever comes first.
// Traffic is accepted either way; an unhealthy start is just logged.
func (c *Collector) waitForExporters(ctx context.Context) {
	grace := c.cfg.Lifecycle.ReadinessGracePeriod
	if grace <= 0 {
		return
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if c.pipelinesReady() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			c.logger.Warn("readiness grace period elapsed with unhealthy exporters, accepting traffic anyway")
			return
		case <-tick.C:
		}
	}
}

func (c *Collector) pipelinesReady() bool {
	if c.traces != nil && !c.traces.ready() {
		return false
	}
	if c.metrics != nil && !c.metrics.ready() {
		return false
	}
	if c.logs != nil && !c.logs.ready() {
		return false
	}
	return true
}

// Ready reports whether the collector is accepting traffic.
func (c *Collector) Ready() bool {
	return c.ready.Load()
}

// drain stops accepting new input, flushes the pipelines, and waits for
// in-flight deliveries up to the configured drain timeout. Deliveries
// still running after the timeout are abandoned. An incomplete drain is
// not a process failure.
func (c *Collector) drain() error {
	c.ready.Store(false)

	timeout := c.cfg.Lifecycle.DrainTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.logger.Info("draining pipelines", "timeout", timeout)

	if c.grpcReceiver != nil {
		c.grpcReceiver.Stop(drainCtx)
	}
	if c.httpReceiver != nil {
		c.httpReceiver.Stop(drainCtx)
	}

	var errs error
	if c.traces != nil {
		if err := c.traces.drain(drainCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("trace pipeline: %w", err))
		}
	}
	if c.metrics != nil {
		if err := c.metrics.drain(drainCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("metric pipeline: %w", err))
		}
	}
	if c.logs != nil {
		if err := c.logs.drain(drainCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("log pipeline: %w", err))
		}
	}
	if errs != nil {
		c.logger.Warn("drain did not complete cleanly", "error", errs)
	} else {
		c.logger.Info("drain complete")
	}
	return nil
}

// GracefulShutdown initiates a drain by canceling the run context.
func (c *Collector) GracefulShutdown(cancel context.CancelFunc) {
	c.logger.Info("initiating shutdown")
	cancel()
}
