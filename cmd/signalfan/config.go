// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/signalfan/signalfan/pkg/signalfan"
)

// FlagOpts holds the values given via CLI flags or their environment
// variables. Unset options stay nil so that merging can tell them apart
// from explicit zero values.
type FlagOpts struct {
	printVersion bool

	grpcEndpoint *string
	grpcDisabled *bool
	httpEndpoint *string
	httpDisabled *bool

	maxBatchSize  *int
	flushInterval *Duration
	queueSize     *int
	numConsumers  *int
	enqueueWait   *Duration

	loggingExporter        *bool
	loggingExporterVerbose *bool
	otlpEndpoint           *string
	otlpInsecure           *bool
	otlphttpEndpoint       *string
	otlphttpInsecure       *bool

	exportTimeout        *Duration
	retryInitialInterval *Duration
	retryMultiplier      *float64
	retryMaxInterval     *Duration
	retryMaxAttempts     *int

	tracesDisabled  *bool
	metricsDisabled *bool
	logsDisabled    *bool

	telemetryDisabled      *bool
	telemetryBindAddr      *string
	telemetryScrapePath    *string
	telemetryRetentionTime *Duration

	gracefulPort         *int
	gracefulShutdownPath *string
	readyPath            *string
	readinessGracePeriod *Duration
	drainTimeout         *Duration

	logLevel *string
	logJSON  *bool

	debugEnabled  *bool
	debugBindPort *int

	configFile *string
}

const (
	DefaultGRPCEndpoint = ":4317"
	DefaultHTTPEndpoint = ":4318"

	DefaultMaxBatchSize  = 512
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultQueueSize     = 2048
	DefaultNumConsumers  = 1
	DefaultEnqueueWait   = 50 * time.Millisecond

	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultTelemetryBindAddr      = "127.0.0.1:20200"
	DefaultTelemetryScrapePath    = "/metrics"
	DefaultTelemetryRetentionTime = 60 * time.Second

	DefaultGracefulPort         = 20300
	DefaultGracefulShutdownPath = "/graceful_shutdown"
	DefaultReadyPath            = "/ready"
	DefaultReadinessGracePeriod = 10 * time.Second
	DefaultDrainTimeout         = 10 * time.Second

	DefaultDebugBindPort = 20301
)

// CollectorConfigFlags mirrors signalfan.Config with pointer fields so
// that the default, file and flag layers can be merged. It doubles as
// the schema of the -config-file JSON document.
type CollectorConfigFlags struct {
	Receivers ReceiverFlags   `json:"receivers,omitempty"`
	Processor ProcessorFlags  `json:"processor,omitempty"`
	Exporters []ExporterFlags `json:"exporters,omitempty"`
	Pipelines PipelineFlags   `json:"pipelines,omitempty"`
	Telemetry TelemetryFlags  `json:"telemetry,omitempty"`
	Lifecycle LifecycleFlags  `json:"lifecycle,omitempty"`
	Logging   LogFlags        `json:"logging,omitempty"`
	Debug     DebugFlags      `json:"debug,omitempty"`
}

type ReceiverFlags struct {
	GRPCEndpoint *string `json:"grpc_endpoint,omitempty"`
	GRPCDisabled *bool   `json:"grpc_disabled,omitempty"`
	HTTPEndpoint *string `json:"http_endpoint,omitempty"`
	HTTPDisabled *bool   `json:"http_disabled,omitempty"`
}

type ProcessorFlags struct {
	MaxBatchSize  *int      `json:"max_batch_size,omitempty"`
	FlushInterval *Duration `json:"flush_interval,omitempty"`
	QueueSize     *int      `json:"queue_size,omitempty"`
	NumConsumers  *int      `json:"num_consumers,omitempty"`
	EnqueueWait   *Duration `json:"enqueue_wait,omitempty"`
}

type ExporterFlags struct {
	Name     *string    `json:"name,omitempty"`
	Type     *string    `json:"type,omitempty"`
	Endpoint *string    `json:"endpoint,omitempty"`
	Insecure *bool      `json:"insecure,omitempty"`
	Verbose  *bool      `json:"verbose,omitempty"`
	Timeout  *Duration  `json:"timeout,omitempty"`
	Retry    RetryFlags `json:"retry,omitempty"`
}

type RetryFlags struct {
	InitialInterval *Duration `json:"initial_interval,omitempty"`
	Multiplier      *float64  `json:"multiplier,omitempty"`
	MaxInterval     *Duration `json:"max_interval,omitempty"`
	MaxAttempts     *int      `json:"max_attempts,omitempty"`
}

type PipelineFlags struct {
	TracesDisabled  *bool `json:"traces_disabled,omitempty"`
	MetricsDisabled *bool `json:"metrics_disabled,omitempty"`
	LogsDisabled    *bool `json:"logs_disabled,omitempty"`
}

type TelemetryFlags struct {
	Disabled      *bool     `json:"disabled,omitempty"`
	BindAddr      *string   `json:"bind_addr,omitempty"`
	ScrapePath    *string   `json:"scrape_path,omitempty"`
	RetentionTime *Duration `json:"retention_time,omitempty"`
}

type LifecycleFlags struct {
	GracefulPort         *int      `json:"graceful_port,omitempty"`
	GracefulShutdownPath *string   `json:"graceful_shutdown_path,omitempty"`
	ReadyPath            *string   `json:"ready_path,omitempty"`
	ReadinessGracePeriod *Duration `json:"readiness_grace_period,omitempty"`
	DrainTimeout         *Duration `json:"drain_timeout,omitempty"`
}

type LogFlags struct {
	LogLevel *string `json:"log_level,omitempty"`
	LogJSON  *bool   `json:"log_json,omitempty"`
}

type DebugFlags struct {
	Enabled  *bool `json:"enabled,omitempty"`
	BindPort *int  `json:"bind_port,omitempty"`
}

// buildCollectorConfig builds the config needed for the collector to
// start. We begin with the default config, merge the file based config
// generated from the `-config-file` input into it, and since values
// given via CLI flags take the most precedence, finally merge the
// config generated from the flags into the previously merged config.
func (f *FlagOpts) buildCollectorConfig() (*signalfan.Config, error) {
	cfg := buildDefaultConfigFlags()

	if stringVal(f.configFile) != "" {
		fileCfg, err := f.buildConfigFromFile()
		if err != nil {
			return nil, err
		}

		mergeConfigs(cfg, fileCfg)
	}

	mergeConfigs(cfg, f.buildFlagConfig())

	return makeConfig(cfg), nil
}

// Constructs a config based on the values present in the config json file
func (f *FlagOpts) buildConfigFromFile() (*CollectorConfigFlags, error) {
	var cfg *CollectorConfigFlags
	data, err := os.ReadFile(stringVal(f.configFile))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Constructs a config based on the values given via the CLI flags
func (f *FlagOpts) buildFlagConfig() *CollectorConfigFlags {
	retry := RetryFlags{
		InitialInterval: f.retryInitialInterval,
		Multiplier:      f.retryMultiplier,
		MaxInterval:     f.retryMaxInterval,
		MaxAttempts:     f.retryMaxAttempts,
	}

	// Exporters given via flags replace the configured set wholesale.
	var exporters []ExporterFlags
	if boolVal(f.loggingExporter) {
		exporters = append(exporters, ExporterFlags{
			Name:    ptrTo("logging"),
			Type:    ptrTo(signalfan.ExporterTypeLogging),
			Verbose: f.loggingExporterVerbose,
		})
	}
	if f.otlpEndpoint != nil {
		exporters = append(exporters, ExporterFlags{
			Name:     ptrTo("otlp"),
			Type:     ptrTo(signalfan.ExporterTypeOTLP),
			Endpoint: f.otlpEndpoint,
			Insecure: f.otlpInsecure,
			Timeout:  f.exportTimeout,
			Retry:    retry,
		})
	}
	if f.otlphttpEndpoint != nil {
		exporters = append(exporters, ExporterFlags{
			Name:     ptrTo("otlphttp"),
			Type:     ptrTo(signalfan.ExporterTypeOTLPHTTP),
			Endpoint: f.otlphttpEndpoint,
			Insecure: f.otlphttpInsecure,
			Timeout:  f.exportTimeout,
			Retry:    retry,
		})
	}

	return &CollectorConfigFlags{
		Receivers: ReceiverFlags{
			GRPCEndpoint: f.grpcEndpoint,
			GRPCDisabled: f.grpcDisabled,
			HTTPEndpoint: f.httpEndpoint,
			HTTPDisabled: f.httpDisabled,
		},
		Processor: ProcessorFlags{
			MaxBatchSize:  f.maxBatchSize,
			FlushInterval: f.flushInterval,
			QueueSize:     f.queueSize,
			NumConsumers:  f.numConsumers,
			EnqueueWait:   f.enqueueWait,
		},
		Exporters: exporters,
		Pipelines: PipelineFlags{
			TracesDisabled:  f.tracesDisabled,
			MetricsDisabled: f.metricsDisabled,
			LogsDisabled:    f.logsDisabled,
		},
		Telemetry: TelemetryFlags{
			Disabled:      f.telemetryDisabled,
			BindAddr:      f.telemetryBindAddr,
			ScrapePath:    f.telemetryScrapePath,
			RetentionTime: f.telemetryRetentionTime,
		},
		Lifecycle: LifecycleFlags{
			GracefulPort:         f.gracefulPort,
			GracefulShutdownPath: f.gracefulShutdownPath,
			ReadyPath:            f.readyPath,
			ReadinessGracePeriod: f.readinessGracePeriod,
			DrainTimeout:         f.drainTimeout,
		},
		Logging: LogFlags{
			LogLevel: f.logLevel,
			LogJSON:  f.logJSON,
		},
		Debug: DebugFlags{
			Enabled:  f.debugEnabled,
			BindPort: f.debugBindPort,
		},
	}
}

// Constructs a config with the default values
func buildDefaultConfigFlags() *CollectorConfigFlags {
	return &CollectorConfigFlags{
		Receivers: ReceiverFlags{
			GRPCEndpoint: ptrTo(DefaultGRPCEndpoint),
			GRPCDisabled: ptrTo(false),
			HTTPEndpoint: ptrTo(DefaultHTTPEndpoint),
			HTTPDisabled: ptrTo(false),
		},
		Processor: ProcessorFlags{
			MaxBatchSize:  ptrTo(DefaultMaxBatchSize),
			FlushInterval: ptrTo(Duration{Duration: DefaultFlushInterval}),
			QueueSize:     ptrTo(DefaultQueueSize),
			NumConsumers:  ptrTo(DefaultNumConsumers),
			EnqueueWait:   ptrTo(Duration{Duration: DefaultEnqueueWait}),
		},
		Exporters: []ExporterFlags{
			{
				Name: ptrTo("logging"),
				Type: ptrTo(signalfan.ExporterTypeLogging),
			},
		},
		Pipelines: PipelineFlags{
			TracesDisabled:  ptrTo(false),
			MetricsDisabled: ptrTo(false),
			LogsDisabled:    ptrTo(false),
		},
		Telemetry: TelemetryFlags{
			Disabled:      ptrTo(false),
			BindAddr:      ptrTo(DefaultTelemetryBindAddr),
			ScrapePath:    ptrTo(DefaultTelemetryScrapePath),
			RetentionTime: ptrTo(Duration{Duration: DefaultTelemetryRetentionTime}),
		},
		Lifecycle: LifecycleFlags{
			GracefulPort:         ptrTo(DefaultGracefulPort),
			GracefulShutdownPath: ptrTo(DefaultGracefulShutdownPath),
			ReadyPath:            ptrTo(DefaultReadyPath),
			ReadinessGracePeriod: ptrTo(Duration{Duration: DefaultReadinessGracePeriod}),
			DrainTimeout:         ptrTo(Duration{Duration: DefaultDrainTimeout}),
		},
		Logging: LogFlags{
			LogLevel: ptrTo(DefaultLogLevel),
			LogJSON:  ptrTo(DefaultLogJSON),
		},
		Debug: DebugFlags{
			Enabled:  ptrTo(false),
			BindPort: ptrTo(DefaultDebugBindPort),
		},
	}
}

// makeConfig resolves the merged pointer layers into the runtime config.
func makeConfig(c *CollectorConfigFlags) *signalfan.Config {
	exporters := make([]*signalfan.ExporterConfig, 0, len(c.Exporters))
	for _, e := range c.Exporters {
		exporters = append(exporters, &signalfan.ExporterConfig{
			Name:     stringVal(e.Name),
			Type:     stringVal(e.Type),
			Endpoint: stringVal(e.Endpoint),
			Insecure: boolVal(e.Insecure),
			Verbose:  boolVal(e.Verbose),
			Timeout:  durationVal(e.Timeout),
			Retry: signalfan.RetryConfig{
				InitialInterval: durationVal(e.Retry.InitialInterval),
				Multiplier:      floatVal(e.Retry.Multiplier),
				MaxInterval:     durationVal(e.Retry.MaxInterval),
				MaxAttempts:     intVal(e.Retry.MaxAttempts),
			},
		})
	}

	return &signalfan.Config{
		Receivers: &signalfan.ReceiverConfig{
			GRPCEndpoint: stringVal(c.Receivers.GRPCEndpoint),
			GRPCDisabled: boolVal(c.Receivers.GRPCDisabled),
			HTTPEndpoint: stringVal(c.Receivers.HTTPEndpoint),
			HTTPDisabled: boolVal(c.Receivers.HTTPDisabled),
		},
		Processor: &signalfan.ProcessorConfig{
			MaxBatchSize:  intVal(c.Processor.MaxBatchSize),
			FlushInterval: durationVal(c.Processor.FlushInterval),
			QueueSize:     intVal(c.Processor.QueueSize),
			NumConsumers:  intVal(c.Processor.NumConsumers),
			EnqueueWait:   durationVal(c.Processor.EnqueueWait),
		},
		Exporters: exporters,
		Pipelines: &signalfan.PipelinesConfig{
			TracesDisabled:  boolVal(c.Pipelines.TracesDisabled),
			MetricsDisabled: boolVal(c.Pipelines.MetricsDisabled),
			LogsDisabled:    boolVal(c.Pipelines.LogsDisabled),
		},
		Telemetry: &signalfan.TelemetryConfig{
			Disabled:      boolVal(c.Telemetry.Disabled),
			BindAddr:      stringVal(c.Telemetry.BindAddr),
			ScrapePath:    stringVal(c.Telemetry.ScrapePath),
			RetentionTime: durationVal(c.Telemetry.RetentionTime),
		},
		Lifecycle: &signalfan.LifecycleConfig{
			GracefulPort:         intVal(c.Lifecycle.GracefulPort),
			GracefulShutdownPath: stringVal(c.Lifecycle.GracefulShutdownPath),
			ReadyPath:            stringVal(c.Lifecycle.ReadyPath),
			ReadinessGracePeriod: durationVal(c.Lifecycle.ReadinessGracePeriod),
			DrainTimeout:         durationVal(c.Lifecycle.DrainTimeout),
		},
		Logging: &signalfan.LoggingConfig{
			Name:     "signalfan",
			LogLevel: stringVal(c.Logging.LogLevel),
			LogJSON:  boolVal(c.Logging.LogJSON),
		},
		Debug: &signalfan.DebugConfig{
			Enabled:  boolVal(c.Debug.Enabled),
			BindPort: intVal(c.Debug.BindPort),
		},
	}
}

func ptrTo[T any](v T) *T {
	return &v
}
