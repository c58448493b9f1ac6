// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"time"
)

// Exporter types accepted in ExporterConfig.Type.
const (
	ExporterTypeLogging  = "logging"
	ExporterTypeOTLP     = "otlp"
	ExporterTypeOTLPHTTP = "otlphttp"
)

// ReceiverConfig holds the listen addresses of the ingest transports.
type ReceiverConfig struct {
	// GRPCEndpoint is the OTLP/gRPC listen address, conventionally port 4317.
	GRPCEndpoint string
	// GRPCDisabled turns the gRPC transport off.
	GRPCDisabled bool
	// HTTPEndpoint is the OTLP/HTTP listen address, conventionally port 4318.
	HTTPEndpoint string
	// HTTPDisabled turns the HTTP transport off.
	HTTPDisabled bool
}

// ProcessorConfig tunes the batching stage shared by all pipelines.
type ProcessorConfig struct {
	// MaxBatchSize triggers a flush when the accumulated item count
	// reaches it.
	MaxBatchSize int
	// FlushInterval triggers a flush when it elapses with items buffered.
	FlushInterval time.Duration
	// QueueSize bounds the ingress queue. A full queue pushes back on
	// receivers.
	QueueSize int
	// NumConsumers is the number of concurrent flush deliveries per
	// pipeline.
	NumConsumers int
	// EnqueueWait is how long a receiver blocks on a full queue before
	// giving up.
	EnqueueWait time.Duration
}

// RetryConfig tunes one exporter's delivery retry policy.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// ExporterConfig describes one downstream sink. Every enabled pipeline
// delivers to every configured exporter.
type ExporterConfig struct {
	// Name identifies the exporter in logs and metrics. Must be unique.
	Name string
	// Type is one of "logging", "otlp" or "otlphttp".
	Type string
	// Endpoint is the downstream address. For otlp this is a host:port,
	// for otlphttp a base URL.
	Endpoint string
	// Insecure disables transport security towards the downstream.
	Insecure bool
	// Verbose makes the logging exporter print individual items.
	Verbose bool
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	Retry   RetryConfig
}

// PipelinesConfig selects which signal pipelines run.
type PipelinesConfig struct {
	TracesDisabled  bool
	MetricsDisabled bool
	LogsDisabled    bool
}

// TelemetryConfig configures the collector's own prometheus metrics.
type TelemetryConfig struct {
	Disabled bool
	// BindAddr is where the prometheus scrape server listens.
	BindAddr string
	// ScrapePath is the URL path serving the metrics.
	ScrapePath string
	// RetentionTime is the go-metrics prometheus aggregation interval.
	RetentionTime time.Duration
}

// LifecycleConfig configures the loopback management server and the
// startup/shutdown timing of the collector.
type LifecycleConfig struct {
	// GracefulPort serves the lifecycle HTTP endpoints on the loopback
	// interface.
	GracefulPort int
	// GracefulShutdownPath initiates a drain when requested.
	GracefulShutdownPath string
	// ReadyPath reports readiness.
	ReadyPath string
	// ReadinessGracePeriod is how long startup waits for all exporters
	// to report healthy before accepting traffic anyway.
	ReadinessGracePeriod time.Duration
	// DrainTimeout bounds the shutdown drain. In-flight deliveries
	// still running when it elapses are abandoned.
	DrainTimeout time.Duration
}

// LoggingConfig can be used to specify logger configuration settings.
type LoggingConfig struct {
	// Name of the subsystem to prefix logs with
	Name string
	// LogLevel is the logging level. Valid values - TRACE, DEBUG, INFO, WARN, ERROR
	LogLevel string
	// LogJSON controls if the output should be in JSON.
	LogJSON bool
}

// DebugConfig configures the local pprof server.
type DebugConfig struct {
	Enabled  bool
	BindPort int
}

// Config is the configuration used by signalfan, consolidated from
// various sources - CLI flags, env vars, config file settings.
type Config struct {
	Receivers *ReceiverConfig
	Processor *ProcessorConfig
	Exporters []*ExporterConfig
	Pipelines *PipelinesConfig
	Telemetry *TelemetryConfig
	Lifecycle *LifecycleConfig
	Logging   *LoggingConfig
	Debug     *DebugConfig
}
