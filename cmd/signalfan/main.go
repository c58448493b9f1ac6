// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/signalfan/signalfan/pkg/signalfan"
	"github.com/signalfan/signalfan/version"
)

var (
	flagOpts *FlagOpts
)

func init() {
	flagOpts = &FlagOpts{}
	flag.BoolVar(&flagOpts.printVersion, "version", false, "Prints the current version of signalfan.")

	StringVar(&flagOpts.grpcEndpoint, "grpc-endpoint", "SF_GRPC_ENDPOINT", "The address on which the OTLP/gRPC ingest transport listens.")
	BoolVar(&flagOpts.grpcDisabled, "grpc-disabled", "SF_GRPC_DISABLED", "Disables the OTLP/gRPC ingest transport.")
	StringVar(&flagOpts.httpEndpoint, "http-endpoint", "SF_HTTP_ENDPOINT", "The address on which the OTLP/HTTP ingest transport listens.")
	BoolVar(&flagOpts.httpDisabled, "http-disabled", "SF_HTTP_DISABLED", "Disables the OTLP/HTTP ingest transport.")

	IntVar(&flagOpts.maxBatchSize, "batch-max-size", "SF_BATCH_MAX_SIZE", "The item count at which an accumulating batch is flushed.")
	DurationVar(&flagOpts.flushInterval, "batch-flush-interval", "SF_BATCH_FLUSH_INTERVAL", "The longest a buffered item waits before a time-triggered flush.")
	IntVar(&flagOpts.queueSize, "batch-queue-size", "SF_BATCH_QUEUE_SIZE", "The bound of the ingress queue feeding each pipeline.")
	IntVar(&flagOpts.numConsumers, "batch-num-consumers", "SF_BATCH_NUM_CONSUMERS", "The number of concurrent flush deliveries per pipeline.")
	DurationVar(&flagOpts.enqueueWait, "batch-enqueue-wait", "SF_BATCH_ENQUEUE_WAIT", "How long a receiver blocks on a full ingress queue before rejecting.")

	BoolVar(&flagOpts.loggingExporter, "exporter-logging", "SF_EXPORTER_LOGGING", "Enables the logging exporter. Exporters given via flags replace the configured set.")
	BoolVar(&flagOpts.loggingExporterVerbose, "exporter-logging-verbose", "SF_EXPORTER_LOGGING_VERBOSE", "Makes the logging exporter print individual items.")
	StringVar(&flagOpts.otlpEndpoint, "exporter-otlp-endpoint", "SF_EXPORTER_OTLP_ENDPOINT", "The host:port of a downstream OTLP/gRPC sink.")
	BoolVar(&flagOpts.otlpInsecure, "exporter-otlp-insecure", "SF_EXPORTER_OTLP_INSECURE", "Disables transport security towards the OTLP/gRPC sink.")
	StringVar(&flagOpts.otlphttpEndpoint, "exporter-otlphttp-endpoint", "SF_EXPORTER_OTLPHTTP_ENDPOINT", "The base URL of a downstream OTLP/HTTP sink.")
	BoolVar(&flagOpts.otlphttpInsecure, "exporter-otlphttp-insecure", "SF_EXPORTER_OTLPHTTP_INSECURE", "Skips certificate verification towards the OTLP/HTTP sink.")

	DurationVar(&flagOpts.exportTimeout, "export-timeout", "SF_EXPORT_TIMEOUT", "The bound on a single delivery attempt to a sink.")
	DurationVar(&flagOpts.retryInitialInterval, "export-retry-initial-interval", "SF_EXPORT_RETRY_INITIAL_INTERVAL", "The delay before the first delivery retry.")
	Float64Var(&flagOpts.retryMultiplier, "export-retry-multiplier", "SF_EXPORT_RETRY_MULTIPLIER", "The factor by which the retry delay grows.")
	DurationVar(&flagOpts.retryMaxInterval, "export-retry-max-interval", "SF_EXPORT_RETRY_MAX_INTERVAL", "The cap on the delay between delivery retries.")
	IntVar(&flagOpts.retryMaxAttempts, "export-retry-max-attempts", "SF_EXPORT_RETRY_MAX_ATTEMPTS", "The delivery attempts per batch before an exporter is marked unavailable.")

	BoolVar(&flagOpts.tracesDisabled, "traces-disabled", "SF_TRACES_DISABLED", "Disables the trace pipeline.")
	BoolVar(&flagOpts.metricsDisabled, "metrics-disabled", "SF_METRICS_DISABLED", "Disables the metric pipeline.")
	BoolVar(&flagOpts.logsDisabled, "logs-disabled", "SF_LOGS_DISABLED", "Disables the log pipeline.")

	BoolVar(&flagOpts.telemetryDisabled, "telemetry-disabled", "SF_TELEMETRY_DISABLED", "Disables the collector's own prometheus metrics.")
	StringVar(&flagOpts.telemetryBindAddr, "telemetry-bind-addr", "SF_TELEMETRY_BIND_ADDR", "The address on which the prometheus scrape server listens.")
	StringVar(&flagOpts.telemetryScrapePath, "telemetry-scrape-path", "SF_TELEMETRY_SCRAPE_PATH", "The URL path where the collector serves prometheus metrics.")
	DurationVar(&flagOpts.telemetryRetentionTime, "telemetry-retention-time", "SF_TELEMETRY_RETENTION_TIME", "The duration for prometheus metrics aggregation.")

	IntVar(&flagOpts.gracefulPort, "graceful-port", "SF_GRACEFUL_PORT", "A port to serve HTTP endpoints for lifecycle management.")
	StringVar(&flagOpts.gracefulShutdownPath, "graceful-shutdown-path", "SF_GRACEFUL_SHUTDOWN_PATH", "An HTTP path to serve the graceful shutdown endpoint.")
	StringVar(&flagOpts.readyPath, "ready-path", "SF_READY_PATH", "An HTTP path to serve the readiness endpoint.")
	DurationVar(&flagOpts.readinessGracePeriod, "readiness-grace-period", "SF_READINESS_GRACE_PERIOD", "How long startup waits for all exporters to report healthy before accepting traffic anyway.")
	DurationVar(&flagOpts.drainTimeout, "drain-timeout", "SF_DRAIN_TIMEOUT", "The bound on the shutdown drain. Deliveries still running when it elapses are abandoned.")

	StringVar(&flagOpts.logLevel, "log-level", "SF_LOG_LEVEL", "Log level of the messages to print. "+
		"Available log levels are \"trace\", \"debug\", \"info\", \"warn\", and \"error\".")
	BoolVar(&flagOpts.logJSON, "log-json", "SF_LOG_JSON", "Enables log messages in JSON format.")

	BoolVar(&flagOpts.debugEnabled, "debug-enabled", "SF_DEBUG_ENABLED", "Serves pprof and runtime metrics endpoints on the loopback interface.")
	IntVar(&flagOpts.debugBindPort, "debug-bind-port", "SF_DEBUG_BIND_PORT", "The port on which the debug server listens.")

	StringVar(&flagOpts.configFile, "config-file", "SF_CONFIG_FILE", "The json config file for configuring signalfan.")
}

// validateFlags performs semantic validation of the flag values
func validateFlags() {
	if flagOpts.logLevel != nil {
		switch strings.ToUpper(*flagOpts.logLevel) {
		case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
		default:
			log.Fatal("invalid log level. valid values - TRACE, DEBUG, INFO, WARN, ERROR")
		}
	}

	if cf := stringVal(flagOpts.configFile); cf != "" && !strings.HasSuffix(cf, ".json") {
		log.Fatal("invalid config file format. Should be a json file")
	}
}

func run() error {
	flag.Parse()

	if flagOpts.printVersion {
		fmt.Printf("Signalfan v%s\n", version.GetHumanVersion())
		fmt.Printf("Revision %s\n", version.GitCommit)
		return nil
	}

	validateFlags()

	cfg, err := flagOpts.buildCollectorConfig()
	if err != nil {
		return err
	}

	collector, err := signalfan.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		// Block waiting for SIGTERM
		<-sigCh

		collector.GracefulShutdown(cancel)
	}()

	return collector.Run(ctx)
}

func main() {
	err := run()
	if err != nil {
		log.Fatal(err)
	}
}
