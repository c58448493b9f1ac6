// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package main

// mergeConfigs takes in a couple of configs(c1&c2) and applies
// c2 on to c1 based on the following conditions
//
// 1. If an attribute of c2 is a string/integer/bool, then it is applied to the
// same field in c1 if it is non nil indicating that the user provided the input
//  2. If an attribute of c2 is a slice and it is non nil then it overrides
//     the same field in c1
func mergeConfigs(c1, c2 *CollectorConfigFlags) {
	c1.Receivers = mergeReceiverConfigs(c1.Receivers, c2.Receivers)
	c1.Processor = mergeProcessorConfigs(c1.Processor, c2.Processor)
	if c2.Exporters != nil {
		c1.Exporters = c2.Exporters
	}
	c1.Pipelines = mergePipelineConfigs(c1.Pipelines, c2.Pipelines)
	c1.Telemetry = mergeTelemetryConfigs(c1.Telemetry, c2.Telemetry)
	c1.Lifecycle = mergeLifecycleConfigs(c1.Lifecycle, c2.Lifecycle)
	c1.Logging = mergeLoggingConfigs(c1.Logging, c2.Logging)
	c1.Debug = mergeDebugConfigs(c1.Debug, c2.Debug)
}

func mergeReceiverConfigs(c1, c2 ReceiverFlags) ReceiverFlags {
	if c2.GRPCEndpoint != nil {
		c1.GRPCEndpoint = c2.GRPCEndpoint
	}

	if c2.GRPCDisabled != nil {
		c1.GRPCDisabled = c2.GRPCDisabled
	}

	if c2.HTTPEndpoint != nil {
		c1.HTTPEndpoint = c2.HTTPEndpoint
	}

	if c2.HTTPDisabled != nil {
		c1.HTTPDisabled = c2.HTTPDisabled
	}

	return c1
}

func mergeProcessorConfigs(c1, c2 ProcessorFlags) ProcessorFlags {
	if c2.MaxBatchSize != nil {
		c1.MaxBatchSize = c2.MaxBatchSize
	}

	if c2.FlushInterval != nil {
		c1.FlushInterval = c2.FlushInterval
	}

	if c2.QueueSize != nil {
		c1.QueueSize = c2.QueueSize
	}

	if c2.NumConsumers != nil {
		c1.NumConsumers = c2.NumConsumers
	}

	if c2.EnqueueWait != nil {
		c1.EnqueueWait = c2.EnqueueWait
	}

	return c1
}

func mergePipelineConfigs(c1, c2 PipelineFlags) PipelineFlags {
	if c2.TracesDisabled != nil {
		c1.TracesDisabled = c2.TracesDisabled
	}

	if c2.MetricsDisabled != nil {
		c1.MetricsDisabled = c2.MetricsDisabled
	}

	if c2.LogsDisabled != nil {
		c1.LogsDisabled = c2.LogsDisabled
	}

	return c1
}

func mergeTelemetryConfigs(c1, c2 TelemetryFlags) TelemetryFlags {
	if c2.Disabled != nil {
		c1.Disabled = c2.Disabled
	}

	if c2.BindAddr != nil {
		c1.BindAddr = c2.BindAddr
	}

	if c2.ScrapePath != nil {
		c1.ScrapePath = c2.ScrapePath
	}

	if c2.RetentionTime != nil {
		c1.RetentionTime = c2.RetentionTime
	}

	return c1
}

func mergeLifecycleConfigs(c1, c2 LifecycleFlags) LifecycleFlags {
	if c2.GracefulPort != nil {
		c1.GracefulPort = c2.GracefulPort
	}

	if c2.GracefulShutdownPath != nil {
		c1.GracefulShutdownPath = c2.GracefulShutdownPath
	}

	if c2.ReadyPath != nil {
		c1.ReadyPath = c2.ReadyPath
	}

	if c2.ReadinessGracePeriod != nil {
		c1.ReadinessGracePeriod = c2.ReadinessGracePeriod
	}

	if c2.DrainTimeout != nil {
		c1.DrainTimeout = c2.DrainTimeout
	}

	return c1
}

func mergeLoggingConfigs(c1, c2 LogFlags) LogFlags {
	if c2.LogJSON != nil {
		c1.LogJSON = c2.LogJSON
	}

	if c2.LogLevel != nil {
		c1.LogLevel = c2.LogLevel
	}

	return c1
}

func mergeDebugConfigs(c1, c2 DebugFlags) DebugFlags {
	if c2.Enabled != nil {
		c1.Enabled = c2.Enabled
	}

	if c2.BindPort != nil {
		c1.BindPort = c2.BindPort
	}

	return c1
}
