// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Receivers: &ReceiverConfig{
			GRPCEndpoint: "127.0.0.1:0",
			HTTPEndpoint: "127.0.0.1:0",
		},
		Processor: &ProcessorConfig{
			MaxBatchSize:  512,
			FlushInterval: 200 * time.Millisecond,
			QueueSize:     2048,
			NumConsumers:  1,
		},
		Exporters: []*ExporterConfig{
			{Name: "logging", Type: ExporterTypeLogging},
		},
		Pipelines: &PipelinesConfig{},
		Telemetry: &TelemetryConfig{Disabled: true},
		Lifecycle: &LifecycleConfig{
			ReadinessGracePeriod: 100 * time.Millisecond,
			DrainTimeout:         time.Second,
		},
		Logging: &LoggingConfig{
			Name:     "signalfan",
			LogLevel: "INFO",
		},
	}
}

func TestNewCollector(t *testing.T) {
	cfg := validConfig()
	c, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, cfg.Logging.Name, c.logger.Name())
	require.True(t, c.logger.IsInfo())
	require.Equal(t, cfg, c.cfg)
	require.False(t, c.Ready())
}

func TestNewCollectorError(t *testing.T) {
	type testCase struct {
		name      string
		modFn     func(*Config)
		expectErr string
	}

	testCases := []testCase{
		{
			name:      "missing receiver config",
			modFn:     func(c *Config) { c.Receivers = nil },
			expectErr: "receiver settings not specified",
		},
		{
			name: "all transports disabled",
			modFn: func(c *Config) {
				c.Receivers.GRPCDisabled = true
				c.Receivers.HTTPDisabled = true
			},
			expectErr: "at least one ingest transport must be enabled",
		},
		{
			name:      "missing grpc endpoint",
			modFn:     func(c *Config) { c.Receivers.GRPCEndpoint = "" },
			expectErr: "grpc receiver endpoint not specified",
		},
		{
			name:      "missing http endpoint",
			modFn:     func(c *Config) { c.Receivers.HTTPEndpoint = "" },
			expectErr: "http receiver endpoint not specified",
		},
		{
			name:      "missing processor config",
			modFn:     func(c *Config) { c.Processor = nil },
			expectErr: "processor settings not specified",
		},
		{
			name:      "negative batch size",
			modFn:     func(c *Config) { c.Processor.MaxBatchSize = -1 },
			expectErr: "processor max batch size must not be negative",
		},
		{
			name:      "no exporters",
			modFn:     func(c *Config) { c.Exporters = nil },
			expectErr: "no exporters specified",
		},
		{
			name: "all pipelines disabled",
			modFn: func(c *Config) {
				c.Pipelines.TracesDisabled = true
				c.Pipelines.MetricsDisabled = true
				c.Pipelines.LogsDisabled = true
			},
			expectErr: "all signal pipelines are disabled",
		},
		{
			name:      "missing lifecycle config",
			modFn:     func(c *Config) { c.Lifecycle = nil },
			expectErr: "lifecycle settings not specified",
		},
		{
			name:      "missing logging config",
			modFn:     func(c *Config) { c.Logging = nil },
			expectErr: "logging settings not specified",
		},
		{
			name:      "exporter without a name",
			modFn:     func(c *Config) { c.Exporters[0].Name = "" },
			expectErr: "exporter name not specified",
		},
		{
			name: "duplicate exporter names",
			modFn: func(c *Config) {
				c.Exporters = append(c.Exporters, &ExporterConfig{Name: "logging", Type: ExporterTypeLogging})
			},
			expectErr: `duplicate exporter name "logging"`,
		},
		{
			name:      "unknown exporter type",
			modFn:     func(c *Config) { c.Exporters[0].Type = "kafka" },
			expectErr: `unknown type "kafka" for exporter "logging"`,
		},
		{
			name: "otlp exporter without endpoint",
			modFn: func(c *Config) {
				c.Exporters = []*ExporterConfig{{Name: "downstream", Type: ExporterTypeOTLP}}
			},
			expectErr: `exporter "downstream" requires an endpoint`,
		},
		{
			name:      "retry multiplier too small",
			modFn:     func(c *Config) { c.Exporters[0].Retry.Multiplier = 0.5 },
			expectErr: `exporter "logging" retry multiplier must be greater than 1`,
		},
		{
			name: "telemetry without scrape path",
			modFn: func(c *Config) {
				c.Telemetry = &TelemetryConfig{BindAddr: "127.0.0.1:0", RetentionTime: time.Minute}
			},
			expectErr: "telemetry scrape path must not be empty",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modFn(cfg)
			_, err := New(cfg)
			require.EqualError(t, err, tc.expectErr)
		})
	}
}

func TestCollectorRunReadyAndShutdown(t *testing.T) {
	cfg := validConfig()
	cfg.Lifecycle.GracefulPort = 23190

	c, err := New(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/ready", cfg.Lifecycle.GracefulPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(readyURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "collector never became ready")
	require.True(t, c.Ready())

	shutdownURL := fmt.Sprintf("http://127.0.0.1:%d/graceful_shutdown", cfg.Lifecycle.GracefulPort)
	// The lifecycle server is torn down while the drain runs, so the
	// response may not arrive. Triggering the shutdown is what matters.
	if resp, err := http.Get(shutdownURL); err == nil {
		resp.Body.Close()
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit after graceful shutdown")
	}
	require.False(t, c.Ready())
}

func TestCollectorRunCancelDrainsCleanly(t *testing.T) {
	cfg := validConfig()
	cfg.Lifecycle.GracefulPort = 23191

	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, c.Ready, 5*time.Second, 50*time.Millisecond)
	c.GracefulShutdown(cancel)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit after context cancellation")
	}
}

func TestCollectorRunHoldsReadinessForUnhealthyExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Lifecycle.GracefulPort = 23194
	cfg.Lifecycle.ReadinessGracePeriod = 300 * time.Millisecond
	// Nothing answers on this endpoint. The startup probe degrades the
	// exporter, so readiness has to wait out the grace period instead of
	// passing on the first poll.
	cfg.Exporters = []*ExporterConfig{{
		Name:     "downstream",
		Type:     ExporterTypeOTLPHTTP,
		Endpoint: "http://127.0.0.1:9",
		Timeout:  100 * time.Millisecond,
	}}

	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, c.Ready, 5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), cfg.Lifecycle.ReadinessGracePeriod)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not exit after context cancellation")
	}
}

func TestCollectorRunReceiverBindFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	cfg := validConfig()
	cfg.Receivers.GRPCEndpoint = lis.Addr().String()
	cfg.Lifecycle.GracefulPort = 23192

	c, err := New(cfg)
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.ErrorContains(t, err, "failed to bind grpc receiver")
}
