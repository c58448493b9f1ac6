// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
	"github.com/hashicorp/go-hclog"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// telemetryConfig handles the collector's own metrics: a go-metrics
// prometheus sink exposed on a scrape server.
type telemetryConfig struct {
	logger hclog.Logger

	cfg *TelemetryConfig

	// prometheus scrape server
	promScrapeServer *http.Server
	registry         *prom.Registry

	// lifecycle control
	errorExitCh chan struct{}
	running     bool
	mu          sync.Mutex
}

func newTelemetryConfig(cfg *Config) *telemetryConfig {
	return &telemetryConfig{
		mu:          sync.Mutex{},
		cfg:         cfg.Telemetry,
		errorExitCh: make(chan struct{}),
	}
}

// startTelemetry installs the global metrics sink. With telemetry
// disabled the sink is a black hole so instrumented code paths stay
// cheap.
func (m *telemetryConfig) startTelemetry(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conf := metrics.DefaultConfig("signalfan")
	conf.EnableHostname = false

	if m.cfg == nil || m.cfg.Disabled {
		_, err := metrics.NewGlobal(conf, &metrics.BlackholeSink{})
		return err
	}

	m.logger = hclog.FromContext(ctx).Named("telemetry")
	m.running = true
	go func() {
		<-ctx.Done()
		m.stopTelemetryServer()
	}()

	r := prom.NewRegistry()
	m.registry = r
	reg := prom.WrapRegistererWithPrefix("signalfan_", r)
	sink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		Registerer: reg,
		Expiration: m.cfg.RetentionTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create prometheus sink: %w", err)
	}
	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(m.cfg.ScrapePath, promhttp.HandlerFor(r, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	m.promScrapeServer = &http.Server{
		Addr:    m.cfg.BindAddr,
		Handler: mux,
	}

	go m.startPrometheusScrapeServer()

	return nil
}

// startPrometheusScrapeServer starts the server that prometheus will
// actually be scraping.
func (m *telemetryConfig) startPrometheusScrapeServer() {
	m.logger.Info("starting metrics server", "address", m.promScrapeServer.Addr, "path", m.cfg.ScrapePath)
	err := m.promScrapeServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		m.logger.Error("failed to serve metrics requests", "error", err)
		close(m.errorExitCh)
	}
}

func (m *telemetryConfig) stopTelemetryServer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false

	if m.promScrapeServer != nil {
		m.logger.Info("stopping the metrics server")
		err := m.promScrapeServer.Close()
		if err != nil {
			m.logger.Warn("error while closing metrics server", "error", err)
			close(m.errorExitCh)
		}
	}
}

// gatherer exposes the collector's metrics registry for the debug
// server. Nil when telemetry is disabled.
func (m *telemetryConfig) gatherer() prom.Gatherer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// telemetryServerExited is used to signal that the metrics server
// exited unexpectedly.
func (m *telemetryConfig) telemetryServerExited() <-chan struct{} {
	return m.errorExitCh
}
