// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package signalfan

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const (
	// defaultLifecycleBindPort is the port which will serve the
	// lifecycle HTTP endpoints on the loopback interface.
	defaultLifecycleBindPort = "20300"
	lifecycleBindAddr        = "127.0.0.1"

	defaultLifecycleShutdownPath = "/graceful_shutdown"
	defaultLifecycleReadyPath    = "/ready"
)

// lifecycleConfig handles the management controls of the collector
// process, exposed via a loopback HTTP server: a readiness probe and a
// graceful shutdown trigger.
type lifecycleConfig struct {
	logger hclog.Logger

	gracefulPort         int
	gracefulShutdownPath string
	readyPath            string

	collector *Collector
	shutdown  context.CancelFunc

	// lifecycle server control
	lifecycleServer *http.Server
	errorExitCh     chan struct{}
	running         bool
	mu              sync.Mutex
}

func newLifecycleConfig(cfg *Config, collector *Collector, shutdown context.CancelFunc) *lifecycleConfig {
	return &lifecycleConfig{
		gracefulPort:         cfg.Lifecycle.GracefulPort,
		gracefulShutdownPath: cfg.Lifecycle.GracefulShutdownPath,
		readyPath:            cfg.Lifecycle.ReadyPath,

		collector: collector,
		shutdown:  shutdown,

		errorExitCh: make(chan struct{}, 1),
		mu:          sync.Mutex{},
	}
}

func (m *lifecycleConfig) startLifecycleManager(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	m.logger = hclog.FromContext(ctx).Named("lifecycle")
	m.running = true
	go func() {
		<-ctx.Done()
		m.stopLifecycleServer()
	}()

	mux := http.NewServeMux()

	shutdownPath := defaultLifecycleShutdownPath
	if m.gracefulShutdownPath != "" {
		shutdownPath = m.gracefulShutdownPath
	}
	// Set config to allow introspection of default path for testing
	m.gracefulShutdownPath = shutdownPath
	mux.HandleFunc(shutdownPath, m.gracefulShutdown)

	readyPath := defaultLifecycleReadyPath
	if m.readyPath != "" {
		readyPath = m.readyPath
	}
	m.readyPath = readyPath
	mux.HandleFunc(readyPath, m.readiness)

	bindPort := defaultLifecycleBindPort
	if m.gracefulPort != 0 {
		bindPort = strconv.Itoa(m.gracefulPort)
	}
	m.lifecycleServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", lifecycleBindAddr, bindPort),
		Handler: mux,
	}

	go m.startLifecycleServer()

	return nil
}

func (m *lifecycleConfig) startLifecycleServer() {
	m.logger.Info("starting lifecycle management server", "address", m.lifecycleServer.Addr)
	err := m.lifecycleServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		m.logger.Error("failed to serve lifecycle management requests", "error", err)
		close(m.errorExitCh)
	}
}

func (m *lifecycleConfig) stopLifecycleServer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false

	if m.lifecycleServer != nil {
		m.logger.Info("stopping the lifecycle management server")
		err := m.lifecycleServer.Close()
		if err != nil {
			m.logger.Warn("error while closing lifecycle server", "error", err)
			close(m.errorExitCh)
		}
	}
}

// lifecycleServerExited is used to signal that the lifecycle server
// failed unexpectedly.
func (m *lifecycleConfig) lifecycleServerExited() <-chan struct{} {
	return m.errorExitCh
}

// readiness responds 200 once the collector is accepting traffic and
// 503 before startup completes or after a drain begins.
func (m *lifecycleConfig) readiness(rw http.ResponseWriter, _ *http.Request) {
	if m.collector.Ready() {
		rw.WriteHeader(http.StatusOK)
		return
	}
	rw.WriteHeader(http.StatusServiceUnavailable)
}

// gracefulShutdown initiates a drain of the pipelines. The response is
// written once the drain has been started, not once it completes.
func (m *lifecycleConfig) gracefulShutdown(rw http.ResponseWriter, _ *http.Request) {
	m.logger.Info("initiating shutdown via lifecycle endpoint")
	m.collector.GracefulShutdown(m.shutdown)
	rw.WriteHeader(http.StatusOK)
}
