package debug

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EnableDebugServer starts a local HTTP server on a given port, exposing
// pprof endpoints and the collector's own metrics registry. A nil gatherer
// falls back to the process-default registry, which still carries the Go
// runtime collectors.
func EnableDebugServer(ctx context.Context, port int, gatherer prometheus.Gatherer) {
	log := hclog.FromContext(ctx).Named("debug_server")

	router := http.NewServeMux()

	// Expose pprof debug endpoints.
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/debug/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting local debug server", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("local debug server error", "error", err)
			return
		}
	}()

	// Wait for the collector to exit, and shutdown the server.
	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("error shutting down debug server", "error", err)
	}
}
