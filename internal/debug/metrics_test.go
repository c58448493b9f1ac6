package debug

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestDebugServerServesProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalfan_debug_test_total",
		Help: "test counter",
	})
	require.NoError(t, reg.Register(c))
	c.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := 23193
	go EnableDebugServer(ctx, port, reg)

	url := fmt.Sprintf("http://127.0.0.1:%d/debug/metrics", port)
	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		body, err = io.ReadAll(resp.Body)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	require.Contains(t, string(body), "signalfan_debug_test_total 1")
}
