// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package receiver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalfan/signalfan/pkg/model"
)

func TestCounterTrackerRejectsDecrease(t *testing.T) {
	tr := NewCounterTracker()

	p := model.MetricPoint{Name: "requests", Kind: model.MetricCounter, Value: 10}
	require.NoError(t, tr.check(&p))

	p.Value = 4
	err := tr.check(&p)
	require.ErrorContains(t, err, `monotonic counter "requests" decreased`)

	// Gauges may move in either direction.
	g := model.MetricPoint{Name: "queue_depth", Kind: model.MetricGauge, Value: 10}
	require.NoError(t, tr.check(&g))
	g.Value = 4
	require.NoError(t, tr.check(&g))
}

func TestCounterTrackerResetsWhenFull(t *testing.T) {
	tr := NewCounterTracker()

	for i := 0; i < maxTrackedStreams; i++ {
		p := model.MetricPoint{Name: fmt.Sprintf("m%d", i), Kind: model.MetricCounter, Value: 1}
		require.NoError(t, tr.check(&p))
	}

	// The next write resets the full tracker instead of growing it; a
	// formerly tracked stream may then restart from a lower value.
	fresh := model.MetricPoint{Name: "fresh", Kind: model.MetricCounter, Value: 1}
	require.NoError(t, tr.check(&fresh))

	p := model.MetricPoint{Name: "m0", Kind: model.MetricCounter, Value: 0}
	require.NoError(t, tr.check(&p))
}
