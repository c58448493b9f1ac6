// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpanValidate(t *testing.T) {
	now := time.Now()

	cases := []struct {
		desc    string
		span    Span
		wantErr string
	}{
		{
			desc: "valid",
			span: Span{TraceID: [16]byte{1}, SpanID: [8]byte{2}, Name: "op", Start: now, End: now.Add(time.Millisecond)},
		},
		{
			desc:    "zero trace id",
			span:    Span{SpanID: [8]byte{2}, Name: "op"},
			wantErr: "zero trace ID",
		},
		{
			desc:    "zero span id",
			span:    Span{TraceID: [16]byte{1}, Name: "op"},
			wantErr: "zero span ID",
		},
		{
			desc:    "ends before it starts",
			span:    Span{TraceID: [16]byte{1}, SpanID: [8]byte{2}, Name: "op", Start: now, End: now.Add(-time.Second)},
			wantErr: "before it starts",
		},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			err := c.span.Validate()
			if c.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, c.wantErr)
		})
	}
}

func TestMetricPointValidate(t *testing.T) {
	cases := []struct {
		desc    string
		point   MetricPoint
		wantErr string
	}{
		{
			desc:  "counter",
			point: MetricPoint{Name: "requests", Kind: MetricCounter, Value: 10},
		},
		{
			desc:    "empty name",
			point:   MetricPoint{Kind: MetricGauge},
			wantErr: "empty name",
		},
		{
			desc:    "histogram without buckets",
			point:   MetricPoint{Name: "latency", Kind: MetricHistogram},
			wantErr: "no bucket payload",
		},
		{
			desc: "histogram bucket count mismatch",
			point: MetricPoint{Name: "latency", Kind: MetricHistogram, Histogram: &HistogramValue{
				BucketCounts: []uint64{1, 2},
				Bounds:       []float64{0.5, 1.0},
			}},
			wantErr: "bucket counts",
		},
		{
			desc: "histogram with overflow bucket",
			point: MetricPoint{Name: "latency", Kind: MetricHistogram, Histogram: &HistogramValue{
				Count:        6,
				BucketCounts: []uint64{1, 2, 3},
				Bounds:       []float64{0.5, 1.0},
			}},
		},
		{
			desc:    "gauge with buckets",
			point:   MetricPoint{Name: "temp", Kind: MetricGauge, Histogram: &HistogramValue{}},
			wantErr: "carries histogram buckets",
		},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			err := c.point.Validate()
			if c.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, c.wantErr)
		})
	}
}

func TestAttributesFingerprintIsOrderInsensitive(t *testing.T) {
	a := Attributes{
		{Key: "host", Value: StringValue("a1")},
		{Key: "region", Value: StringValue("eu")},
	}
	b := Attributes{
		{Key: "region", Value: StringValue("eu")},
		{Key: "host", Value: StringValue("a1")},
	}
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := Attributes{
		{Key: "host", Value: StringValue("a2")},
		{Key: "region", Value: StringValue("eu")},
	}
	require.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestStreamKeySeparatesAttributeSets(t *testing.T) {
	p1 := MetricPoint{Name: "requests", Attributes: Attributes{{Key: "code", Value: StringValue("200")}}}
	p2 := MetricPoint{Name: "requests", Attributes: Attributes{{Key: "code", Value: StringValue("500")}}}
	require.NotEqual(t, p1.StreamKey(), p2.StreamKey())
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindTraces, KindOf[Span]())
	require.Equal(t, KindMetrics, KindOf[MetricPoint]())
	require.Equal(t, KindLogs, KindOf[LogRecord]())
}

func TestBatchMergePreservesOrderAndResource(t *testing.T) {
	res := Resource{Attributes: Attributes{{Key: "service.name", Value: StringValue("web")}}}
	b1 := NewBatch(res, []LogRecord{{Body: "one"}, {Body: "two"}})
	b2 := NewBatch(res, []LogRecord{{Body: "three"}})

	merged := b1.Merge(b2).WithSeq(7)
	require.Equal(t, 3, merged.Len())
	require.Equal(t, "one", merged.Items()[0].Body)
	require.Equal(t, "three", merged.Items()[2].Body)
	require.Equal(t, uint64(7), merged.Seq())
	require.Equal(t, "web", merged.Resource().ServiceName())
}
